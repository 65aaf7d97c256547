package services

import (
	"context"

	"github.com/thereayou/ghostroom/internal/database"
	"github.com/thereayou/ghostroom/internal/models"
)

// RoomRegistry is what the socket and HTTP handlers need from room storage.
// *database.Database implements it.
type RoomRegistry interface {
	CreateRoom(ctx context.Context, roomID, encryptionKey string) (*models.Room, error)
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	LoadRoomState(ctx context.Context, roomID string) (*database.RoomState, error)

	AddUser(ctx context.Context, roomID, connID, name string) error
	RemoveUser(ctx context.Context, roomID, connID string) (bool, error)
	UserName(ctx context.Context, roomID, connID string) (string, bool, error)

	AppendMessage(ctx context.Context, roomID string, msg *models.Message) error

	AddFile(ctx context.Context, roomID string, rec *models.FileRecord) error
	GetFile(ctx context.Context, roomID, fileID string) (*models.FileRecord, error)
}

var _ RoomRegistry = (*database.Database)(nil)
