package database

import (
	"context"
	"fmt"
	"time"

	"github.com/thereayou/ghostroom/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	fieldEncryptionKey = "encryptionKey"
	fieldCreatedAt     = "createdAt"
)

// CreateRoom registers a room with its key. The key is written with a
// set-if-absent so an existing room's key can never be replaced; a taken id
// returns ErrRoomExists.
func (d *Database) CreateRoom(ctx context.Context, roomID, encryptionKey string) (*models.Room, error) {
	ok, err := d.kv.SetHashFieldNX(ctx, roomKey(roomID), fieldEncryptionKey, encryptionKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", roomID, ErrRoomExists)
	}
	// the room key must carry a TTL before anything else can fail
	if err := d.kv.Expire(ctx, roomKey(roomID), d.ttl); err != nil {
		if _, derr := d.kv.DeleteHashField(ctx, roomKey(roomID), fieldEncryptionKey); derr != nil {
			d.log.Error("room key left without expiry", zap.String("room_id", roomID), zap.Error(derr))
		}
		return nil, err
	}

	createdAt := d.now().UTC()
	if err := d.kv.SetHashField(ctx, roomKey(roomID), fieldCreatedAt, createdAt.Format(time.RFC3339Nano)); err != nil {
		return nil, err
	}
	if err := d.TouchActivity(ctx, roomID); err != nil {
		return nil, err
	}

	return &models.Room{ID: roomID, EncryptionKey: encryptionKey, CreatedAt: createdAt}, nil
}

// GetRoom loads the room header or returns ErrRoomNotFound.
func (d *Database) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	data, err := d.kv.GetHash(ctx, roomKey(roomID))
	if err != nil {
		return nil, err
	}
	key, ok := data[fieldEncryptionKey]
	if !ok || key == "" {
		return nil, fmt.Errorf("%s: %w", roomID, ErrRoomNotFound)
	}

	room := &models.Room{ID: roomID, EncryptionKey: key}
	if raw := data[fieldCreatedAt]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			room.CreatedAt = t
		} else {
			d.log.Warn("unparseable room createdAt", zap.String("room_id", roomID), zap.String("value", raw))
		}
	}
	return room, nil
}

// TouchActivity pushes the expiry of all four room keys out to a full TTL in
// one round trip. Renewing only some of them would let, say, the message log
// expire while presence survives, leaving a room that exists with no history.
// Keys not created yet are skipped by the store.
func (d *Database) TouchActivity(ctx context.Context, roomID string) error {
	return d.kv.ExpireMany(ctx, d.ttl, RoomKeys(roomID)...)
}

// RoomState is everything a joiner receives.
type RoomState struct {
	Room     *models.Room
	Messages []*models.Message
	Users    []models.Presence
}

// LoadRoomState reads the room header, then the log and roster in parallel.
func (d *Database) LoadRoomState(ctx context.Context, roomID string) (*RoomState, error) {
	room, err := d.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	state := &RoomState{Room: room}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		msgs, err := d.ListMessages(gctx, roomID)
		state.Messages = msgs
		return err
	})
	g.Go(func() error {
		users, err := d.ListUsers(gctx, roomID)
		state.Users = users
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return state, nil
}
