package dto

import (
	"github.com/thereayou/ghostroom/internal/models"
)

// CreateRoomPayload is the body of create_room.
type CreateRoomPayload struct {
	Username string `json:"username,omitempty"`
}

type CreateRoomResponse struct {
	Success bool   `json:"success"`
	RoomID  string `json:"roomId,omitempty"`
	RoomKey string `json:"roomKey,omitempty"`
	Error   string `json:"error,omitempty"`
}

type JoinRoomPayload struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

// JoinRoomResponse carries the full replay. Failures are answered with
// SimpleResponse instead.
type JoinRoomResponse struct {
	Success  bool              `json:"success"`
	Messages []*models.Message `json:"messages"`
	RoomKey  string            `json:"roomKey"`
	Users    []models.Presence `json:"users"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

// SimpleResponse is the ack for events with nothing else to report.
type SimpleResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SendMessagePayload is the body of send_message. EncryptedMessage is opaque.
type SendMessagePayload struct {
	RoomID           string `json:"roomId"`
	EncryptedMessage string `json:"encryptedMessage"`
	Username         string `json:"username"`
	Type             string `json:"type,omitempty"`
}

// FileData is a client-encrypted file carried inline in file_message.
type FileData struct {
	ID       string `json:"id,omitempty"`
	Filename string `json:"filename"`
	MimeType string `json:"mimetype"`
	Size     int64  `json:"size"`
	Content  string `json:"content"`
}

type FileMessagePayload struct {
	RoomID   string   `json:"roomId"`
	FileData FileData `json:"fileData"`
	Username string   `json:"username"`
}

// PresenceEvent is the body of user_joined and user_left.
type PresenceEvent struct {
	Message  string `json:"message"`
	Username string `json:"username"`
	UserID   string `json:"userId"`
}
