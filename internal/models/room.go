package models

import "time"

// Room is the stored header of a room. EncryptionKey is handed to members
// and never used by the server for relayed messages.
type Room struct {
	ID            string    `json:"id"`
	EncryptionKey string    `json:"encryptionKey"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Presence is one live connection joined to a room.
type Presence struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}
