package models

import "time"

// FileOrigin records who encrypted a file payload.
type FileOrigin string

const (
	// OriginClient payloads arrive already encrypted by the sender.
	OriginClient FileOrigin = "client"
	// OriginServer payloads were encrypted by the upload endpoint.
	OriginServer FileOrigin = "server"
)

// FileRecord is a stored blob: metadata plus the serialized envelope.
type FileRecord struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"roomId"`
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mimetype"`
	Size       int64     `json:"size"`
	Envelope   string    `json:"envelope"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Shared is the metadata announced to a room once a file is stored.
func (f *FileRecord) Shared() FileShared {
	return FileShared{
		ID:        f.ID,
		Filename:  f.Filename,
		MimeType:  f.MimeType,
		Timestamp: f.UploadedAt,
	}
}

// FileShared is the body of a file_shared event.
type FileShared struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	MimeType  string    `json:"mimetype"`
	Timestamp time.Time `json:"timestamp"`
}
