package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	nanoid "github.com/jaevor/go-nanoid"
)

// MessageKind discriminates the payload variant of a Message.
type MessageKind string

const (
	KindText MessageKind = "text"
	KindFile MessageKind = "file"
)

// Payload is the per-kind body of a message. Implemented by TextPayload and
// FilePayload only.
type Payload interface {
	Kind() MessageKind
}

// TextPayload is a blob encrypted client side; the relay never opens it.
type TextPayload struct {
	Ciphertext string
}

func (TextPayload) Kind() MessageKind { return KindText }

// FilePayload describes a shared file. Content is the client-encrypted data
// for socket-relayed files and empty for uploads, which are fetched over HTTP.
type FilePayload struct {
	ID        string     `json:"id"`
	Filename  string     `json:"filename"`
	MimeType  string     `json:"mimetype"`
	Size      int64      `json:"size,omitempty"`
	Content   string     `json:"content,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Origin    FileOrigin `json:"origin"`
}

func (FilePayload) Kind() MessageKind { return KindFile }

// Message is one entry of a room log. Seq is its 1-based position in the log
// and is filled in by the registry, never serialized into the stored item.
type Message struct {
	ID        string
	UserID    string
	Username  string
	Timestamp time.Time
	Seq       int64
	Payload   Payload
}

// Kind returns the discriminant of the payload, empty when unset.
func (m *Message) Kind() MessageKind {
	if m.Payload == nil {
		return ""
	}
	return m.Payload.Kind()
}

var messageSuffix = mustGenerator("0123456789abcdefghijklmnopqrstuvwxyz", 8)

func mustGenerator(alphabet string, length int) func() string {
	gen, err := nanoid.CustomASCII(alphabet, length)
	if err != nil {
		panic(err)
	}
	return gen
}

// NewMessageID is a millisecond timestamp plus a random suffix.
func NewMessageID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + messageSuffix()
}

// NewTextMessage builds a text log entry.
func NewTextMessage(userID, username, ciphertext string, now time.Time) *Message {
	return &Message{
		ID:        NewMessageID(now),
		UserID:    userID,
		Username:  username,
		Timestamp: now,
		Payload:   TextPayload{Ciphertext: ciphertext},
	}
}

// NewFileMessage builds a file log entry.
func NewFileMessage(userID, username string, file FilePayload, now time.Time) *Message {
	return &Message{
		ID:        NewMessageID(now),
		UserID:    userID,
		Username:  username,
		Timestamp: now,
		Payload:   file,
	}
}

type messageJSON struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Username  string          `json:"username"`
	Timestamp time.Time       `json:"timestamp"`
	Type      MessageKind     `json:"type"`
	Seq       int64           `json:"seq,omitempty"`
	Message   *string         `json:"message,omitempty"`
	File      json.RawMessage `json:"file,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{
		ID:        m.ID,
		UserID:    m.UserID,
		Username:  m.Username,
		Timestamp: m.Timestamp,
		Seq:       m.Seq,
	}
	switch p := m.Payload.(type) {
	case TextPayload:
		out.Type = KindText
		out.Message = &p.Ciphertext
	case FilePayload:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		out.Type = KindFile
		out.File = raw
	default:
		return nil, fmt.Errorf("message %s: unknown payload %T", m.ID, m.Payload)
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts items without a type as text, which is what the
// first generation of the log stored.
func (m *Message) UnmarshalJSON(data []byte) error {
	var in messageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	m.ID = in.ID
	m.UserID = in.UserID
	m.Username = in.Username
	m.Timestamp = in.Timestamp
	m.Seq = in.Seq

	switch in.Type {
	case KindText, "":
		var text string
		if in.Message != nil {
			text = *in.Message
		}
		m.Payload = TextPayload{Ciphertext: text}
	case KindFile:
		var fp FilePayload
		if len(in.File) > 0 {
			if err := json.Unmarshal(in.File, &fp); err != nil {
				return fmt.Errorf("message %s: file payload: %w", in.ID, err)
			}
		}
		m.Payload = fp
	default:
		return fmt.Errorf("message %s: unknown type %q", in.ID, in.Type)
	}
	return nil
}
