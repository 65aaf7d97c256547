package database

import (
	"time"

	"github.com/thereayou/ghostroom/internal/store"
	"go.uber.org/zap"
)

// DefaultTTL is how long a room survives without activity.
const DefaultTTL = 24 * time.Hour

// Database is the room registry: every room resource lives in the
// key-value store under keys derived from the room id, and all of them
// expire together unless renewed.
type Database struct {
	kv  store.KeyValueStore
	ttl time.Duration
	log *zap.Logger
	now func() time.Time
}

func NewDatabase(kv store.KeyValueStore, ttl time.Duration, log *zap.Logger) *Database {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Database{kv: kv, ttl: ttl, log: log, now: time.Now}
}

// TTL is the inactivity window applied to every room key.
func (d *Database) TTL() time.Duration {
	return d.ttl
}

// Store exposes the underlying adapter for health checks.
func (d *Database) Store() store.KeyValueStore {
	return d.kv
}

func roomKey(roomID string) string     { return "room:" + roomID }
func usersKey(roomID string) string    { return "room:" + roomID + ":users" }
func messagesKey(roomID string) string { return "messages:" + roomID }
func filesKey(roomID string) string    { return "files:" + roomID }

// RoomKeys lists the four independently expiring keys of a room.
func RoomKeys(roomID string) []string {
	return []string{roomKey(roomID), usersKey(roomID), messagesKey(roomID), filesKey(roomID)}
}
