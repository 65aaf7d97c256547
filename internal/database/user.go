package database

import (
	"context"

	"github.com/thereayou/ghostroom/internal/models"
)

// AddUser records connID as present under name, renews the presence key and
// then the rest of the room.
func (d *Database) AddUser(ctx context.Context, roomID, connID, name string) error {
	if err := d.kv.SetHashField(ctx, usersKey(roomID), connID, name); err != nil {
		return err
	}
	if err := d.kv.Expire(ctx, usersKey(roomID), d.ttl); err != nil {
		return err
	}
	return d.TouchActivity(ctx, roomID)
}

// RemoveUser drops connID from presence and reports whether it was there.
// Leaving is not activity, so no TTL is renewed; an emptied room stays until
// it expires on its own.
func (d *Database) RemoveUser(ctx context.Context, roomID, connID string) (bool, error) {
	return d.kv.DeleteHashField(ctx, usersKey(roomID), connID)
}

// UserName returns the display name connID joined with, if present.
func (d *Database) UserName(ctx context.Context, roomID, connID string) (string, bool, error) {
	return d.kv.GetHashField(ctx, usersKey(roomID), connID)
}

// ListUsers returns the roster in store enumeration order, which is not
// insertion order.
func (d *Database) ListUsers(ctx context.Context, roomID string) ([]models.Presence, error) {
	data, err := d.kv.GetHash(ctx, usersKey(roomID))
	if err != nil {
		return nil, err
	}
	users := make([]models.Presence, 0, len(data))
	for id, name := range data {
		users = append(users, models.Presence{ID: id, Username: name})
	}
	return users, nil
}
