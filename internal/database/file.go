package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/thereayou/ghostroom/internal/models"
)

// AddFile stores rec under the room's file hash.
func (d *Database) AddFile(ctx context.Context, roomID string, rec *models.FileRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode file %s: %w", rec.ID, err)
	}
	if err := d.kv.SetHashField(ctx, filesKey(roomID), rec.ID, string(data)); err != nil {
		return err
	}
	if err := d.kv.Expire(ctx, filesKey(roomID), d.ttl); err != nil {
		return err
	}
	return d.TouchActivity(ctx, roomID)
}

// GetFile loads a stored file record or returns ErrFileNotFound.
func (d *Database) GetFile(ctx context.Context, roomID, fileID string) (*models.FileRecord, error) {
	raw, ok, err := d.kv.GetHashField(ctx, filesKey(roomID), fileID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", roomID, fileID, ErrFileNotFound)
	}

	var rec models.FileRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode file %s: %w", fileID, err)
	}
	return &rec, nil
}
