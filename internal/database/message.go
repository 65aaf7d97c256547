package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/thereayou/ghostroom/internal/models"
	"go.uber.org/zap"
)

// AppendMessage appends msg to the room log and sets msg.Seq to its
// position. The stored item never carries Seq.
func (d *Database) AppendMessage(ctx context.Context, roomID string, msg *models.Message) error {
	stored := *msg
	stored.Seq = 0
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", msg.ID, err)
	}

	n, err := d.kv.AppendListItem(ctx, messagesKey(roomID), string(data))
	if err != nil {
		return err
	}
	msg.Seq = n

	if err := d.kv.Expire(ctx, messagesKey(roomID), d.ttl); err != nil {
		return err
	}
	return d.TouchActivity(ctx, roomID)
}

// ListMessages replays the whole log oldest first. Items that fail to decode
// are skipped and logged; their position still counts towards Seq.
func (d *Database) ListMessages(ctx context.Context, roomID string) ([]*models.Message, error) {
	items, err := d.kv.ListRange(ctx, messagesKey(roomID), 0, -1)
	if err != nil {
		return nil, err
	}

	msgs := make([]*models.Message, 0, len(items))
	for i, item := range items {
		var m models.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			d.log.Warn("skipping undecodable message",
				zap.String("room_id", roomID), zap.Int("index", i), zap.Error(err))
			continue
		}
		m.Seq = int64(i + 1)
		msgs = append(msgs, &m)
	}
	return msgs, nil
}
