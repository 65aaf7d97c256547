package envelope

import (
	"encoding/hex"
	"fmt"
	"io"
)

// RoomKeySize is the entropy of a generated room key in bytes.
const RoomKeySize = 32

// GenerateRoomKey returns RoomKeySize random bytes, hex encoded.
func GenerateRoomKey() (string, error) {
	b := make([]byte, RoomKeySize)
	if _, err := io.ReadFull(randReader, b); err != nil {
		return "", fmt.Errorf("generate room key: %w", err)
	}
	return hex.EncodeToString(b), nil
}
