package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thereayou/ghostroom/internal/models"
	"github.com/thereayou/ghostroom/internal/store"
)

func setupTestDatabase(t *testing.T) (*Database, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewDatabase(store.NewRedisStore(client, nil), DefaultTTL, nil), mr
}

func TestNewDatabaseDefaults(t *testing.T) {
	d := NewDatabase(nil, 0, nil)
	assert.Equal(t, 24*time.Hour, d.TTL())
	assert.NotNil(t, d.log)
}

func TestRoomKeys(t *testing.T) {
	assert.Equal(t,
		[]string{"room:AB12CD", "room:AB12CD:users", "messages:AB12CD", "files:AB12CD"},
		RoomKeys("AB12CD"))
}

func TestCreateAndGetRoom(t *testing.T) {
	d, mr := setupTestDatabase(t)
	ctx := context.Background()
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	room, err := d.CreateRoom(ctx, "ABC123", "secret-key")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", room.ID)

	got, err := d.GetRoom(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "secret-key", got.EncryptionKey)
	assert.True(t, fixed.Equal(got.CreatedAt))

	assert.Equal(t, DefaultTTL, mr.TTL("room:ABC123"))
}

func TestCreateRoom_KeyIsImmutable(t *testing.T) {
	d, _ := setupTestDatabase(t)
	ctx := context.Background()

	_, err := d.CreateRoom(ctx, "ABC123", "first")
	require.NoError(t, err)

	_, err = d.CreateRoom(ctx, "ABC123", "second")
	assert.ErrorIs(t, err, ErrRoomExists)

	got, err := d.GetRoom(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "first", got.EncryptionKey)
}

func TestCreateRoom_ConcurrentSameID(t *testing.T) {
	d, _ := setupTestDatabase(t)
	ctx := context.Background()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := d.CreateRoom(ctx, "SAME01", fmt.Sprintf("key-%d", i)); err == nil {
				atomic.AddInt32(&wins, 1)
			} else {
				assert.ErrorIs(t, err, ErrRoomExists)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestGetRoom_NotFound(t *testing.T) {
	d, _ := setupTestDatabase(t)

	_, err := d.GetRoom(context.Background(), "NOPE00")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestPresence(t *testing.T) {
	d, mr := setupTestDatabase(t)
	ctx := context.Background()

	_, err := d.CreateRoom(ctx, "ROOM01", "k")
	require.NoError(t, err)

	require.NoError(t, d.AddUser(ctx, "ROOM01", "c1", "Alice"))
	require.NoError(t, d.AddUser(ctx, "ROOM01", "c2", "Bob"))
	assert.Equal(t, DefaultTTL, mr.TTL("room:ROOM01:users"))

	users, err := d.ListUsers(ctx, "ROOM01")
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.Presence{{ID: "c1", Username: "Alice"}, {ID: "c2", Username: "Bob"}}, users)

	name, ok, err := d.UserName(ctx, "ROOM01", "c2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Bob", name)

	removed, err := d.RemoveUser(ctx, "ROOM01", "c1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = d.RemoveUser(ctx, "ROOM01", "c1")
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = d.RemoveUser(ctx, "ROOM01", "never-joined")
	require.NoError(t, err)
	assert.False(t, removed)

	users, err = d.ListUsers(ctx, "ROOM01")
	require.NoError(t, err)
	assert.Equal(t, []models.Presence{{ID: "c2", Username: "Bob"}}, users)
}

func TestRemoveUser_DoesNotRenew(t *testing.T) {
	d, mr := setupTestDatabase(t)
	ctx := context.Background()

	_, err := d.CreateRoom(ctx, "ROOM01", "k")
	require.NoError(t, err)
	require.NoError(t, d.AddUser(ctx, "ROOM01", "c1", "Alice"))
	require.NoError(t, d.AddUser(ctx, "ROOM01", "c2", "Bob"))

	mr.FastForward(time.Hour)
	_, err = d.RemoveUser(ctx, "ROOM01", "c1")
	require.NoError(t, err)

	assert.Equal(t, 23*time.Hour, mr.TTL("room:ROOM01"))
	assert.Equal(t, 23*time.Hour, mr.TTL("room:ROOM01:users"))
}

func TestMessages_AppendOrder(t *testing.T) {
	d, mr := setupTestDatabase(t)
	ctx := context.Background()

	_, err := d.CreateRoom(ctx, "ROOM01", "k")
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 25; i++ {
		msg := models.NewTextMessage("c1", "Alice", fmt.Sprintf("blob-%02d", i), now)
		require.NoError(t, d.AppendMessage(ctx, "ROOM01", msg))
		assert.Equal(t, int64(i+1), msg.Seq)
	}
	assert.Equal(t, DefaultTTL, mr.TTL("messages:ROOM01"))

	msgs, err := d.ListMessages(ctx, "ROOM01")
	require.NoError(t, err)
	require.Len(t, msgs, 25)
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.Seq)
		assert.Equal(t, models.TextPayload{Ciphertext: fmt.Sprintf("blob-%02d", i)}, m.Payload)
	}
}

func TestMessages_SkipsCorruptItems(t *testing.T) {
	d, mr := setupTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, d.AppendMessage(ctx, "ROOM01", models.NewTextMessage("c1", "A", "one", time.Now())))
	_, err := mr.Push("messages:ROOM01", "not json")
	require.NoError(t, err)
	require.NoError(t, d.AppendMessage(ctx, "ROOM01", models.NewTextMessage("c1", "A", "three", time.Now())))

	msgs, err := d.ListMessages(ctx, "ROOM01")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(1), msgs[0].Seq)
	assert.Equal(t, int64(3), msgs[1].Seq)
}

func TestFiles(t *testing.T) {
	d, mr := setupTestDatabase(t)
	ctx := context.Background()

	rec := &models.FileRecord{
		ID:         "file-1",
		RoomID:     "ROOM01",
		Filename:   "a.bin",
		MimeType:   "application/octet-stream",
		Size:       10,
		Envelope:   `{"iv":"00","content":"","mac":""}`,
		UploadedAt: time.Now().UTC(),
	}
	require.NoError(t, d.AddFile(ctx, "ROOM01", rec))
	assert.Equal(t, DefaultTTL, mr.TTL("files:ROOM01"))

	got, err := d.GetFile(ctx, "ROOM01", "file-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Filename, got.Filename)
	assert.Equal(t, rec.Envelope, got.Envelope)

	_, err = d.GetFile(ctx, "ROOM01", "file-2")
	assert.ErrorIs(t, err, ErrFileNotFound)
	_, err = d.GetFile(ctx, "OTHER1", "file-1")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestTouchActivity_RenewsAllKeysTogether(t *testing.T) {
	d, mr := setupTestDatabase(t)
	ctx := context.Background()

	_, err := d.CreateRoom(ctx, "ROOM01", "k")
	require.NoError(t, err)
	require.NoError(t, d.AddUser(ctx, "ROOM01", "c1", "Alice"))
	require.NoError(t, d.AppendMessage(ctx, "ROOM01", models.NewTextMessage("c1", "Alice", "x", time.Now())))
	require.NoError(t, d.AddFile(ctx, "ROOM01", &models.FileRecord{ID: "f1", RoomID: "ROOM01"}))

	mr.FastForward(6 * time.Hour)

	before := make(map[string]time.Duration)
	for _, k := range RoomKeys("ROOM01") {
		before[k] = mr.TTL(k)
		require.Equal(t, 18*time.Hour, before[k], k)
	}

	require.NoError(t, d.TouchActivity(ctx, "ROOM01"))

	for _, k := range RoomKeys("ROOM01") {
		ttl, err := d.Store().TTL(ctx, k)
		require.NoError(t, err)
		assert.Greater(t, ttl, before[k], k)
		assert.Equal(t, DefaultTTL, ttl, k)
	}
}

func TestMutationsTouchWholeRoom(t *testing.T) {
	d, mr := setupTestDatabase(t)
	ctx := context.Background()

	_, err := d.CreateRoom(ctx, "ROOM01", "k")
	require.NoError(t, err)
	require.NoError(t, d.AddUser(ctx, "ROOM01", "c1", "Alice"))
	require.NoError(t, d.AddFile(ctx, "ROOM01", &models.FileRecord{ID: "f1", RoomID: "ROOM01"}))

	mr.FastForward(20 * time.Hour)
	require.NoError(t, d.AppendMessage(ctx, "ROOM01", models.NewTextMessage("c1", "Alice", "late", time.Now())))

	for _, k := range RoomKeys("ROOM01") {
		assert.Equal(t, DefaultTTL, mr.TTL(k), k)
	}
}

func TestEmptyRoomPersistsUntilExpiry(t *testing.T) {
	d, mr := setupTestDatabase(t)
	ctx := context.Background()

	_, err := d.CreateRoom(ctx, "ROOM01", "k")
	require.NoError(t, err)
	require.NoError(t, d.AddUser(ctx, "ROOM01", "c1", "Alice"))
	require.NoError(t, d.AppendMessage(ctx, "ROOM01", models.NewTextMessage("c1", "Alice", "hi", time.Now())))
	_, err = d.RemoveUser(ctx, "ROOM01", "c1")
	require.NoError(t, err)

	state, err := d.LoadRoomState(ctx, "ROOM01")
	require.NoError(t, err)
	assert.Empty(t, state.Users)
	assert.Len(t, state.Messages, 1)

	mr.FastForward(DefaultTTL + time.Second)

	_, err = d.GetRoom(ctx, "ROOM01")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	for _, k := range RoomKeys("ROOM01") {
		assert.False(t, mr.Exists(k), k)
	}
}

func TestLoadRoomState(t *testing.T) {
	d, _ := setupTestDatabase(t)
	ctx := context.Background()

	_, err := d.LoadRoomState(ctx, "NOPE00")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = d.CreateRoom(ctx, "ROOM01", "k")
	require.NoError(t, err)
	require.NoError(t, d.AddUser(ctx, "ROOM01", "c1", "Alice"))
	require.NoError(t, d.AppendMessage(ctx, "ROOM01", models.NewTextMessage("c1", "Alice", "hi", time.Now())))

	state, err := d.LoadRoomState(ctx, "ROOM01")
	require.NoError(t, err)
	assert.Equal(t, "k", state.Room.EncryptionKey)
	assert.Len(t, state.Messages, 1)
	assert.Equal(t, []models.Presence{{ID: "c1", Username: "Alice"}}, state.Users)
}

func TestStoreUnavailablePropagates(t *testing.T) {
	d, mr := setupTestDatabase(t)
	ctx := context.Background()

	mr.SetError("ERR backend is down")

	_, err := d.CreateRoom(ctx, "ROOM01", "k")
	assert.True(t, errors.Is(err, store.ErrStoreUnavailable))

	_, err = d.GetRoom(ctx, "ROOM01")
	assert.True(t, errors.Is(err, store.ErrStoreUnavailable))
	assert.False(t, errors.Is(err, ErrRoomNotFound))

	err = d.AppendMessage(ctx, "ROOM01", models.NewTextMessage("c1", "A", "x", time.Now()))
	assert.True(t, errors.Is(err, store.ErrStoreUnavailable))
}

// flakyStore fails selected calls and passes the rest through.
type flakyStore struct {
	store.KeyValueStore
	failField  string
	failExpire bool
}

var errInjected = fmt.Errorf("injected: %w", store.ErrStoreUnavailable)

func (f *flakyStore) SetHashField(ctx context.Context, key, field, value string) error {
	if field == f.failField {
		return errInjected
	}
	return f.KeyValueStore.SetHashField(ctx, key, field, value)
}

func (f *flakyStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if f.failExpire {
		return errInjected
	}
	return f.KeyValueStore.Expire(ctx, key, ttl)
}

func TestCreateRoom_PartialFailureStillExpires(t *testing.T) {
	d, mr := setupTestDatabase(t)
	d.kv = &flakyStore{KeyValueStore: d.kv, failField: fieldCreatedAt}

	_, err := d.CreateRoom(context.Background(), "HALF01", "k")
	require.ErrorIs(t, err, store.ErrStoreUnavailable)

	require.True(t, mr.Exists("room:HALF01"))
	assert.Equal(t, DefaultTTL, mr.TTL("room:HALF01"))

	mr.FastForward(DefaultTTL + time.Second)
	_, err = d.GetRoom(context.Background(), "HALF01")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestCreateRoom_ExpireFailureLeavesNoRoom(t *testing.T) {
	d, mr := setupTestDatabase(t)
	d.kv = &flakyStore{KeyValueStore: d.kv, failExpire: true}

	_, err := d.CreateRoom(context.Background(), "HALF02", "k")
	require.ErrorIs(t, err, store.ErrStoreUnavailable)

	assert.False(t, mr.Exists("room:HALF02"))
	_, err = d.GetRoom(context.Background(), "HALF02")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}
