package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	nanoid "github.com/jaevor/go-nanoid"
	"github.com/thereayou/ghostroom/internal/database"
	"github.com/thereayou/ghostroom/internal/handlers/dto"
	"github.com/thereayou/ghostroom/internal/metrics"
	"github.com/thereayou/ghostroom/internal/models"
	"github.com/thereayou/ghostroom/internal/services"
	"github.com/thereayou/ghostroom/internal/websocket"
	"github.com/thereayou/ghostroom/pkg/envelope"
	"go.uber.org/zap"
)

const (
	roomIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	roomIDLength   = 6

	// create_room gives up after this many id collisions
	maxCreateAttempts = 5

	defaultOpTimeout = 5 * time.Second

	anonymousName = "Anonymous"
	departedName  = "Someone"

	errRoomNotFound    = "Room not found"
	errInvalidRequest  = "invalid request"
	errOperationFailed = "operation failed"
)

// RelayHandler turns socket events into registry calls and room
// broadcasts. It keeps no room state of its own.
type RelayHandler struct {
	db      services.RoomRegistry
	hub     *websocket.Hub
	log     *zap.Logger
	metrics *metrics.Metrics

	timeout    time.Duration
	newRoomID  func() string
	newRoomKey func() (string, error)
	now        func() time.Time
}

func NewRelayHandler(db services.RoomRegistry, hub *websocket.Hub, log *zap.Logger, m *metrics.Metrics) *RelayHandler {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	gen, err := nanoid.CustomASCII(roomIDAlphabet, roomIDLength)
	if err != nil {
		panic(err)
	}
	return &RelayHandler{
		db:         db,
		hub:        hub,
		log:        log,
		metrics:    m,
		timeout:    defaultOpTimeout,
		newRoomID:  gen,
		newRoomKey: envelope.GenerateRoomKey,
		now:        time.Now,
	}
}

// opContext is detached from the connection: a client that drops mid-event
// does not cancel the store writes already under way.
func (h *RelayHandler) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.timeout)
}

func normalizeRoomID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

func displayName(name, fallback string) string {
	if name = strings.TrimSpace(name); name == "" {
		return fallback
	}
	return name
}

func decode(msg *websocket.Message, v interface{}) error {
	if len(msg.Data) == 0 {
		return websocket.ErrInvalidMessage
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return fmt.Errorf("%w: %v", websocket.ErrInvalidMessage, err)
	}
	return nil
}

func (h *RelayHandler) storeFailure(op string, err error, fields ...zap.Field) {
	h.metrics.StoreErrors.WithLabelValues(op).Inc()
	h.log.Error("store operation failed", append(fields, zap.String("op", op), zap.Error(err))...)
}

func (h *RelayHandler) HandleMessage(client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypeCreateRoom:
		return h.createRoom(client, msg)

	case websocket.TypeJoinRoom:
		return h.joinRoom(client, msg)

	case websocket.TypeLeaveRoom:
		return h.leaveRoom(client, msg)

	case websocket.TypeSendMessage:
		return h.sendMessage(client, msg)

	case websocket.TypeFileMessage:
		return h.fileMessage(client, msg)

	default:
		client.SendError(msg.AckID, websocket.ErrUnknownEvent.Error())
		return fmt.Errorf("%w: %q", websocket.ErrUnknownEvent, msg.Type)
	}
}

func (h *RelayHandler) createRoom(client *websocket.Client, msg *websocket.Message) error {
	var payload dto.CreateRoomPayload
	if len(msg.Data) > 0 {
		if err := decode(msg, &payload); err != nil {
			_ = client.Reply(msg.AckID, dto.CreateRoomResponse{Error: errInvalidRequest})
			return err
		}
	}

	ctx, cancel := h.opContext()
	defer cancel()

	key, err := h.newRoomKey()
	if err != nil {
		h.log.Error("generate room key", zap.Error(err))
		_ = client.Reply(msg.AckID, dto.CreateRoomResponse{Error: errOperationFailed})
		return err
	}

	var room *models.Room
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		room, err = h.db.CreateRoom(ctx, h.newRoomID(), key)
		if !errors.Is(err, database.ErrRoomExists) {
			break
		}
		h.log.Debug("room id collision", zap.Int("attempt", attempt+1))
	}
	if err != nil {
		h.storeFailure("create_room", err, zap.String("conn_id", client.ID))
		_ = client.Reply(msg.AckID, dto.CreateRoomResponse{Error: errOperationFailed})
		return err
	}

	if err := h.db.AddUser(ctx, room.ID, client.ID, displayName(payload.Username, anonymousName)); err != nil {
		h.storeFailure("add_user", err, zap.String("room_id", room.ID))
		_ = client.Reply(msg.AckID, dto.CreateRoomResponse{Error: errOperationFailed})
		return err
	}
	h.hub.JoinRoom(client, room.ID)
	h.metrics.RoomsCreated.Inc()

	h.log.Info("room created", zap.String("room_id", room.ID), zap.String("conn_id", client.ID))

	return client.Reply(msg.AckID, dto.CreateRoomResponse{
		Success: true,
		RoomID:  room.ID,
		RoomKey: room.EncryptionKey,
	})
}

// joinRoom checks the room before touching presence, so a join that fails
// leaves nothing behind.
func (h *RelayHandler) joinRoom(client *websocket.Client, msg *websocket.Message) error {
	var payload dto.JoinRoomPayload
	if err := decode(msg, &payload); err != nil {
		_ = client.Reply(msg.AckID, dto.SimpleResponse{Error: errInvalidRequest})
		return err
	}
	roomID := normalizeRoomID(payload.RoomID)
	if roomID == "" {
		_ = client.Reply(msg.AckID, dto.SimpleResponse{Error: errInvalidRequest})
		return websocket.ErrInvalidMessage
	}

	ctx, cancel := h.opContext()
	defer cancel()

	if _, err := h.db.GetRoom(ctx, roomID); err != nil {
		if errors.Is(err, database.ErrRoomNotFound) {
			_ = client.Reply(msg.AckID, dto.SimpleResponse{Error: errRoomNotFound})
			return err
		}
		h.storeFailure("get_room", err, zap.String("room_id", roomID))
		_ = client.Reply(msg.AckID, dto.SimpleResponse{Error: errOperationFailed})
		return err
	}

	username := displayName(payload.Username, anonymousName)
	if err := h.db.AddUser(ctx, roomID, client.ID, username); err != nil {
		h.storeFailure("add_user", err, zap.String("room_id", roomID))
		_ = client.Reply(msg.AckID, dto.SimpleResponse{Error: errOperationFailed})
		return err
	}
	h.hub.JoinRoom(client, roomID)

	state, err := h.db.LoadRoomState(ctx, roomID)
	if err != nil {
		h.hub.LeaveRoom(client, roomID)
		if _, rerr := h.db.RemoveUser(ctx, roomID, client.ID); rerr != nil {
			h.log.Warn("rollback presence", zap.String("room_id", roomID), zap.Error(rerr))
		}
		if errors.Is(err, database.ErrRoomNotFound) {
			_ = client.Reply(msg.AckID, dto.SimpleResponse{Error: errRoomNotFound})
			return err
		}
		h.storeFailure("load_room_state", err, zap.String("room_id", roomID))
		_ = client.Reply(msg.AckID, dto.SimpleResponse{Error: errOperationFailed})
		return err
	}

	resp := dto.JoinRoomResponse{
		Success:  true,
		Messages: state.Messages,
		RoomKey:  state.Room.EncryptionKey,
		Users:    state.Users,
	}
	if resp.Messages == nil {
		resp.Messages = []*models.Message{}
	}
	if resp.Users == nil {
		resp.Users = []models.Presence{}
	}
	if err := client.Reply(msg.AckID, resp); err != nil {
		return err
	}
	h.metrics.RoomJoins.Inc()

	frame, err := websocket.NewFrame(websocket.TypeUserJoined, roomID, dto.PresenceEvent{
		Message:  username + " has joined the room",
		Username: username,
		UserID:   client.ID,
	})
	if err != nil {
		return err
	}
	h.hub.SendToRoomExcept(roomID, frame, client.ID)
	return nil
}

func (h *RelayHandler) leaveRoom(client *websocket.Client, msg *websocket.Message) error {
	var payload dto.LeaveRoomPayload
	if err := decode(msg, &payload); err != nil {
		_ = client.Reply(msg.AckID, dto.SimpleResponse{Error: errInvalidRequest})
		return err
	}
	roomID := normalizeRoomID(payload.RoomID)

	ctx, cancel := h.opContext()
	defer cancel()

	if err := h.departRoom(ctx, client, roomID); err != nil {
		h.storeFailure("leave_room", err, zap.String("room_id", roomID))
		_ = client.Reply(msg.AckID, dto.SimpleResponse{Error: errOperationFailed})
		return err
	}
	return client.Reply(msg.AckID, dto.SimpleResponse{Success: true})
}

// sendMessage and fileMessage are fire-and-forget: a missing room or a
// store failure drops the message without telling the sender.
func (h *RelayHandler) sendMessage(client *websocket.Client, msg *websocket.Message) error {
	var payload dto.SendMessagePayload
	if err := decode(msg, &payload); err != nil {
		return err
	}
	if payload.Type != "" && payload.Type != string(models.KindText) {
		return fmt.Errorf("%w: message type %q", websocket.ErrInvalidMessage, payload.Type)
	}

	message := models.NewTextMessage(
		client.ID,
		displayName(payload.Username, anonymousName),
		payload.EncryptedMessage,
		h.now(),
	)
	return h.relay(normalizeRoomID(payload.RoomID), message)
}

func (h *RelayHandler) fileMessage(client *websocket.Client, msg *websocket.Message) error {
	var payload dto.FileMessagePayload
	if err := decode(msg, &payload); err != nil {
		return err
	}
	fd := payload.FileData
	if fd.Filename == "" || fd.Content == "" {
		return fmt.Errorf("%w: file data incomplete", websocket.ErrInvalidMessage)
	}

	now := h.now()
	if fd.ID == "" {
		fd.ID = uuid.New().String()
	}
	if fd.MimeType == "" {
		fd.MimeType = defaultMimeType
	}

	message := models.NewFileMessage(client.ID, displayName(payload.Username, anonymousName), models.FilePayload{
		ID:        fd.ID,
		Filename:  fd.Filename,
		MimeType:  fd.MimeType,
		Size:      fd.Size,
		Content:   fd.Content,
		Timestamp: now,
		Origin:    models.OriginClient,
	}, now)
	return h.relay(normalizeRoomID(payload.RoomID), message)
}

// relay appends message to roomID's log and broadcasts it to every member,
// the sender included.
func (h *RelayHandler) relay(roomID string, message *models.Message) error {
	if roomID == "" {
		return websocket.ErrInvalidMessage
	}

	ctx, cancel := h.opContext()
	defer cancel()

	if _, err := h.db.GetRoom(ctx, roomID); err != nil {
		if !errors.Is(err, database.ErrRoomNotFound) {
			h.storeFailure("get_room", err, zap.String("room_id", roomID))
		}
		return err
	}
	if err := h.db.AppendMessage(ctx, roomID, message); err != nil {
		h.storeFailure("append_message", err, zap.String("room_id", roomID))
		return err
	}

	frame, err := websocket.NewFrame(websocket.TypeNewMessage, roomID, message)
	if err != nil {
		return err
	}
	h.hub.SendToRoom(roomID, frame)
	h.metrics.MessagesRelayed.WithLabelValues(string(message.Kind())).Inc()
	return nil
}

// HandleDisconnect releases presence in every room the connection had
// joined. A failure in one room does not stop the others.
func (h *RelayHandler) HandleDisconnect(client *websocket.Client, rooms []string) {
	ctx, cancel := h.opContext()
	defer cancel()

	for _, roomID := range rooms {
		if err := h.departRoom(ctx, client, roomID); err != nil {
			h.storeFailure("disconnect", err, zap.String("room_id", roomID), zap.String("conn_id", client.ID))
		}
	}
	h.log.Debug("client disconnected", zap.String("conn_id", client.ID), zap.Int("rooms", len(rooms)))
}

// departRoom unsubscribes client and drops its presence. user_left goes out
// only when a presence entry was actually removed and someone is still
// subscribed, so repeating it is harmless.
func (h *RelayHandler) departRoom(ctx context.Context, client *websocket.Client, roomID string) error {
	h.hub.LeaveRoom(client, roomID)

	name, ok, err := h.db.UserName(ctx, roomID, client.ID)
	if err != nil {
		return err
	}
	removed, err := h.db.RemoveUser(ctx, roomID, client.ID)
	if err != nil {
		return err
	}
	if !removed || len(h.hub.RoomMembers(roomID)) == 0 {
		return nil
	}
	if !ok || name == "" {
		name = departedName
	}

	frame, err := websocket.NewFrame(websocket.TypeUserLeft, roomID, dto.PresenceEvent{
		Message:  name + " has left the room",
		Username: name,
		UserID:   client.ID,
	})
	if err != nil {
		return err
	}
	h.hub.SendToRoom(roomID, frame)
	return nil
}
