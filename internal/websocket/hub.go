package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/thereayou/ghostroom/internal/metrics"
	"go.uber.org/zap"
)

// MessageType names a socket event.
type MessageType string

const (
	// client -> server
	TypeCreateRoom  MessageType = "create_room"
	TypeJoinRoom    MessageType = "join_room"
	TypeLeaveRoom   MessageType = "leave_room"
	TypeSendMessage MessageType = "send_message"
	TypeFileMessage MessageType = "file_message"

	// server -> client
	TypeAck        MessageType = "ack"
	TypeError      MessageType = "error"
	TypeUserJoined MessageType = "user_joined"
	TypeUserLeft   MessageType = "user_left"
	TypeNewMessage MessageType = "new_message"
	TypeFileShared MessageType = "file_shared"
)

// Message is the frame exchanged in both directions. AckID ties a callback
// reply to the request that asked for it.
type Message struct {
	Type      MessageType     `json:"type"`
	AckID     string          `json:"ack_id,omitempty"`
	RoomID    string          `json:"room_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewFrame encodes a server frame with data as its body.
func NewFrame(msgType MessageType, roomID string, data interface{}) ([]byte, error) {
	msg := Message{
		Type:      msgType,
		RoomID:    roomID,
		Timestamp: time.Now(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}

// Hub is the socket-to-room subscription table. It carries no room data;
// everything authoritative lives in the store.
type Hub struct {
	clients map[string]*Client

	// roomID -> connID -> client
	rooms map[string]map[string]*Client

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	log     *zap.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHub(log *zap.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Run processes registrations until Stop is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)
		}
	}
}

// Stop ends Run and closes every remaining connection.
func (h *Hub) Stop(ctx context.Context) error {
	h.cancel()

	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, client := range h.clients {
		client.close()
		if client.Conn != nil {
			_ = client.Conn.Close()
		}
		delete(h.clients, id)
	}
	h.rooms = make(map[string]map[string]*Client)
	h.metrics.ActiveConnections.Set(0)
	h.log.Info("hub stopped")
	return nil
}

// Register hands a new client to the hub loop.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister hands a departing client to the hub loop.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

func (h *Hub) registerClient(client *Client) {
	if client == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
	h.metrics.ActiveConnections.Set(float64(len(h.clients)))
	h.log.Debug("client registered", zap.String("conn_id", client.ID), zap.Int("clients", len(h.clients)))
}

// unregisterClient drops the client from every room group and closes its
// queue. Presence cleanup in the store is the dispatcher's job.
func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	for _, roomID := range client.GetRooms() {
		h.removeFromRoomUnsafe(client, roomID)
	}
	delete(h.clients, client.ID)
	client.close()

	h.metrics.ActiveConnections.Set(float64(len(h.clients)))
	h.log.Debug("client unregistered", zap.String("conn_id", client.ID), zap.Int("clients", len(h.clients)))
}

// JoinRoom subscribes client to roomID's broadcast group.
func (h *Hub) JoinRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[string]*Client)
	}
	h.rooms[roomID][client.ID] = client

	client.mu.Lock()
	client.Rooms[roomID] = true
	client.mu.Unlock()
}

// LeaveRoom unsubscribes client from roomID.
func (h *Hub) LeaveRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromRoomUnsafe(client, roomID)
}

func (h *Hub) removeFromRoomUnsafe(client *Client, roomID string) {
	if room, ok := h.rooms[roomID]; ok {
		delete(room, client.ID)
		if len(room) == 0 {
			delete(h.rooms, roomID)
		}
	}
	client.mu.Lock()
	delete(client.Rooms, roomID)
	client.mu.Unlock()
}

// SendToRoom delivers message to every subscriber of roomID.
func (h *Hub) SendToRoom(roomID string, message []byte) {
	h.SendToRoomExcept(roomID, message, "")
}

// SendToRoomExcept delivers message to every subscriber but excludeID. A
// subscriber with a full queue misses this frame; nobody else is affected.
func (h *Hub) SendToRoomExcept(roomID string, message []byte, excludeID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, client := range h.rooms[roomID] {
		if id == excludeID {
			continue
		}
		if err := client.enqueue(message); err != nil {
			h.log.Warn("dropping frame", zap.String("conn_id", id), zap.String("room_id", roomID), zap.Error(err))
		}
	}
}

// RoomMembers returns the connection ids subscribed to roomID.
func (h *Hub) RoomMembers(roomID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.rooms[roomID]))
	for id := range h.rooms[roomID] {
		ids = append(ids, id)
	}
	return ids
}

// ClientCount is the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
