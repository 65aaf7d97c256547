package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a frame
	writeWait = 10 * time.Second

	// Time allowed to read the next pong
	pongWait = 60 * time.Second

	// Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	defaultMaxMessageSize = 512 * 1024 // 512KB

	sendBufferSize = 256
)

// ClientMessageHandler receives every decoded frame from a client and is
// told once when the connection goes away.
type ClientMessageHandler interface {
	HandleMessage(client *Client, msg *Message) error
	HandleDisconnect(client *Client, rooms []string)
}

// ClientConfig bounds what a single connection may send.
type ClientConfig struct {
	MaxMessageSize int64
	RatePerSecond  float64
	Burst          int
}

// Client is one socket connection. Its ID is the connection id used for
// presence in every room it joins.
type Client struct {
	ID    string
	Conn  *websocket.Conn
	Send  chan []byte
	Rooms map[string]bool
	Hub   *Hub

	mu     sync.RWMutex
	closed bool

	limiter        *rate.Limiter
	maxMessageSize int64
	disconnectOnce sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, cfg ClientConfig) *Client {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &Client{
		ID:             uuid.New().String(),
		Conn:           conn,
		Send:           make(chan []byte, sendBufferSize),
		Rooms:          make(map[string]bool),
		Hub:            hub,
		limiter:        limiter,
		maxMessageSize: cfg.MaxMessageSize,
	}
}

// ReadPump reads frames until the connection fails, then unregisters the
// client and reports the disconnect to handler exactly once.
func (c *Client) ReadPump(handler ClientMessageHandler) {
	log := c.Hub.log.With(zap.String("conn_id", c.ID))

	defer func() {
		rooms := c.GetRooms()
		c.Hub.Unregister(c)
		c.disconnectOnce.Do(func() {
			if handler != nil {
				handler.HandleDisconnect(c, rooms)
			}
		})
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.SendError("", ErrInvalidMessage.Error())
			continue
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.Hub.metrics.RateLimited.Inc()
			c.SendError(msg.AckID, ErrRateLimited.Error())
			continue
		}

		if handler != nil {
			if err := handler.HandleMessage(c, &msg); err != nil {
				log.Debug("message handler failed", zap.String("type", string(msg.Type)), zap.Error(err))
			}
		}
	}
}

// WritePump drains Send onto the connection, one frame per message.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) enqueue(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.Send <- data:
		return nil
	default:
		return ErrClientQueueFull
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// SendMessage queues a server event for this client only.
func (c *Client) SendMessage(msgType MessageType, roomID string, data interface{}) error {
	frame, err := NewFrame(msgType, roomID, data)
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

// Reply answers the request identified by ackID.
func (c *Client) Reply(ackID string, data interface{}) error {
	msg := Message{
		Type:      TypeAck,
		AckID:     ackID,
		Timestamp: time.Now(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		msg.Data = raw
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

type errorBody struct {
	Error string `json:"error"`
}

// SendError answers ackID with an error body. An empty ackID sends a bare
// error event.
func (c *Client) SendError(ackID, errorMsg string) {
	if ackID != "" {
		_ = c.Reply(ackID, errorBody{Error: errorMsg})
		return
	}
	_ = c.SendMessage(TypeError, "", errorBody{Error: errorMsg})
}

func (c *Client) IsInRoom(roomID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Rooms[roomID]
}

func (c *Client) GetRooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rooms := make([]string, 0, len(c.Rooms))
	for roomID := range c.Rooms {
		rooms = append(rooms, roomID)
	}
	return rooms
}
