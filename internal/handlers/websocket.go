package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	ws "github.com/thereayou/ghostroom/internal/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler upgrades /ws requests and starts the client pumps.
type WebSocketHandler struct {
	hub          *ws.Hub
	relay        *RelayHandler
	clientConfig ws.ClientConfig
	upgrader     websocket.Upgrader
	log          *zap.Logger

	allowAll bool
	allowed  map[string]struct{}
}

func NewWebSocketHandler(hub *ws.Hub, relay *RelayHandler, origins []string, cfg ws.ClientConfig, log *zap.Logger) *WebSocketHandler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &WebSocketHandler{
		hub:          hub,
		relay:        relay,
		clientConfig: cfg,
		log:          log,
		allowed:      make(map[string]struct{}),
	}
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if origin == "*" {
			h.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(origin)
		if !ok {
			log.Warn("ignoring invalid origin in configuration", zap.String("origin", origin))
			continue
		}
		h.allowed[normalized] = struct{}{}
	}
	if len(origins) == 0 {
		h.allowAll = true
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.allowAll {
		return true
	}
	header := r.Header.Get("Origin")
	if normalized, ok := normalizeOrigin(header); ok {
		if _, exists := h.allowed[normalized]; exists {
			return true
		}
	}
	h.log.Warn("blocked websocket connection from disallowed origin", zap.String("origin", header))
	return false
}

// HandleWebSocket serves GET /ws.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := ws.NewClient(h.hub, conn, h.clientConfig)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump(h.relay)
}
