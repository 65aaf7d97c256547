package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thereayou/ghostroom/internal/handlers"
)

type Handlers struct {
	Health    *handlers.HealthHandler
	Files     *handlers.FileHandler
	WebSocket *handlers.WebSocketHandler
	Metrics   http.Handler
	RateLimit gin.HandlerFunc
}

func APIEndpoints(r *gin.Engine, h Handlers) {
	r.GET("/", h.Health.Root)
	r.GET("/health", h.Health.Health)
	r.GET("/metrics", gin.WrapH(h.Metrics))

	r.GET("/ws", h.WebSocket.HandleWebSocket)

	// File endpoints
	files := r.Group("/", h.RateLimit)
	{
		files.POST("/upload", h.Files.Upload)
		files.GET("/files/:roomId/:fileId", h.Files.Download)
	}
}
