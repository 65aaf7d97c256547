package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
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
	defaultMimeType = "application/octet-stream"

	DefaultMaxUploadBytes int64 = 10 << 20

	// room for the multipart framing and the other form fields
	multipartOverhead = 1 << 20
)

// FileHandler serves the HTTP side of file sharing. Uploaded bytes are
// sealed with the room key before they reach the store and are opened again
// only on download.
type FileHandler struct {
	db       services.RoomRegistry
	hub      *websocket.Hub
	log      *zap.Logger
	metrics  *metrics.Metrics
	maxBytes int64
	timeout  time.Duration
	now      func() time.Time
}

func NewFileHandler(db services.RoomRegistry, hub *websocket.Hub, maxBytes int64, log *zap.Logger, m *metrics.Metrics) *FileHandler {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &FileHandler{
		db:       db,
		hub:      hub,
		log:      log,
		metrics:  m,
		maxBytes: maxBytes,
		timeout:  defaultOpTimeout,
		now:      time.Now,
	}
}

// opContext outlives the request, so a client that hangs up mid-upload does
// not strand a stored file without its log entry.
func (h *FileHandler) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.timeout)
}

func (h *FileHandler) tooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, dto.UploadResponse{Error: "File too large"})
}

func (h *FileHandler) failed(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, dto.UploadResponse{Error: "Failed to upload file"})
}

// detectMimeType trusts the declared part type unless it is missing or the
// generic binary type, in which case the content is sniffed.
func detectMimeType(declared string, data []byte) string {
	if declared != "" && declared != defaultMimeType {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt
		}
	}
	mt := mimetype.Detect(data).String()
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	if mt == "" {
		return defaultMimeType
	}
	return mt
}

// Upload handles POST /upload (multipart: file, roomId, username?, userId?).
func (h *FileHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartOverhead)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.tooLarge(c)
			return
		}
		c.JSON(http.StatusBadRequest, dto.UploadResponse{Error: "No file provided"})
		return
	}
	defer file.Close()

	if header.Size > h.maxBytes {
		h.tooLarge(c)
		return
	}

	roomID := normalizeRoomID(c.PostForm("roomId"))
	if roomID == "" {
		c.JSON(http.StatusBadRequest, dto.UploadResponse{Error: "roomId is required"})
		return
	}

	ctx, cancel := h.opContext()
	defer cancel()
	log := h.log.With(zap.String("room_id", roomID))

	room, err := h.db.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, database.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, dto.UploadResponse{Error: errRoomNotFound})
			return
		}
		h.metrics.StoreErrors.WithLabelValues("get_room").Inc()
		log.Error("upload: load room", zap.Error(err))
		h.failed(c)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	if err != nil {
		log.Error("upload: read file", zap.Error(err))
		h.failed(c)
		return
	}
	if int64(len(data)) > h.maxBytes {
		h.tooLarge(c)
		return
	}

	sealed, err := envelope.Encrypt(data, room.EncryptionKey)
	if err != nil {
		log.Error("upload: encrypt", zap.Error(err))
		h.failed(c)
		return
	}

	now := h.now()
	rec := &models.FileRecord{
		ID:         uuid.New().String(),
		RoomID:     roomID,
		Filename:   filepath.Base(header.Filename),
		MimeType:   detectMimeType(header.Header.Get("Content-Type"), data),
		Size:       int64(len(data)),
		Envelope:   sealed,
		UploadedAt: now,
	}
	if err := h.db.AddFile(ctx, roomID, rec); err != nil {
		h.metrics.StoreErrors.WithLabelValues("add_file").Inc()
		log.Error("upload: store file", zap.Error(err))
		h.failed(c)
		return
	}

	message := models.NewFileMessage(
		strings.TrimSpace(c.PostForm("userId")),
		displayName(c.PostForm("username"), anonymousName),
		models.FilePayload{
			ID:        rec.ID,
			Filename:  rec.Filename,
			MimeType:  rec.MimeType,
			Size:      rec.Size,
			Timestamp: now,
			Origin:    models.OriginServer,
		},
		now,
	)
	if err := h.db.AppendMessage(ctx, roomID, message); err != nil {
		h.metrics.StoreErrors.WithLabelValues("append_message").Inc()
		log.Error("upload: append message", zap.Error(err))
		h.failed(c)
		return
	}

	if frame, err := websocket.NewFrame(websocket.TypeNewMessage, roomID, message); err == nil {
		h.hub.SendToRoom(roomID, frame)
	}
	if frame, err := websocket.NewFrame(websocket.TypeFileShared, roomID, rec.Shared()); err == nil {
		h.hub.SendToRoom(roomID, frame)
	}

	h.metrics.FilesUploaded.Inc()
	h.metrics.MessagesRelayed.WithLabelValues(string(models.KindFile)).Inc()
	log.Info("file uploaded", zap.String("file_id", rec.ID), zap.Int64("size", rec.Size))

	c.JSON(http.StatusOK, dto.UploadResponse{Success: true, FileID: rec.ID})
}

// Download handles GET /files/:roomId/:fileId.
func (h *FileHandler) Download(c *gin.Context) {
	roomID := normalizeRoomID(c.Param("roomId"))
	fileID := c.Param("fileId")

	ctx := c.Request.Context()
	log := h.log.With(zap.String("room_id", roomID), zap.String("file_id", fileID))

	room, err := h.db.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, database.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: errRoomNotFound})
			return
		}
		h.metrics.StoreErrors.WithLabelValues("get_room").Inc()
		log.Error("download: load room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to download file"})
		return
	}

	rec, err := h.db.GetFile(ctx, roomID, fileID)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "File not found"})
			return
		}
		h.metrics.StoreErrors.WithLabelValues("get_file").Inc()
		log.Error("download: load file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to download file"})
		return
	}

	raw, err := envelope.Decrypt(rec.Envelope, room.EncryptionKey)
	if err != nil {
		h.metrics.DecryptFailures.Inc()
		log.Error("download: decrypt", zap.Error(err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to decrypt file"})
		return
	}

	contentType := rec.MimeType
	if contentType == "" {
		contentType = defaultMimeType
	}
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": rec.Filename})
	if disposition == "" {
		disposition = "attachment"
	}

	h.metrics.FilesDownloaded.Inc()
	c.Header("Content-Disposition", disposition)
	c.Header("Content-Length", strconv.Itoa(len(raw)))
	c.Data(http.StatusOK, contentType, raw)
}
