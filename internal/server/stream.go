package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/basketwire/backend/internal/realtime"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	streamBufferSize  = 16
	heartbeatInterval = 30 * time.Second

	sseEventMessage   = "message"
	sseEventPresence  = "presence"
	sseEventHeartbeat = "heartbeat"
)

type streamMetadata struct {
	DisplayName string    `json:"displayName,omitempty"`
	Email       string    `json:"email,omitempty"`
	Avatar      string    `json:"avatar,omitempty"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// handleRealtimeStream bridges a hub channel onto a server-sent-event
// response. The HTTP client joins the channel's presence for the lifetime of
// the request; published messages and presence snapshots stream out as SSE
// events. Slow consumers lose events rather than blocking the hub.
func (h *httpHandler) handleRealtimeStream(c *gin.Context) {
	user := h.currentUser(c)
	if user.ID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	channelName := strings.TrimSpace(c.Query("channel"))
	if channelName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_channel"})
		return
	}

	metadata, err := json.Marshal(streamMetadata{
		DisplayName: user.Name(),
		Email:       user.Email,
		Avatar:      user.Avatar,
		JoinedAt:    time.Now().UTC(),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stream_failed"})
		return
	}

	messages := make(chan realtime.Message, streamBufferSize)
	presence := make(chan []realtime.PresenceEntry, streamBufferSize)

	handle := h.hub.Channel(channelName)
	handle.OnMessage(func(message realtime.Message) {
		select {
		case messages <- message:
		default:
		}
	})
	handle.OnPresence(func(entries []realtime.PresenceEntry) {
		select {
		case presence <- entries:
		default:
		}
	})

	if err := handle.Subscribe(c.Request.Context(), realtime.Subscription{
		UserID:   user.ID,
		Metadata: metadata,
	}); err != nil {
		h.logger.Warn("stream subscribe failed",
			zap.String("channel", channelName),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stream_failed"})
		return
	}
	defer func() {
		if err := handle.Unsubscribe(context.Background()); err != nil {
			h.logger.Warn("stream unsubscribe failed", zap.Error(err))
		}
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	done := c.Request.Context().Done()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-done:
			return false
		case message := <-messages:
			c.SSEvent(sseEventMessage, message)
			return true
		case entries := <-presence:
			c.SSEvent(sseEventPresence, entries)
			return true
		case <-heartbeat.C:
			c.SSEvent(sseEventHeartbeat, time.Now().UTC().Unix())
			return true
		}
	})
}

type publishPayload struct {
	Channel string          `json:"channel"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// handleRealtimePublish relays an event published over HTTP into the hub.
func (h *httpHandler) handleRealtimePublish(c *gin.Context) {
	user := h.currentUser(c)
	if user.ID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request publishPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.Channel) == "" ||
		strings.TrimSpace(request.Topic) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.hub.Publish(c.Request.Context(), request.Channel, request.Topic, request.Payload); err != nil {
		h.logger.Error("realtime publish failed",
			zap.String("channel", request.Channel),
			zap.String("topic", request.Topic),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "publish_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"published": true})
}

func newRowID() string {
	value, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return value.String()
}
