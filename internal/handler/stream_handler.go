package handler

import (
	"encoding/json"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/eventhub-booking/internal/broadcast"
	"github.com/prohmpiriya/eventhub-booking/internal/service"
	"github.com/prohmpiriya/eventhub-booking/pkg/logger"
	"go.uber.org/zap"
)

const defaultHeartbeat = 15 * time.Second

// StreamHandler serves live availability over Server-Sent Events
type StreamHandler struct {
	hub          *broadcast.Hub
	reservations service.ReservationService
	heartbeat    time.Duration
}

// NewStreamHandler creates a new stream handler. heartbeat <= 0 uses 15s.
func NewStreamHandler(hub *broadcast.Hub, reservations service.ReservationService, heartbeat time.Duration) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &StreamHandler{hub: hub, reservations: reservations, heartbeat: heartbeat}
}

// StreamAvailability handles GET /events/:id/stream.
// Opening the stream joins the event channel and closing it leaves.
func (h *StreamHandler) StreamAvailability(c *gin.Context) {
	eventID := c.Param("id")
	ctx := c.Request.Context()

	// the authoritative count first, so a late joiner does not wait for the next change
	snapshot, err := h.reservations.GetAvailability(ctx, eventID)
	if err != nil {
		handleError(c, err)
		return
	}

	sub, leave := h.hub.Subscribe(eventID)
	defer leave()

	logger.Get().Debug("stream opened", zap.String("event_id", eventID))
	defer func() {
		logger.Get().Debug("stream closed",
			zap.String("event_id", eventID),
			zap.Int64("dropped", sub.Dropped()),
		)
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent(broadcast.TypeSeatsUpdated, broadcast.SeatsUpdated(eventID, snapshot.AvailableSeats))
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case payload, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent(messageType(payload), json.RawMessage(payload))
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
}

func messageType(payload []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil || head.Type == "" {
		return "message"
	}
	return head.Type
}
