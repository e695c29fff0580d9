// internal/handlers/events.go
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"

	"github.com/scrylabs/scry-backend/internal/events"
)

const (
	wsWriteTimeout   = 10 * time.Second
	sseHeartbeatTick = 15 * time.Second
)

// EventHandler streams hub events to subscribers. Each connection owns one
// subscription and releases it when the client goes away.
type EventHandler struct {
	hub *events.Hub
}

func NewEventHandler(hub *events.Hub) *EventHandler {
	return &EventHandler{hub: hub}
}

// GET /subscribe
func (h *EventHandler) Stream(c *gin.Context) {
	sub, err := h.hub.Subscribe(c.Request.Context())
	if err != nil {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(sseHeartbeatTick)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return false
			}
			c.Render(-1, sse.Event{Event: ev.Kind, Data: ev})
			return true
		case <-heartbeat.C:
			c.Render(-1, sse.Event{Event: "heartbeat", Data: gin.H{"time": time.Now().UTC()}})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// GET /subscribe/ws
func (h *EventHandler) WebSocket(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// Subscribers only listen; CloseRead handles control frames and cancels
	// ctx once the peer disconnects.
	ctx := conn.CloseRead(c.Request.Context())
	if err := h.streamEvents(ctx, conn); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			logrus.WithError(err).Debug("Event stream ended")
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (h *EventHandler) streamEvents(ctx context.Context, conn *websocket.Conn) error {
	sub, err := h.hub.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
