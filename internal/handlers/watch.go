package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/clinicdesk/appointment-lock/internal/bus"
	"github.com/clinicdesk/appointment-lock/internal/coordinator"
	"github.com/clinicdesk/appointment-lock/internal/metrics"
	"github.com/clinicdesk/appointment-lock/internal/model"
)

const (
	// writeTimeout bounds a single websocket write.
	writeTimeout = 10 * time.Second

	// pingInterval keeps idle watch connections alive through proxies.
	pingInterval = 30 * time.Second
)

// WatchHandlers bridges the notification bus to WebSocket observers. Each
// connection subscribes to one appointment topic; lock transitions flow
// out, and inbound cursor-position messages from the lock owner are
// applied to the lock and relayed to the other observers.
type WatchHandlers struct {
	coordinator coordinator.LockService
	bus         bus.Bus
	logger      *zap.Logger
	metrics     *metrics.Metrics
	upgrader    websocket.Upgrader
}

// NewWatchHandlers creates a new WatchHandlers instance.
func NewWatchHandlers(c coordinator.LockService, b bus.Bus, logger *zap.Logger, metrics *metrics.Metrics) *WatchHandlers {
	return &WatchHandlers{
		coordinator: c,
		bus:         b,
		logger:      logger,
		metrics:     metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// watchMessage is an inbound frame from a watching client. Only
// cursor-position frames are acted on; anything else is ignored.
type watchMessage struct {
	Type            string         `json:"type"`
	OwnerID         string         `json:"owner_id"`
	Position        model.Position `json:"position"`
	ExpectedVersion *int64         `json:"expected_version,omitempty"`
}

// HandleWatch handles GET /api/v1/appointments/{appointmentID}/watch.
// Delivery to watchers is at-most-once with no replay; a client that
// reconnects must re-fetch the lock status itself.
func (h *WatchHandlers) HandleWatch(w http.ResponseWriter, r *http.Request) {
	appointmentID := chi.URLParam(r, "appointmentID")
	if err := validateID(appointmentID, "Appointment id"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	events, err := h.bus.Subscribe(r.Context(), appointmentID)
	if err != nil {
		h.logger.Error("Failed to subscribe watcher", zap.Error(err))
		http.Error(w, "Notification bus temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own error response.
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		_ = h.bus.Unsubscribe(context.Background(), appointmentID, events)
		return
	}

	h.metrics.WatchersConnected.Inc()
	h.logger.Debug("Watcher connected",
		zap.String("appointment_id", appointmentID),
		zap.String("remote_addr", conn.RemoteAddr().String()),
	)

	defer func() {
		_ = conn.Close()
		h.metrics.WatchersConnected.Dec()
		h.logger.Debug("Watcher disconnected",
			zap.String("appointment_id", appointmentID),
		)
	}()
	// Unsubscribing closes the events channel, which in turn stops the
	// writer goroutine.
	defer func() {
		_ = h.bus.Unsubscribe(context.Background(), appointmentID, events)
	}()

	go h.writeLoop(conn, events)

	h.readLoop(r.Context(), conn, appointmentID)
}

// writeLoop forwards bus events to the connection until the subscription
// channel is closed or a write fails.
func (h *WatchHandlers) writeLoop(conn *websocket.Conn, events <-chan model.Event) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				h.logger.Debug("Watcher write failed", zap.Error(err))
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

// readLoop consumes inbound frames until the connection drops. A
// cursor-position frame from the lock owner extends the lease and is
// relayed to the topic's other watchers.
func (h *WatchHandlers) readLoop(ctx context.Context, conn *websocket.Conn, appointmentID string) {
	for {
		var msg watchMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Watcher read failed", zap.Error(err))
			}
			return
		}

		if msg.Type != string(model.EventCursorPosition) {
			continue
		}
		if validateID(msg.OwnerID, "Owner id") != nil {
			continue
		}

		res, err := h.coordinator.UpdatePosition(ctx, coordinator.PositionRequest{
			AppointmentID:   appointmentID,
			OwnerID:         msg.OwnerID,
			Position:        msg.Position,
			ExpectedVersion: msg.ExpectedVersion,
		})
		if err != nil {
			h.logger.Warn("Cursor update failed", zap.Error(err))
			continue
		}
		if !res.Success {
			// Not the owner, or the lock is gone; nothing to relay.
			continue
		}

		pos := msg.Position
		if err := h.bus.Publish(ctx, appointmentID, model.Event{
			Type:          model.EventCursorPosition,
			AppointmentID: appointmentID,
			Timestamp:     time.Now(),
			OwnerID:       msg.OwnerID,
			Position:      &pos,
		}); err != nil {
			h.logger.Warn("Cursor relay failed", zap.Error(err))
		}
	}
}
