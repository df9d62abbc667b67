package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/botgrid/control-plane/internal/api/middleware"
	"github.com/botgrid/control-plane/internal/deploy"
	"github.com/botgrid/control-plane/internal/events"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var statusUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StatusHandler streams deployment status events over WebSocket.
type StatusHandler struct {
	manager *deploy.Manager
	hub     *events.Hub
	logger  *slog.Logger
}

// NewStatusHandler creates a new status stream handler.
func NewStatusHandler(manager *deploy.Manager, hub *events.Hub, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		manager: manager,
		hub:     hub,
		logger:  logger,
	}
}

// statusMessage is the wire format for stream frames.
type statusMessage struct {
	Type      string            `json:"type"`
	Branch    string            `json:"branch"`
	Payload   map[string]string `json:"payload,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Stream handles GET /v1/deployments/{deploymentID}/status/ws. The first
// frame carries the current status; subsequent frames follow the monitor's
// events for the deployment's branch until the client disconnects.
func (h *StatusHandler) Stream(w http.ResponseWriter, r *http.Request) {
	deployment, err := h.manager.Get(r.Context(), chi.URLParam(r, "deploymentID"))
	if err != nil {
		WriteDomainError(w, h.logger, err)
		return
	}
	if !middleware.IsAdmin(r.Context()) && deployment.UserID != middleware.GetUserID(r.Context()) {
		WriteNotFound(w, "Deployment not found")
		return
	}

	conn, err := statusUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade status stream", "deployment_id", deployment.ID, "error", err)
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(deployment.Branch)
	defer h.hub.Unsubscribe(sub)

	h.logger.Debug("status stream opened",
		"deployment_id", deployment.ID,
		"branch", deployment.Branch,
		"subscriber_id", sub.ID,
	)

	// Reader goroutine: the client sends nothing meaningful, but reads are
	// required to surface close frames and connection errors.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	initial := statusMessage{
		Type:      events.TypeStatusUpdate,
		Branch:    deployment.Branch,
		Payload:   map[string]string{"deployment_id": deployment.ID, "status": string(deployment.Status)},
		Timestamp: time.Now().UTC(),
	}
	if err := h.writeMessage(conn, initial); err != nil {
		return
	}

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-sub.Ch:
			if !ok {
				// Hub shut down.
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			msg := statusMessage{
				Type:      event.Type,
				Branch:    event.Branch,
				Payload:   event.Payload,
				Timestamp: event.Timestamp,
			}
			if err := h.writeMessage(conn, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *StatusHandler) writeMessage(conn *websocket.Conn, msg statusMessage) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(msg)
}
