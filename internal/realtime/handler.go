package realtime

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/blackmichael/drops-backend/internal/domain"
	"github.com/blackmichael/drops-backend/internal/metrics"
	"github.com/gorilla/websocket"
)

// JoinChecker reports whether a user may join a conversation topic.
type JoinChecker func(ctx context.Context, conversationID, userID string) (bool, error)

// Handler upgrades authenticated HTTP requests to realtime connections.
type Handler struct {
	hub      *Hub
	canJoin  JoinChecker
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewHandler creates a Handler.
func NewHandler(hub *Hub, canJoin JoinChecker, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		hub:     hub,
		canJoin: canJoin,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Mobile clients send no Origin header; auth is by token.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		metrics: m,
	}
}

// Serve upgrades the request and runs the connection for userID until it
// closes. The socket is subscribed to the user's own topic on connect.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(userID, conn, h.hub, h.canJoin, h.logger)
	h.hub.Join(domain.UserTopic(userID), c)

	h.metrics.ConnectionOpened()
	defer h.metrics.ConnectionClosed()
	h.logger.Debug("realtime client connected", "user_id", userID)

	go c.writePump()
	c.readPump(r.Context())
}
