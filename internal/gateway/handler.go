package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"classboard/internal/auth"
	"classboard/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is deferred to the deployment's reverse proxy.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// EventRouter dispatches inbound client envelopes. Defined here so the
// gateway does not depend on the router package.
type EventRouter interface {
	Route(ctx context.Context, conn *Connection, envelope *types.Envelope)
	Disconnect(conn *Connection)
}

// Handler authenticates and upgrades real-time connections, then pumps
// inbound messages into the event router.
type Handler struct {
	registry *Registry
	verifier *auth.Verifier
	router   EventRouter

	pingInterval time.Duration
	readTimeout  time.Duration
	bufferSize   int

	log *logrus.Entry
}

func NewHandler(registry *Registry, verifier *auth.Verifier, router EventRouter, pingInterval, readTimeout time.Duration, bufferSize int) *Handler {
	return &Handler{
		registry:     registry,
		verifier:     verifier,
		router:       router,
		pingInterval: pingInterval,
		readTimeout:  readTimeout,
		bufferSize:   bufferSize,
		log:          logrus.WithField("component", "gateway"),
	}
}

// HandleWebSocket authenticates the identity token, upgrades the socket, and
// runs the connection lifecycle. A failed authentication terminates the
// attempt immediately; there are no retries.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		h.log.WithError(err).Debug("rejected connection attempt")
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	conn := NewConnection(ws, uuid.New().String(), identity, h.bufferSize)

	if err := h.registry.Register(conn); err != nil {
		h.log.WithError(err).Error("connection registration failed")
		_ = conn.Close()
		return
	}

	logCtx := h.log.WithFields(logrus.Fields{
		"connection_id": conn.ConnectionID(),
		"user_id":       identity.UserID,
		"role":          identity.Role,
	})
	logCtx.Info("connected")

	// Clients learn their own connection ID here; signaling peers address
	// each other by it.
	if err := conn.WriteJSON(types.Outbound{
		Event: types.EventConnected,
		Data: types.ConnectedNotice{
			ConnectionID: conn.ConnectionID(),
			UserID:       identity.UserID,
			DisplayName:  identity.DisplayName,
			Role:         identity.Role,
		},
	}); err != nil {
		logCtx.WithError(err).Warn("failed to send connected notice")
	}

	go h.handleConnection(conn, logCtx)
}

// handleConnection owns the read side of the socket and the heartbeat. On
// exit it fires the disconnected lifecycle: room leave, registry removal,
// socket close.
func (h *Handler) handleConnection(conn *Connection, logCtx *logrus.Entry) {
	defer func() {
		h.router.Disconnect(conn)
		h.registry.Unregister(conn)
		_ = conn.Close()
		logCtx.Info("disconnected")
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.readTimeout)); err != nil {
		logCtx.WithError(err).Warn("failed to set read deadline")
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logCtx.WithError(err).Debug("read error")
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var envelope types.Envelope
		if err := json.Unmarshal(data, &envelope); err != nil || envelope.Event == "" {
			_ = conn.WriteJSON(types.Outbound{
				Event: types.EventError,
				Data:  types.ErrorNotice{Message: "malformed message envelope"},
			})
			continue
		}

		h.router.Route(conn.ctx, conn, &envelope)
	}
}
