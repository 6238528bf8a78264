package router

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"classboard/internal/engagement"
	"classboard/internal/gateway"
	"classboard/internal/question"
	"classboard/internal/room"
	"classboard/internal/signal"
	"classboard/pkg/interfaces"
	"classboard/pkg/types"
)

// FocusStore is the store surface the router writes focus intervals through.
type FocusStore interface {
	AppendFocusLog(ctx context.Context, log *types.FocusLog) error
}

// Router dispatches inbound client envelopes to the owning component. It
// holds no per-room state of its own; rooms, schedulers, and broadcasts all
// live behind the components it calls into.
type Router struct {
	rooms     *room.Registry
	relay     *signal.Relay
	scheduler *engagement.Scheduler
	engine    *question.Engine
	store     FocusStore
	limiter   *RateLimiter

	log *logrus.Entry
}

func NewRouter(rooms *room.Registry, relay *signal.Relay, scheduler *engagement.Scheduler, engine *question.Engine, store FocusStore) *Router {
	return &Router{
		rooms:     rooms,
		relay:     relay,
		scheduler: scheduler,
		engine:    engine,
		store:     store,
		limiter:   NewRateLimiter(chatMessagesPerMinute),
		log:       logrus.WithField("component", "router"),
	}
}

// StartCleanup runs the rate limiter's cleanup loop until done is closed.
func (r *Router) StartCleanup(done <-chan struct{}) {
	go r.limiter.CleanupLoop(done)
}

// Route handles one inbound envelope. Client mistakes produce a scoped error
// event back to the sender; they never terminate the connection.
func (r *Router) Route(ctx context.Context, conn *gateway.Connection, envelope *types.Envelope) {
	switch envelope.Event {
	case types.EventJoinRoom:
		r.handleJoin(conn, envelope.Data)
	case types.EventLeaveRoom:
		r.rooms.Leave(conn.ConnectionID())
	case types.EventChatMessage:
		r.handleChat(conn, envelope.Data)
	case types.EventRaiseHand:
		r.handleRaiseHand(conn)
	case types.EventWebRTCOffer, types.EventWebRTCAnswer, types.EventWebRTCCandidate:
		r.handleSignal(conn, envelope.Event, envelope.Data)
	case types.EventStartEngagement:
		r.handleStartEngagement(conn, envelope.Data)
	case types.EventPopupResponse:
		r.handlePopupResponse(ctx, conn)
	case types.EventBroadcastQuestion:
		r.handleBroadcastQuestion(ctx, conn, envelope.Data)
	case types.EventFocusEvent:
		r.handleFocus(ctx, conn, envelope.Data)
	case types.EventScreenShareStart:
		r.handleScreenShare(conn, types.EventScreenShareStarted)
	case types.EventScreenShareStop:
		r.handleScreenShare(conn, types.EventScreenShareStopped)
	default:
		r.sendError(conn, "unknown event: "+envelope.Event)
	}
}

// Disconnect removes a dropped connection from its room. Safe to call for
// connections that never joined one.
func (r *Router) Disconnect(conn *gateway.Connection) {
	r.rooms.Leave(conn.ConnectionID())
}

func (r *Router) handleJoin(conn *gateway.Connection, data json.RawMessage) {
	var payload types.JoinRoomPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		r.sendError(conn, "malformed join payload")
		return
	}
	if !types.IsValidRoomID(payload.RoomID) {
		r.sendError(conn, "invalid room id")
		return
	}

	// A connection belongs to at most one room; joining another leaves the
	// first.
	if conn.RoomID() != "" {
		r.rooms.Leave(conn.ConnectionID())
	}
	r.rooms.Join(payload.RoomID, conn)

	r.log.WithFields(logrus.Fields{
		"connection_id": conn.ConnectionID(),
		"user_id":       conn.UserID(),
		"room_id":       payload.RoomID,
	}).Info("joined room")
}

func (r *Router) handleChat(conn *gateway.Connection, data json.RawMessage) {
	var payload types.ChatPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		r.sendError(conn, "malformed chat payload")
		return
	}
	if err := payload.Validate(); err != nil {
		r.sendError(conn, err.Error())
		return
	}
	roomID, ok := r.requireRoom(conn, payload.RoomID)
	if !ok {
		return
	}
	if !r.limiter.Allow(conn.UserID()) {
		r.sendError(conn, "rate limit exceeded")
		return
	}

	r.rooms.Publish(roomID, types.EventChatMessage, types.ChatMessage{
		ID:          uuid.New().String(),
		UserID:      conn.UserID(),
		DisplayName: conn.DisplayName(),
		Role:        conn.Role(),
		Message:     payload.Message,
		Timestamp:   time.Now().UnixMilli(),
	})
}

func (r *Router) handleRaiseHand(conn *gateway.Connection) {
	roomID := conn.RoomID()
	if roomID == "" {
		r.sendError(conn, "not in a room")
		return
	}
	r.rooms.Publish(roomID, types.EventHandRaised, types.HandRaised{
		UserID:      conn.UserID(),
		DisplayName: conn.DisplayName(),
	})
}

func (r *Router) handleSignal(conn *gateway.Connection, kind string, data json.RawMessage) {
	var payload types.SignalPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		r.sendError(conn, "malformed signal payload")
		return
	}
	if payload.TargetConnectionID == "" {
		r.sendError(conn, "missing target connection id")
		return
	}
	r.relay.Forward(kind, conn, payload.TargetConnectionID, payload.Payload)
}

func (r *Router) handleStartEngagement(conn *gateway.Connection, data json.RawMessage) {
	if conn.Role() != types.RoleTeacher {
		r.sendError(conn, "only teachers can start engagement tracking")
		return
	}
	var payload types.RoomScopedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		r.sendError(conn, "malformed payload")
		return
	}
	roomID, ok := r.requireRoom(conn, payload.RoomID)
	if !ok {
		return
	}
	r.scheduler.Start(roomID)
}

func (r *Router) handlePopupResponse(ctx context.Context, conn *gateway.Connection) {
	roomID := conn.RoomID()
	if roomID == "" {
		return
	}
	r.scheduler.Respond(ctx, roomID, conn.UserID())
}

func (r *Router) handleBroadcastQuestion(ctx context.Context, conn *gateway.Connection, data json.RawMessage) {
	if conn.Role() != types.RoleTeacher {
		r.sendError(conn, "only teachers can broadcast questions")
		return
	}
	var payload types.BroadcastQuestionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		r.sendError(conn, "malformed payload")
		return
	}
	roomID, ok := r.requireRoom(conn, payload.RoomID)
	if !ok {
		return
	}
	if err := r.engine.Broadcast(ctx, payload.QuestionID, roomID); err != nil {
		switch {
		case errors.Is(err, interfaces.ErrQuestionNotFound):
			r.sendError(conn, "question not found")
		case errors.Is(err, question.ErrAlreadyBroadcast):
			r.sendError(conn, "question already broadcast")
		default:
			r.log.WithError(err).WithField("question_id", payload.QuestionID).Error("broadcast failed")
			r.sendError(conn, "failed to broadcast question")
		}
	}
}

func (r *Router) handleFocus(ctx context.Context, conn *gateway.Connection, data json.RawMessage) {
	// Teacher visibility changes carry no scoring signal.
	if conn.Role() != types.RoleStudent {
		return
	}
	var payload types.FocusPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		r.sendError(conn, "malformed focus payload")
		return
	}
	if err := payload.Validate(); err != nil {
		r.sendError(conn, err.Error())
		return
	}
	roomID, ok := r.requireRoom(conn, payload.RoomID)
	if !ok {
		return
	}

	err := r.store.AppendFocusLog(ctx, &types.FocusLog{
		ID:              uuid.New().String(),
		RoomID:          roomID,
		StudentID:       conn.UserID(),
		Kind:            payload.Kind,
		DurationSeconds: payload.DurationSeconds,
	})
	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"user_id": conn.UserID(),
			"room_id": roomID,
		}).Warn("failed to append focus log")
	}
}

func (r *Router) handleScreenShare(conn *gateway.Connection, outEvent string) {
	roomID := conn.RoomID()
	if roomID == "" {
		r.sendError(conn, "not in a room")
		return
	}
	r.rooms.PublishExcept(roomID, outEvent, types.ScreenShareNotice{
		ConnectionID: conn.ConnectionID(),
		UserID:       conn.UserID(),
		DisplayName:  conn.DisplayName(),
	}, conn.ConnectionID())
}

// requireRoom resolves the room an event applies to: the connection must be
// a member, and a payload-supplied room id must match the membership.
func (r *Router) requireRoom(conn *gateway.Connection, payloadRoomID string) (string, bool) {
	roomID := conn.RoomID()
	if roomID == "" {
		r.sendError(conn, "not in a room")
		return "", false
	}
	if payloadRoomID != "" && payloadRoomID != roomID {
		r.sendError(conn, "room mismatch")
		return "", false
	}
	return roomID, true
}

func (r *Router) sendError(conn *gateway.Connection, message string) {
	err := conn.WriteJSON(types.Outbound{
		Event: types.EventError,
		Data:  types.ErrorNotice{Message: message},
	})
	if err != nil {
		r.log.WithError(err).WithField("connection_id", conn.ConnectionID()).Debug("failed to send error notice")
	}
}
