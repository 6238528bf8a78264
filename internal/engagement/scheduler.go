package engagement

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"classboard/pkg/types"
)

// RoomView exposes the membership snapshot the scheduler samples when a
// popup fires.
type RoomView interface {
	StudentIDs(roomID string) []string
}

// Publisher delivers room-scoped events.
type Publisher interface {
	Publish(roomID string, event string, data interface{})
}

// PopupStore is the store surface the scheduler writes through.
type PopupStore interface {
	AppendPopupLog(ctx context.Context, log *types.PopupLog) error
	MarkPopupResponded(ctx context.Context, popupID, studentID string) error
}

type sessionState int

const (
	stateScheduled sessionState = iota // timer armed, waiting to fire
	stateAwaiting                      // popup live, collecting responses
	stateStopped                       // room emptied, session dead
)

// Scheduler runs one attendance-check loop per room: a randomized delay, a
// popup with a short response window, then a fresh delay, until the room
// empties. At most one live timer exists per room at any instant.
type Scheduler struct {
	mu       sync.RWMutex
	sessions map[string]*session

	rooms    RoomView
	pub      Publisher
	store    PopupStore
	minDelay time.Duration
	maxDelay time.Duration
	deadline time.Duration

	log *logrus.Entry
}

// session is the per-room state machine. Its own mutex serializes the
// timer callbacks against respond/stop; sessions for different rooms never
// share a lock.
type session struct {
	roomID string

	mu    sync.Mutex
	state sessionState
	timer *time.Timer
	gen   int // bumped on every re-arm and on stop; stale callbacks bail out
	cycle *popupCycle
}

type popupCycle struct {
	popupID   string
	startedAt time.Time
	pending   map[string]bool
	responded map[string]bool
}

func NewScheduler(rooms RoomView, pub Publisher, store PopupStore, minDelay, maxDelay, deadline time.Duration) *Scheduler {
	return &Scheduler{
		sessions: make(map[string]*session),
		rooms:    rooms,
		pub:      pub,
		store:    store,
		minDelay: minDelay,
		maxDelay: maxDelay,
		deadline: deadline,
		log:      logrus.WithField("component", "engagement"),
	}
}

// Start arms the first randomized timer for a room. Idempotent: a second
// start while a session is already running is a no-op.
func (s *Scheduler) Start(roomID string) {
	s.mu.Lock()
	if _, running := s.sessions[roomID]; running {
		s.mu.Unlock()
		return
	}
	sess := &session{roomID: roomID, state: stateScheduled}
	s.sessions[roomID] = sess
	s.mu.Unlock()

	sess.mu.Lock()
	s.armLocked(sess, s.randomDelay(), s.firePopup)
	sess.mu.Unlock()

	s.log.WithField("room_id", roomID).Info("engagement started")
}

// Stop cancels any live timer and kills the session. Called when the last
// participant leaves the room.
func (s *Scheduler) Stop(roomID string) {
	s.mu.Lock()
	sess := s.sessions[roomID]
	delete(s.sessions, roomID)
	s.mu.Unlock()

	if sess == nil {
		return
	}

	sess.mu.Lock()
	sess.gen++
	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}
	sess.state = stateStopped
	sess.cycle = nil
	sess.mu.Unlock()

	s.log.WithField("room_id", roomID).Info("engagement stopped")
}

// Respond moves a user from pending to responded for the active cycle.
// Responses after the deadline, duplicates, and responses with no active
// cycle are all no-ops, not errors.
func (s *Scheduler) Respond(ctx context.Context, roomID, userID string) {
	s.mu.RLock()
	sess := s.sessions[roomID]
	s.mu.RUnlock()
	if sess == nil {
		return
	}

	sess.mu.Lock()
	if sess.state != stateAwaiting || sess.cycle == nil || !sess.cycle.pending[userID] {
		sess.mu.Unlock()
		return
	}
	delete(sess.cycle.pending, userID)
	sess.cycle.responded[userID] = true
	popupID := sess.cycle.popupID
	sess.mu.Unlock()

	// Coordination state above is authoritative; a failed log write only
	// leaves the analytics view temporarily incomplete.
	if err := s.store.MarkPopupResponded(ctx, popupID, userID); err != nil {
		s.log.WithFields(logrus.Fields{
			"room_id": roomID,
			"user_id": userID,
		}).WithError(err).Warn("failed to mark popup responded")
	}
}

// armLocked replaces the session timer. Callers hold sess.mu. The generation
// capture lets a fired-but-not-yet-run callback detect it has been
// superseded by a re-arm or a stop.
func (s *Scheduler) armLocked(sess *session, delay time.Duration, fn func(sess *session, gen int)) {
	sess.gen++
	gen := sess.gen
	sess.timer = time.AfterFunc(delay, func() { fn(sess, gen) })
}

// firePopup opens a new cycle: snapshot current membership as the pending
// set, broadcast the popup, and log one pending record per student.
func (s *Scheduler) firePopup(sess *session, gen int) {
	sess.mu.Lock()
	if sess.gen != gen || sess.state != stateScheduled {
		sess.mu.Unlock()
		return
	}

	students := s.rooms.StudentIDs(sess.roomID)
	if len(students) == 0 {
		// Nobody to ask right now; try again after a fresh delay.
		s.armLocked(sess, s.randomDelay(), s.firePopup)
		sess.mu.Unlock()
		return
	}

	cycle := &popupCycle{
		popupID:   uuid.New().String(),
		startedAt: time.Now(),
		pending:   make(map[string]bool, len(students)),
		responded: make(map[string]bool),
	}
	for _, id := range students {
		cycle.pending[id] = true
	}
	sess.cycle = cycle
	sess.state = stateAwaiting
	s.armLocked(sess, s.deadline, s.closeCycle)
	sess.mu.Unlock()

	s.pub.Publish(sess.roomID, types.EventEngagementPopup, types.PopupNotice{
		PopupID:         cycle.popupID,
		DeadlineSeconds: int(s.deadline / time.Second),
	})

	ctx := context.Background()
	for _, studentID := range students {
		err := s.store.AppendPopupLog(ctx, &types.PopupLog{
			ID:        uuid.New().String(),
			PopupID:   cycle.popupID,
			RoomID:    sess.roomID,
			StudentID: studentID,
			Responded: false,
		})
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"room_id":    sess.roomID,
				"student_id": studentID,
			}).WithError(err).Warn("failed to append popup log")
		}
	}

	s.log.WithFields(logrus.Fields{
		"room_id":  sess.roomID,
		"popup_id": cycle.popupID,
		"pending":  len(students),
	}).Info("popup fired")
}

// closeCycle ends the response window. Unresponded entries stay logged as
// not-responded; the loop re-arms with a freshly drawn delay.
func (s *Scheduler) closeCycle(sess *session, gen int) {
	sess.mu.Lock()
	if sess.gen != gen || sess.state != stateAwaiting {
		sess.mu.Unlock()
		return
	}

	cycle := sess.cycle
	sess.cycle = nil
	sess.state = stateScheduled
	s.armLocked(sess, s.randomDelay(), s.firePopup)
	sess.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"room_id":     sess.roomID,
		"popup_id":    cycle.popupID,
		"responded":   len(cycle.responded),
		"unresponded": len(cycle.pending),
	}).Info("popup cycle closed")
}

// Running reports whether a room has a live session.
func (s *Scheduler) Running(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[roomID]
	return ok
}

func (s *Scheduler) randomDelay() time.Duration {
	if s.maxDelay <= s.minDelay {
		return s.minDelay
	}
	return s.minDelay + time.Duration(rand.Int63n(int64(s.maxDelay-s.minDelay)))
}
