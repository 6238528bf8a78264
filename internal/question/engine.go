package question

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"classboard/pkg/interfaces"
	"classboard/pkg/types"
)

// RoomView samples room membership at broadcast time. Only students
// captured in that snapshot count toward early close.
type RoomView interface {
	StudentIDs(roomID string) []string
}

// Publisher delivers room-scoped events.
type Publisher interface {
	Publish(roomID string, event string, data interface{})
}

// ResponseStore is the store surface the engine writes through. The append
// carries the uniqueness guarantee; points are only incremented after a
// successful append.
type ResponseStore interface {
	AppendQuestionResponse(ctx context.Context, resp *types.QuestionResponse) error
	IncrementPoints(ctx context.Context, studentID, roomID string, delta int) error
}

// QuestionSource resolves a stored question by ID.
type QuestionSource interface {
	GetQuestion(ctx context.Context, questionID string) (*types.Question, error)
}

// Engine runs timed multiple-choice broadcasts. Each broadcast is an
// independent state machine guarded by its own mutex; the engine mutex only
// protects the lookup maps. Closed broadcasts leave active and are recorded
// in closed, so active holds only open questions and a late submission still
// gets ErrQuestionClosed rather than ErrQuestionNotFound.
type Engine struct {
	mu     sync.RWMutex
	active map[string]*broadcast
	closed map[string]struct{}

	rooms     RoomView
	pub       Publisher
	store     ResponseStore
	questions QuestionSource
	deadline  time.Duration
	award     int

	log *logrus.Entry
}

type broadcast struct {
	mu        sync.Mutex
	question  *types.Question
	roomID    string
	openedAt  time.Time
	closesAt  time.Time
	eligible  map[string]bool
	responses map[string]string // userID -> optionID
	closed    bool
	timer     *time.Timer
}

func NewEngine(rooms RoomView, pub Publisher, store ResponseStore, questions QuestionSource, deadline time.Duration, award int) *Engine {
	return &Engine{
		active:    make(map[string]*broadcast),
		closed:    make(map[string]struct{}),
		rooms:     rooms,
		pub:       pub,
		store:     store,
		questions: questions,
		deadline:  deadline,
		award:     award,
		log:       logrus.WithField("component", "question"),
	}
}

// Broadcast opens a question to a room: snapshots eligibility, publishes the
// question with correctness stripped, and arms the close timer.
func (e *Engine) Broadcast(ctx context.Context, questionID, roomID string) error {
	q, err := e.questions.GetQuestion(ctx, questionID)
	if err != nil {
		return err
	}

	now := time.Now()
	bs := &broadcast{
		question:  q,
		roomID:    roomID,
		openedAt:  now,
		closesAt:  now.Add(e.deadline),
		eligible:  make(map[string]bool),
		responses: make(map[string]string),
	}
	for _, id := range e.rooms.StudentIDs(roomID) {
		bs.eligible[id] = true
	}

	e.mu.Lock()
	_, open := e.active[questionID]
	_, done := e.closed[questionID]
	if open || done {
		e.mu.Unlock()
		return ErrAlreadyBroadcast
	}
	e.active[questionID] = bs
	e.mu.Unlock()

	bs.mu.Lock()
	bs.timer = time.AfterFunc(e.deadline, func() { e.close(bs) })
	bs.mu.Unlock()

	options := make([]types.OptionView, 0, len(q.Options))
	for _, opt := range q.Options {
		options = append(options, types.OptionView{ID: opt.ID, Text: opt.Text})
	}
	e.pub.Publish(roomID, types.EventQuestionPopup, types.QuestionPopup{
		QuestionID:      q.ID,
		Text:            q.Text,
		Options:         options,
		DeadlineSeconds: int(e.deadline / time.Second),
	})

	e.log.WithFields(logrus.Fields{
		"question_id": questionID,
		"room_id":     roomID,
		"eligible":    len(bs.eligible),
	}).Info("question broadcast")
	return nil
}

// SubmitResponse records one answer for one student. A second submission for
// the same (student, question) pair fails with ErrDuplicateResponse; points
// are awarded only when the persisted append succeeds, so a race cannot
// double-award.
func (e *Engine) SubmitResponse(ctx context.Context, questionID, userID, optionID string) error {
	e.mu.RLock()
	bs := e.active[questionID]
	_, done := e.closed[questionID]
	e.mu.RUnlock()
	if bs == nil {
		if done {
			return ErrQuestionClosed
		}
		return interfaces.ErrQuestionNotFound
	}

	bs.mu.Lock()
	if bs.closed {
		bs.mu.Unlock()
		return ErrQuestionClosed
	}
	if _, dup := bs.responses[userID]; dup {
		bs.mu.Unlock()
		return interfaces.ErrDuplicateResponse
	}
	var chosen *types.Option
	for i := range bs.question.Options {
		if bs.question.Options[i].ID == optionID {
			chosen = &bs.question.Options[i]
			break
		}
	}
	if chosen == nil {
		bs.mu.Unlock()
		return ErrUnknownOption
	}
	bs.responses[userID] = optionID
	allResponded := len(bs.eligible) > 0 && allIn(bs.responses, bs.eligible)
	roomID := bs.roomID
	isCorrect := chosen.IsCorrect
	bs.mu.Unlock()

	err := e.store.AppendQuestionResponse(ctx, &types.QuestionResponse{
		StudentID:  userID,
		QuestionID: questionID,
		RoomID:     roomID,
		OptionID:   optionID,
		IsCorrect:  isCorrect,
	})
	if err != nil {
		bs.mu.Lock()
		delete(bs.responses, userID)
		bs.mu.Unlock()
		return err
	}

	if isCorrect {
		if err := e.store.IncrementPoints(ctx, userID, roomID, e.award); err != nil {
			e.log.WithFields(logrus.Fields{
				"question_id": questionID,
				"user_id":     userID,
			}).WithError(err).Error("failed to increment points")
		}
	}

	if allResponded {
		e.close(bs)
	}
	return nil
}

// allIn reports whether every eligible user has a recorded response.
func allIn(responses map[string]string, eligible map[string]bool) bool {
	for id := range eligible {
		if _, ok := responses[id]; !ok {
			return false
		}
	}
	return true
}

// close ends a broadcast exactly once and publishes the result distribution.
// Runs from the deadline timer or from the all-responded early path; the
// closed flag makes the second arrival a no-op.
func (e *Engine) close(bs *broadcast) {
	bs.mu.Lock()
	if bs.closed {
		bs.mu.Unlock()
		return
	}
	bs.closed = true
	if bs.timer != nil {
		bs.timer.Stop()
	}
	q := bs.question
	roomID := bs.roomID
	counts := make(map[string]int, len(q.Options))
	for _, optionID := range bs.responses {
		counts[optionID]++
	}
	total := len(bs.responses)
	bs.mu.Unlock()

	e.mu.Lock()
	delete(e.active, q.ID)
	e.closed[q.ID] = struct{}{}
	e.mu.Unlock()

	correct := 0
	distribution := make(map[string]types.OptionResult, len(q.Options))
	for _, opt := range q.Options {
		distribution[opt.ID] = types.OptionResult{
			Text:      opt.Text,
			Count:     counts[opt.ID],
			IsCorrect: opt.IsCorrect,
		}
		if opt.IsCorrect {
			correct += counts[opt.ID]
		}
	}

	percentage := 0
	if total > 0 {
		percentage = int(math.Round(100 * float64(correct) / float64(total)))
	}

	e.pub.Publish(roomID, types.EventQuestionClosed, types.QuestionClosed{QuestionID: q.ID})
	e.pub.Publish(roomID, types.EventQuestionResults, types.QuestionResults{
		QuestionID:        q.ID,
		Text:              q.Text,
		TotalResponses:    total,
		CorrectResponses:  correct,
		CorrectPercentage: percentage,
		Distribution:      distribution,
	})

	e.log.WithFields(logrus.Fields{
		"question_id":        q.ID,
		"room_id":            roomID,
		"total_responses":    total,
		"correct_responses":  correct,
		"correct_percentage": percentage,
	}).Info("question closed")
}

// ActiveCount reports how many broadcasts are still open.
func (e *Engine) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.active)
}
