package catalog

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"classboard/pkg/types"
)

// QuestionStore is the persistence surface the catalog writes through.
type QuestionStore interface {
	CreateQuestion(ctx context.Context, q *types.Question) error
	GetQuestion(ctx context.Context, questionID string) (*types.Question, error)
}

// Catalog owns teacher-created questions: validated and persisted on create,
// cached in memory for the broadcast path. The cache is read-through so a
// restarted process still serves questions created before the restart.
type Catalog struct {
	mu    sync.RWMutex
	cache map[string]*types.Question

	store QuestionStore
	log   *logrus.Entry
}

func NewCatalog(store QuestionStore) (*Catalog, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	return &Catalog{
		cache: make(map[string]*types.Question),
		store: store,
		log:   logrus.WithField("component", "catalog"),
	}, nil
}

// CreateQuestion validates and persists a new question, assigning IDs to the
// question and each option.
func (c *Catalog) CreateQuestion(ctx context.Context, roomID, text, createdBy string, options []types.Option) (*types.Question, error) {
	q := &types.Question{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Text:      text,
		CreatedBy: createdBy,
		Options:   make([]types.Option, len(options)),
	}
	for i, opt := range options {
		q.Options[i] = types.Option{
			ID:        uuid.New().String(),
			Text:      opt.Text,
			IsCorrect: opt.IsCorrect,
		}
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if !types.IsValidRoomID(roomID) {
		return nil, types.ErrInvalidRoomID
	}

	if err := c.store.CreateQuestion(ctx, q); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[q.ID] = q
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"question_id": q.ID,
		"room_id":     roomID,
		"options":     len(q.Options),
	}).Info("question created")
	return q, nil
}

// GetQuestion returns a question by ID, falling back to the store on a cache
// miss and filling the cache on the way back.
func (c *Catalog) GetQuestion(ctx context.Context, questionID string) (*types.Question, error) {
	c.mu.RLock()
	q, ok := c.cache[questionID]
	c.mu.RUnlock()
	if ok {
		return q, nil
	}

	q, err := c.store.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[questionID] = q
	c.mu.Unlock()
	return q, nil
}

// Count reports the number of cached questions.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
