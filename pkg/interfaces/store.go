package interfaces

import (
	"context"

	"classboard/pkg/types"
)

// EventStore is the persistent append/read surface the coordination layer
// consumes. The storage representation behind it is out of scope; writes are
// individually atomic and idempotency is enforced at row uniqueness.
type EventStore interface {
	// Question catalog operations.

	// CreateQuestion persists a question and its options.
	CreateQuestion(ctx context.Context, question *types.Question) error

	// GetQuestion loads a question with its options, including isCorrect.
	// Returns ErrQuestionNotFound when no such question exists.
	GetQuestion(ctx context.Context, questionID string) (*types.Question, error)

	// Popup log operations.

	// AppendPopupLog records one pending popup row for a participant.
	AppendPopupLog(ctx context.Context, log *types.PopupLog) error

	// MarkPopupResponded flips a participant's row for the given popup cycle
	// to responded. A non-existent row is a no-op, not an error.
	MarkPopupResponded(ctx context.Context, popupID, studentID string) error

	// Focus log operations.

	// AppendFocusLog records a client-reported visibility interval.
	AppendFocusLog(ctx context.Context, log *types.FocusLog) error

	// Question response operations.

	// AppendQuestionResponse inserts a response row. The store enforces
	// uniqueness on (studentID, questionID) atomically and returns
	// ErrDuplicateResponse when the pair already exists; concurrent duplicate
	// submissions cannot both succeed.
	AppendQuestionResponse(ctx context.Context, resp *types.QuestionResponse) error

	// IncrementPoints atomically adds delta to a student's point total for a
	// room, creating the row when absent.
	IncrementPoints(ctx context.Context, studentID, roomID string, delta int) error

	// Read accessors for the scoring aggregator. All tolerate concurrent
	// appends; a score computed mid-session may lag by a row.

	PopupStats(ctx context.Context, studentID, roomID string) (types.PopupStats, error)
	ResponseStats(ctx context.Context, studentID, roomID string) (types.ResponseStats, error)
	FocusTotals(ctx context.Context, studentID, roomID string) (types.FocusTotals, error)
	Points(ctx context.Context, studentID, roomID string) (int, error)

	// RoomStudentIDs lists every student that has left any trace in the room's
	// logs, for class-level summaries.
	RoomStudentIDs(ctx context.Context, roomID string) ([]string, error)

	// Leaderboard returns point totals for a room in descending order.
	Leaderboard(ctx context.Context, roomID string) ([]types.LeaderboardEntry, error)

	// HealthCheck validates store connectivity.
	HealthCheck(ctx context.Context) error

	// Close shuts the store down.
	Close() error
}
