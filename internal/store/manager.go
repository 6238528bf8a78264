package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"classboard/pkg/database"
	"classboard/pkg/interfaces"
	"classboard/pkg/types"
)

// Manager implements interfaces.EventStore on SQLite. All writes funnel
// through a single goroutine; reads run concurrently against the WAL.
type Manager struct {
	db           *sql.DB
	config       *database.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex

	log *logrus.Entry
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pragmas, and ensures the schema.
func NewManager(config *database.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store configuration: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := database.ApplyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := database.EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		log:          logrus.WithField("component", "store"),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine. Failed
// writes retry once after a short delay; constraint violations are final and
// never retried.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil && !errors.Is(err, interfaces.ErrDuplicateResponse) {
				m.log.WithError(err).Warn("write failed, retrying in 5 seconds")
				time.Sleep(5 * time.Second)
				err = op.operation(m.db)
				if err != nil {
					m.log.WithError(err).Error("write failed after retry")
				}
			}
			op.result <- err

		case <-m.shutdown:
			// Answer anything still queued so no caller is left blocked
			// on a result that will never come.
			for {
				select {
				case op := <-m.writeChannel:
					op.result <- ErrStoreClosed
				default:
					m.log.Info("write loop shutting down")
					return
				}
			}
		}
	}
}

func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrStoreClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		// The operation may still be drained unexecuted if the store shuts
		// down while it is queued; the write loop answers every drained
		// operation with ErrStoreClosed.
		select {
		case err := <-result:
			return err
		case <-m.shutdown:
			return ErrStoreClosed
		}
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrStoreClosed
	}
}

// CreateQuestion persists a question and its options atomically.
func (m *Manager) CreateQuestion(ctx context.Context, question *types.Question) error {
	return m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx,
			`INSERT INTO questions (id, room_id, text, created_by) VALUES (?, ?, ?, ?)`,
			question.ID, question.RoomID, question.Text, question.CreatedBy,
		)
		if err != nil {
			return fmt.Errorf("failed to insert question: %w", err)
		}

		for _, opt := range question.Options {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO question_options (id, question_id, text, is_correct) VALUES (?, ?, ?, ?)`,
				opt.ID, question.ID, opt.Text, opt.IsCorrect,
			)
			if err != nil {
				return fmt.Errorf("failed to insert option: %w", err)
			}
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit question creation: %w", err)
		}
		return nil
	})
}

// GetQuestion loads a question with its options, including correctness flags.
func (m *Manager) GetQuestion(ctx context.Context, questionID string) (*types.Question, error) {
	var question types.Question
	err := m.db.QueryRowContext(ctx,
		`SELECT id, room_id, text, created_by FROM questions WHERE id = ?`,
		questionID,
	).Scan(&question.ID, &question.RoomID, &question.Text, &question.CreatedBy)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrQuestionNotFound
		}
		return nil, fmt.Errorf("failed to query question: %w", err)
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT id, text, is_correct FROM question_options WHERE question_id = ? ORDER BY rowid`,
		questionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query options: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var opt types.Option
		if err := rows.Scan(&opt.ID, &opt.Text, &opt.IsCorrect); err != nil {
			return nil, fmt.Errorf("failed to scan option row: %w", err)
		}
		question.Options = append(question.Options, opt)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating option rows: %w", err)
	}

	return &question, nil
}

// AppendPopupLog records one pending popup row for a participant.
func (m *Manager) AppendPopupLog(ctx context.Context, log *types.PopupLog) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO popup_logs (id, popup_id, room_id, student_id, responded) VALUES (?, ?, ?, ?, ?)`,
			log.ID, log.PopupID, log.RoomID, log.StudentID, log.Responded,
		)
		if err != nil {
			return fmt.Errorf("failed to insert popup log: %w", err)
		}
		return nil
	})
}

// MarkPopupResponded flips the row for this popup cycle to responded. A row
// that does not exist, or was already responded, is a no-op.
func (m *Manager) MarkPopupResponded(ctx context.Context, popupID, studentID string) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`UPDATE popup_logs SET responded = 1 WHERE popup_id = ? AND student_id = ?`,
			popupID, studentID,
		)
		if err != nil {
			return fmt.Errorf("failed to mark popup responded: %w", err)
		}
		return nil
	})
}

// AppendFocusLog records a client-reported visibility interval.
func (m *Manager) AppendFocusLog(ctx context.Context, log *types.FocusLog) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO focus_logs (id, room_id, student_id, kind, duration_seconds) VALUES (?, ?, ?, ?, ?)`,
			log.ID, log.RoomID, log.StudentID, log.Kind, log.DurationSeconds,
		)
		if err != nil {
			return fmt.Errorf("failed to insert focus log: %w", err)
		}
		return nil
	})
}

// AppendQuestionResponse inserts a response row. The primary key on
// (student_id, question_id) makes the duplicate check atomic: of two
// concurrent submissions for the same pair, exactly one insert succeeds.
func (m *Manager) AppendQuestionResponse(ctx context.Context, resp *types.QuestionResponse) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO question_responses (student_id, question_id, room_id, option_id, is_correct) VALUES (?, ?, ?, ?, ?)`,
			resp.StudentID, resp.QuestionID, resp.RoomID, resp.OptionID, resp.IsCorrect,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return interfaces.ErrDuplicateResponse
			}
			return fmt.Errorf("failed to insert question response: %w", err)
		}
		return nil
	})
}

// IncrementPoints adds delta to the student's room total in one upsert.
func (m *Manager) IncrementPoints(ctx context.Context, studentID, roomID string, delta int) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO points (student_id, room_id, score) VALUES (?, ?, ?)
			 ON CONFLICT(student_id, room_id) DO UPDATE SET score = score + excluded.score`,
			studentID, roomID, delta,
		)
		if err != nil {
			return fmt.Errorf("failed to increment points: %w", err)
		}
		return nil
	})
}

// PopupStats returns total and responded popup counts for a student.
func (m *Manager) PopupStats(ctx context.Context, studentID, roomID string) (types.PopupStats, error) {
	var stats types.PopupStats
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(responded), 0) FROM popup_logs WHERE room_id = ? AND student_id = ?`,
		roomID, studentID,
	).Scan(&stats.Total, &stats.Responded)
	if err != nil {
		return types.PopupStats{}, fmt.Errorf("failed to query popup stats: %w", err)
	}
	return stats, nil
}

// ResponseStats returns total and correct answer counts for a student.
func (m *Manager) ResponseStats(ctx context.Context, studentID, roomID string) (types.ResponseStats, error) {
	var stats types.ResponseStats
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(is_correct), 0) FROM question_responses WHERE room_id = ? AND student_id = ?`,
		roomID, studentID,
	).Scan(&stats.Total, &stats.Correct)
	if err != nil {
		return types.ResponseStats{}, fmt.Errorf("failed to query response stats: %w", err)
	}
	return stats, nil
}

// FocusTotals returns accumulated focus and blur durations for a student.
func (m *Manager) FocusTotals(ctx context.Context, studentID, roomID string) (types.FocusTotals, error) {
	var totals types.FocusTotals
	err := m.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN kind = 'focus' THEN duration_seconds ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'blur' THEN duration_seconds ELSE 0 END), 0)
		 FROM focus_logs WHERE room_id = ? AND student_id = ?`,
		roomID, studentID,
	).Scan(&totals.FocusSeconds, &totals.BlurSeconds)
	if err != nil {
		return types.FocusTotals{}, fmt.Errorf("failed to query focus totals: %w", err)
	}
	return totals, nil
}

// Points returns the student's accumulated point total for a room.
func (m *Manager) Points(ctx context.Context, studentID, roomID string) (int, error) {
	var score int
	err := m.db.QueryRowContext(ctx,
		`SELECT score FROM points WHERE student_id = ? AND room_id = ?`,
		studentID, roomID,
	).Scan(&score)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to query points: %w", err)
	}
	return score, nil
}

// RoomStudentIDs lists every student with any logged activity in the room.
func (m *Manager) RoomStudentIDs(ctx context.Context, roomID string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT student_id FROM popup_logs WHERE room_id = ?
		 UNION SELECT student_id FROM focus_logs WHERE room_id = ?
		 UNION SELECT student_id FROM question_responses WHERE room_id = ?
		 UNION SELECT student_id FROM points WHERE room_id = ?
		 ORDER BY student_id`,
		roomID, roomID, roomID, roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query room students: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan student row: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating student rows: %w", err)
	}
	return ids, nil
}

// Leaderboard returns per-student point totals in descending order.
func (m *Manager) Leaderboard(ctx context.Context, roomID string) ([]types.LeaderboardEntry, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT student_id, score FROM points WHERE room_id = ? ORDER BY score DESC, student_id ASC`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []types.LeaderboardEntry
	for rows.Next() {
		entry := types.LeaderboardEntry{Rank: len(entries) + 1}
		if err := rows.Scan(&entry.StudentID, &entry.Score); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leaderboard rows: %w", err)
	}
	return entries, nil
}

// HealthCheck validates database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Close drains the write loop and closes the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
