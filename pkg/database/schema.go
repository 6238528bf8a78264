package database

import (
	"database/sql"
	"fmt"
)

// Schema for the event log store. question_responses keys on
// (student_id, question_id) so duplicate submissions fail at insert time
// rather than by a check-then-write; points keys on (student_id, room_id)
// so awards are a single atomic upsert.
const schema = `
CREATE TABLE IF NOT EXISTS questions (
	id         TEXT PRIMARY KEY,
	room_id    TEXT NOT NULL,
	text       TEXT NOT NULL,
	created_by TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS question_options (
	id          TEXT PRIMARY KEY,
	question_id TEXT NOT NULL REFERENCES questions(id),
	text        TEXT NOT NULL,
	is_correct  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS popup_logs (
	id         TEXT PRIMARY KEY,
	popup_id   TEXT NOT NULL,
	room_id    TEXT NOT NULL,
	student_id TEXT NOT NULL,
	responded  INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS focus_logs (
	id               TEXT PRIMARY KEY,
	room_id          TEXT NOT NULL,
	student_id       TEXT NOT NULL,
	kind             TEXT NOT NULL CHECK(kind IN ('focus','blur')),
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS question_responses (
	student_id  TEXT NOT NULL,
	question_id TEXT NOT NULL,
	room_id     TEXT NOT NULL,
	option_id   TEXT NOT NULL,
	is_correct  INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (student_id, question_id)
);

CREATE TABLE IF NOT EXISTS points (
	student_id TEXT NOT NULL,
	room_id    TEXT NOT NULL,
	score      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (student_id, room_id)
);

CREATE INDEX IF NOT EXISTS idx_questions_room ON questions(room_id);
CREATE INDEX IF NOT EXISTS idx_options_question ON question_options(question_id);
CREATE INDEX IF NOT EXISTS idx_popup_logs_room_student ON popup_logs(room_id, student_id);
CREATE INDEX IF NOT EXISTS idx_popup_logs_popup ON popup_logs(popup_id, student_id);
CREATE INDEX IF NOT EXISTS idx_focus_logs_room_student ON focus_logs(room_id, student_id);
CREATE INDEX IF NOT EXISTS idx_responses_room_student ON question_responses(room_id, student_id);
CREATE INDEX IF NOT EXISTS idx_points_room ON points(room_id);
`

// EnsureSchema creates all tables and indexes if they do not exist.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// ValidateTablesExist verifies the tables the store depends on are present,
// for deployment checks independent of schema bootstrap.
func ValidateTablesExist(db *sql.DB) error {
	required := []string{
		"questions",
		"question_options",
		"popup_logs",
		"focus_logs",
		"question_responses",
		"points",
	}

	for _, table := range required {
		var count int
		err := db.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if count == 0 {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}

	return nil
}
