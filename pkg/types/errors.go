package types

import "errors"

var (
	ErrInvalidRoomID     = errors.New("room ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRole       = errors.New("invalid role: must be 'teacher' or 'student'")
	ErrEmptyChatMessage  = errors.New("chat message cannot be empty")
	ErrChatMessageTooBig = errors.New("chat message exceeds 2000 character limit")
	ErrInvalidFocusKind  = errors.New("focus event kind must be 'focus' or 'blur'")
	ErrInvalidDuration   = errors.New("duration must be non-negative")
	ErrQuestionText      = errors.New("question text must be 1-500 characters")
	ErrTooFewOptions     = errors.New("question needs at least 2 options")
	ErrNoCorrectOption   = errors.New("question needs at least one correct option")
)
