package types

import "regexp"

var roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidRoomID checks the room identifier format. Rooms are created lazily
// on first join, so the format check is the only gate.
func IsValidRoomID(roomID string) bool {
	if len(roomID) < 1 || len(roomID) > 64 {
		return false
	}
	return roomIDRegex.MatchString(roomID)
}

// IsValidRole reports whether role is one of the two known roles.
func IsValidRole(role string) bool {
	return role == RoleTeacher || role == RoleStudent
}

// Validate checks a chat payload before it is broadcast.
func (p *ChatPayload) Validate() error {
	if !IsValidRoomID(p.RoomID) {
		return ErrInvalidRoomID
	}
	if len(p.Message) == 0 {
		return ErrEmptyChatMessage
	}
	if len(p.Message) > 2000 {
		return ErrChatMessageTooBig
	}
	return nil
}

// Validate checks a focus payload. Durations are client-reported but must at
// least be non-negative and carry a known kind.
func (p *FocusPayload) Validate() error {
	if !IsValidRoomID(p.RoomID) {
		return ErrInvalidRoomID
	}
	if p.Kind != "focus" && p.Kind != "blur" {
		return ErrInvalidFocusKind
	}
	if p.DurationSeconds < 0 {
		return ErrInvalidDuration
	}
	return nil
}

// Validate checks a question at creation time. Broadcast does not re-validate;
// the creator is the single validation point.
func (q *Question) Validate() error {
	if len(q.Text) < 1 || len(q.Text) > 500 {
		return ErrQuestionText
	}
	if !IsValidRoomID(q.RoomID) {
		return ErrInvalidRoomID
	}
	if len(q.Options) < 2 {
		return ErrTooFewOptions
	}
	hasCorrect := false
	for _, opt := range q.Options {
		if opt.IsCorrect {
			hasCorrect = true
			break
		}
	}
	if !hasCorrect {
		return ErrNoCorrectOption
	}
	return nil
}
