package interfaces

import "errors"

// Errors shared across component boundaries.
var (
	ErrQuestionNotFound  = errors.New("question not found")
	ErrDuplicateResponse = errors.New("response already recorded for this student and question")
)
