package question

import "errors"

var (
	// ErrAlreadyBroadcast indicates the question already has an open broadcast.
	ErrAlreadyBroadcast = errors.New("question already broadcast")

	// ErrQuestionClosed indicates the response arrived after the broadcast closed.
	ErrQuestionClosed = errors.New("question is closed")

	// ErrUnknownOption indicates the chosen option does not belong to the question.
	ErrUnknownOption = errors.New("unknown option")
)
