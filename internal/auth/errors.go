package auth

import "errors"

// Authentication failures reject the connection attempt before any room
// interaction.
var (
	ErrMissingToken      = errors.New("identity token required")
	ErrInvalidToken      = errors.New("invalid identity token")
	ErrExpiredToken      = errors.New("identity token expired")
	ErrUnexpectedSigning = errors.New("unexpected token signing method")
)
