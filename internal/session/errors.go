package session

import "errors"

// Lookup errors.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrEmptySessionID   = errors.New("session id is required")
	ErrInvalidSessionID = errors.New("invalid session id")
)

// Integrity errors.
var (
	ErrInvalidTransition = errors.New("invalid stage transition")
	ErrCorruptSession    = errors.New("corrupt session record")
)
