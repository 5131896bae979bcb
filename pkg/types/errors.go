package types

import "errors"

// Validation errors shared by the resolver and the coordinator
var (
	ErrInvalidRole     = errors.New("userType must be 'counselor' or 'client'")
	ErrInvalidClientID = errors.New("client ID must be 1-64 printable characters")
	ErrEmptyMessage    = errors.New("message cannot be empty")
	ErrInvalidMessage  = errors.New("message must be valid UTF-8")
	ErrMessageTooLong  = errors.New("message exceeds maximum length")
)
