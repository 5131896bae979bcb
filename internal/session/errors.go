package session

import "errors"

var (
	ErrAlreadyBound      = errors.New("connection already has a session")
	ErrNotBound          = errors.New("connection has no session")
	ErrNotCounselor      = errors.New("only the counselor can switch rooms")
	ErrRoomRequired      = errors.New("client sessions require a room")
	ErrInvalidConnection = errors.New("connection id cannot be empty")
)
