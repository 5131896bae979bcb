package directory

import "errors"

var (
	ErrUnknownRoom        = errors.New("room does not exist")
	ErrRoomCreationFailed = errors.New("room could not be created")
	ErrInvalidRoomName    = errors.New("room name does not decode to a client id")
)
