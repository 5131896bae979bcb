package interfaces

import "errors"

// Storage collaborator errors; drivers translate their native errors into these
var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrStoreClosed  = errors.New("store is closed")
)
