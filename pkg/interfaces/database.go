package interfaces

import (
	"context"
	"time"

	"counselchat/pkg/types"
)

// RoomStore is the rooms collection of the storage collaborator
type RoomStore interface {
	// UpsertRoom atomically finds the room for clientID and marks it online,
	// inserting it with roomName and counselorID if absent.
	// A uniqueness conflict on any other key returns ErrDuplicateKey.
	UpsertRoom(ctx context.Context, clientID, roomName, counselorID string) (*types.Room, error)

	// FindRoomByClient returns ErrNotFound if no room exists for clientID
	FindRoomByClient(ctx context.Context, clientID string) (*types.Room, error)

	// FindRoomByName returns ErrNotFound if no room exists with roomName
	FindRoomByName(ctx context.Context, roomName string) (*types.Room, error)

	// SetRoomOnline unconditionally updates the online flag
	SetRoomOnline(ctx context.Context, roomName string, online bool) error

	// ListRooms returns every room; order is stable within one call
	ListRooms(ctx context.Context) ([]*types.Room, error)
}

// MessageStore is the messages collection of the storage collaborator
type MessageStore interface {
	// InsertMessage appends a fully populated message
	InsertMessage(ctx context.Context, message *types.Message) error

	// FindMessages returns a room's messages ordered by timestamp, then insertion
	FindMessages(ctx context.Context, roomName string) ([]*types.Message, error)

	// MarkRead sets read=true on unread messages whose sender is not
	// excludeSender, as a single bulk update. Returns the number updated.
	MarkRead(ctx context.Context, roomName, excludeSender string) (int64, error)

	// CountUnread counts unread messages whose sender is not excludeSender
	CountUnread(ctx context.Context, roomName, excludeSender string) (int, error)

	// LatestTimestamp returns the newest message time in a room, zero if none
	LatestTimestamp(ctx context.Context, roomName string) (time.Time, error)
}

// DatabaseManager is the full storage collaborator
type DatabaseManager interface {
	RoomStore
	MessageStore

	// HealthCheck verifies connectivity
	HealthCheck(ctx context.Context) error

	// Close releases the underlying connections
	Close() error
}
