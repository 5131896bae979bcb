// Package roster derives the counselor's client list from rooms and messages.
package roster

import (
	"context"
	"fmt"

	"counselchat/pkg/types"
)

// RoomLister lists every room
type RoomLister interface {
	ListAll(ctx context.Context) ([]*types.Room, error)
}

// UnreadCounter counts unread messages in a room, excluding one sender
type UnreadCounter interface {
	UnreadCount(ctx context.Context, roomName, excludeSender string) (int, error)
}

// Namer renders a client id for display
type Namer interface {
	DisplayName(clientID string) string
}

// Projector builds roster snapshots. It caches nothing; every call reads
// current storage state.
type Projector struct {
	rooms  RoomLister
	unread UnreadCounter
	names  Namer
}

// NewProjector creates a projector
func NewProjector(rooms RoomLister, unread UnreadCounter, names Namer) *Projector {
	return &Projector{rooms: rooms, unread: unread, names: names}
}

// Project returns one entry per room in room creation order.
// Unread counts exclude messages sent by the room's counselor.
func (p *Projector) Project(ctx context.Context) ([]types.RosterEntry, error) {
	rooms, err := p.rooms.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	entries := make([]types.RosterEntry, 0, len(rooms))
	for _, room := range rooms {
		unread, err := p.unread.UnreadCount(ctx, room.RoomName, room.CounselorID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, types.RosterEntry{
			ClientID:    room.ClientID,
			RoomName:    room.RoomName,
			IsOnline:    room.IsOnline,
			UnreadCount: unread,
			DisplayName: p.names.DisplayName(room.ClientID),
		})
	}
	return entries, nil
}
