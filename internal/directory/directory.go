// Package directory owns the client-to-room mapping and room presence.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"counselchat/pkg/interfaces"
	"counselchat/pkg/types"
)

// Directory creates and looks up rooms through the storage collaborator
type Directory struct {
	store       interfaces.RoomStore
	codec       Codec
	counselorID string
}

// NewDirectory creates a directory whose rooms are owned by counselorID
func NewDirectory(store interfaces.RoomStore, codec Codec, counselorID string) *Directory {
	return &Directory{store: store, codec: codec, counselorID: counselorID}
}

// EnsureRoom returns the client's room, creating it if needed, and marks it online.
// Concurrent calls for the same client converge on one room.
func (d *Directory) EnsureRoom(ctx context.Context, clientID string) (*types.Room, error) {
	roomName := d.codec.Encode(clientID)

	room, err := d.store.UpsertRoom(ctx, clientID, roomName, d.counselorID)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, interfaces.ErrDuplicateKey) {
		return nil, fmt.Errorf("upsert room %s: %w", roomName, err)
	}

	// FUNCTIONAL DISCOVERY: a racing creator may win between our insert
	// attempt and the conflict check; the winner's row is the answer
	slog.Debug("room upsert conflicted, retrying lookup", "client", clientID, "room", roomName)
	room, err = d.store.FindRoomByClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrRoomCreationFailed
		}
		return nil, fmt.Errorf("find room %s: %w", roomName, err)
	}
	if !room.IsOnline {
		if err := d.store.SetRoomOnline(ctx, room.RoomName, true); err != nil {
			return nil, fmt.Errorf("set room %s online: %w", room.RoomName, err)
		}
		room.IsOnline = true
	}
	return room, nil
}

// SetOnline sets the presence flag of roomName
func (d *Directory) SetOnline(ctx context.Context, roomName string, online bool) error {
	err := d.store.SetRoomOnline(ctx, roomName, online)
	if errors.Is(err, interfaces.ErrNotFound) {
		return ErrUnknownRoom
	}
	return err
}

// ListAll returns every room ever created
func (d *Directory) ListAll(ctx context.Context) ([]*types.Room, error) {
	return d.store.ListRooms(ctx)
}

// Lookup returns the room called roomName
func (d *Directory) Lookup(ctx context.Context, roomName string) (*types.Room, error) {
	room, err := d.store.FindRoomByName(ctx, roomName)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrUnknownRoom
	}
	return room, err
}

// RoomName encodes clientID into its room name
func (d *Directory) RoomName(clientID string) string {
	return d.codec.Encode(clientID)
}

// ClientID decodes roomName back into its client id
func (d *Directory) ClientID(roomName string) (string, error) {
	clientID, ok := d.codec.Decode(roomName)
	if !ok {
		return "", ErrInvalidRoomName
	}
	return clientID, nil
}

// CounselorID returns the owner of every room
func (d *Directory) CounselorID() string {
	return d.counselorID
}
