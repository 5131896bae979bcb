// Package messages is the append-only per-room message log.
package messages

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"counselchat/internal/directory"
	"counselchat/pkg/interfaces"
	"counselchat/pkg/types"
)

// Storage is what the message log needs from the storage collaborator
type Storage interface {
	interfaces.MessageStore
	FindRoomByName(ctx context.Context, roomName string) (*types.Room, error)
}

// Store appends and reads room messages
type Store struct {
	storage Storage
	now     func() time.Time

	// TECHNICAL DISCOVERY: appends are serialized so that timestamp
	// assignment and insertion happen in the same order
	mu      sync.Mutex
	last    map[string]time.Time
	entropy io.Reader
}

// NewStore creates a message store over storage
func NewStore(storage Storage) *Store {
	return &Store{
		storage: storage,
		now:     time.Now,
		last:    make(map[string]time.Time),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Append records a new unread message from sender in roomName.
// Timestamps never go backwards within a room, even if the wall clock does.
func (s *Store) Append(ctx context.Context, roomName, sender, body string) (*types.Message, error) {
	if strings.TrimSpace(body) == "" {
		return nil, types.ErrEmptyMessage
	}

	if _, err := s.storage.FindRoomByName(ctx, roomName); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, directory.ErrUnknownRoom
		}
		return nil, fmt.Errorf("find room %s: %w", roomName, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.last[roomName]
	if !ok {
		latest, err := s.storage.LatestTimestamp(ctx, roomName)
		if err != nil {
			return nil, fmt.Errorf("latest timestamp %s: %w", roomName, err)
		}
		last = latest
	}

	ts := s.now().UTC()
	if ts.Before(last) {
		ts = last
	}

	id, err := ulid.New(ulid.Timestamp(ts), s.entropy)
	if err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	message := &types.Message{
		ID:        id.String(),
		RoomName:  roomName,
		Sender:    sender,
		Body:      body,
		Timestamp: ts,
		Read:      false,
	}
	if err := s.storage.InsertMessage(ctx, message); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	s.last[roomName] = ts
	return message, nil
}

// History returns every message in roomName, oldest first
func (s *Store) History(ctx context.Context, roomName string) ([]*types.Message, error) {
	history, err := s.storage.FindMessages(ctx, roomName)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", roomName, err)
	}
	if history == nil {
		history = []*types.Message{}
	}
	return history, nil
}

// MarkReadExcept marks every message in roomName not sent by excludeSender as read
// and returns how many changed
func (s *Store) MarkReadExcept(ctx context.Context, roomName, excludeSender string) (int64, error) {
	n, err := s.storage.MarkRead(ctx, roomName, excludeSender)
	if err != nil {
		return 0, fmt.Errorf("mark read %s: %w", roomName, err)
	}
	return n, nil
}

// UnreadCount counts unread messages in roomName not sent by excludeSender
func (s *Store) UnreadCount(ctx context.Context, roomName, excludeSender string) (int, error) {
	n, err := s.storage.CountUnread(ctx, roomName, excludeSender)
	if err != nil {
		return 0, fmt.Errorf("count unread %s: %w", roomName, err)
	}
	return n, nil
}
