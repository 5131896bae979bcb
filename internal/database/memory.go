package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"counselchat/pkg/interfaces"
	"counselchat/pkg/types"
)

// MemoryStore is an in-process interfaces.DatabaseManager.
// Nothing survives a restart; it backs tests and the "memory" driver.
type MemoryStore struct {
	mu       sync.RWMutex
	rooms    []*types.Room
	byClient map[string]*types.Room
	byName   map[string]*types.Room
	messages map[string][]*types.Message // room name -> log in insertion order
	ids      map[string]bool
	closed   bool
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byClient: make(map[string]*types.Room),
		byName:   make(map[string]*types.Room),
		messages: make(map[string][]*types.Message),
		ids:      make(map[string]bool),
	}
}

// UpsertRoom marks the client's room online, creating it if absent
func (s *MemoryStore) UpsertRoom(ctx context.Context, clientID, roomName, counselorID string) (*types.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, interfaces.ErrStoreClosed
	}

	if room, ok := s.byClient[clientID]; ok {
		room.IsOnline = true
		return copyRoom(room), nil
	}
	if _, taken := s.byName[roomName]; taken {
		return nil, interfaces.ErrDuplicateKey
	}

	room := &types.Room{
		RoomName:    roomName,
		ClientID:    clientID,
		CounselorID: counselorID,
		IsOnline:    true,
		CreatedAt:   time.Now().UTC(),
	}
	s.rooms = append(s.rooms, room)
	s.byClient[clientID] = room
	s.byName[roomName] = room
	return copyRoom(room), nil
}

// FindRoomByClient returns the room owned by clientID
func (s *MemoryStore) FindRoomByClient(ctx context.Context, clientID string) (*types.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.byClient[clientID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return copyRoom(room), nil
}

// FindRoomByName returns the room called roomName
func (s *MemoryStore) FindRoomByName(ctx context.Context, roomName string) (*types.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.byName[roomName]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return copyRoom(room), nil
}

// SetRoomOnline flips the presence flag
func (s *MemoryStore) SetRoomOnline(ctx context.Context, roomName string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return interfaces.ErrStoreClosed
	}
	room, ok := s.byName[roomName]
	if !ok {
		return interfaces.ErrNotFound
	}
	room.IsOnline = online
	return nil
}

// ListRooms returns every room in creation order
func (s *MemoryStore) ListRooms(ctx context.Context) ([]*types.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]*types.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, copyRoom(room))
	}
	return rooms, nil
}

// InsertMessage appends message to its room's log
func (s *MemoryStore) InsertMessage(ctx context.Context, message *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return interfaces.ErrStoreClosed
	}
	if _, ok := s.byName[message.RoomName]; !ok {
		return interfaces.ErrNotFound
	}
	if s.ids[message.ID] {
		return interfaces.ErrDuplicateKey
	}
	stored := *message
	s.ids[message.ID] = true
	s.messages[message.RoomName] = append(s.messages[message.RoomName], &stored)
	return nil
}

// FindMessages returns a room's log ordered by timestamp, then insertion
func (s *MemoryStore) FindMessages(ctx context.Context, roomName string) ([]*types.Message, error) {
	s.mu.RLock()
	log := s.messages[roomName]
	messages := make([]*types.Message, 0, len(log))
	for _, m := range log {
		copied := *m
		messages = append(messages, &copied)
	}
	s.mu.RUnlock()

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
	return messages, nil
}

// MarkRead sets read on every unread message in roomName not sent by excludeSender
func (s *MemoryStore) MarkRead(ctx context.Context, roomName, excludeSender string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, interfaces.ErrStoreClosed
	}
	var n int64
	for _, m := range s.messages[roomName] {
		if !m.Read && m.Sender != excludeSender {
			m.Read = true
			n++
		}
	}
	return n, nil
}

// CountUnread counts unread messages in roomName not sent by excludeSender
func (s *MemoryStore) CountUnread(ctx context.Context, roomName, excludeSender string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, m := range s.messages[roomName] {
		if !m.Read && m.Sender != excludeSender {
			count++
		}
	}
	return count, nil
}

// LatestTimestamp returns the newest message timestamp in roomName, or the zero time
func (s *MemoryStore) LatestTimestamp(ctx context.Context, roomName string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest time.Time
	for _, m := range s.messages[roomName] {
		if m.Timestamp.After(latest) {
			latest = m.Timestamp
		}
	}
	return latest, nil
}

// HealthCheck reports ErrStoreClosed after Close
func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return interfaces.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed; reads keep working
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func copyRoom(room *types.Room) *types.Room {
	copied := *room
	return &copied
}
