// Package session tracks which identity and room each live connection speaks for.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"counselchat/pkg/types"
)

// Presence flips a room's online flag
type Presence interface {
	SetOnline(ctx context.Context, roomName string, online bool) error
}

// Registry maps connection ids to sessions. Nothing here is persisted.
type Registry struct {
	presence Presence

	mu       sync.RWMutex
	sessions map[string]*types.Session // connID -> session
	roomRefs map[string]int            // roomName -> live client sessions

	// ARCHITECTURAL DISCOVERY: presence writes for bind and unbind must not
	// interleave, or a stale "offline" can land after a fresh "online"
	presenceMu sync.Mutex
}

// NewRegistry creates an empty registry that reports presence to presence
func NewRegistry(presence Presence) *Registry {
	return &Registry{
		presence: presence,
		sessions: make(map[string]*types.Session),
		roomRefs: make(map[string]int),
	}
}

// Bind attaches identity to connID. Client sessions are pinned to room and
// mark it online; counselor sessions start without an active room.
func (r *Registry) Bind(ctx context.Context, connID string, identity types.Identity, room string) (*types.Session, error) {
	if connID == "" {
		return nil, ErrInvalidConnection
	}
	isClient := identity.Role == types.RoleClient
	if isClient && room == "" {
		return nil, ErrRoomRequired
	}

	session := &types.Session{
		ConnectionID: connID,
		Identity:     identity,
		BoundAt:      time.Now(),
	}
	if isClient {
		session.ActiveRoom = room
	}

	if isClient {
		r.presenceMu.Lock()
		defer r.presenceMu.Unlock()
	}

	r.mu.Lock()
	if _, exists := r.sessions[connID]; exists {
		r.mu.Unlock()
		return nil, ErrAlreadyBound
	}
	r.sessions[connID] = session
	if isClient {
		r.roomRefs[room]++
	}
	r.mu.Unlock()

	if isClient {
		if err := r.presence.SetOnline(ctx, room, true); err != nil {
			r.mu.Lock()
			delete(r.sessions, connID)
			lastOut := r.release(room)
			r.mu.Unlock()
			// the room may already read online from a partial write or from
			// room creation; nothing live backs that flag now
			if lastOut {
				if offErr := r.presence.SetOnline(ctx, room, false); offErr != nil {
					slog.Warn("clear presence after failed bind", "room", room, "error", offErr)
				}
			}
			return nil, fmt.Errorf("mark room %s online: %w", room, err)
		}
	}

	slog.Debug("session bound", "conn", connID, "user", identity.ID, "role", identity.Role, "room", room)
	copied := *session
	return &copied, nil
}

// SetActiveRoom moves the counselor's view to roomName and returns the previous room
func (r *Registry) SetActiveRoom(connID, roomName string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[connID]
	if !ok {
		return "", ErrNotBound
	}
	if session.Role() != types.RoleCounselor {
		return "", ErrNotCounselor
	}
	previous := session.ActiveRoom
	session.ActiveRoom = roomName
	return previous, nil
}

// Unbind removes connID's session and returns it, or nil if there was none.
// The client's room goes offline only when its last live session leaves.
func (r *Registry) Unbind(ctx context.Context, connID string) (*types.Session, error) {
	r.presenceMu.Lock()
	defer r.presenceMu.Unlock()

	r.mu.Lock()
	session, ok := r.sessions[connID]
	if !ok {
		r.mu.Unlock()
		return nil, nil
	}
	delete(r.sessions, connID)
	lastOut := false
	if session.Role() == types.RoleClient {
		lastOut = r.release(session.ActiveRoom)
	}
	r.mu.Unlock()

	slog.Debug("session unbound", "conn", connID, "user", session.UserID(), "role", session.Role())

	if lastOut {
		if err := r.presence.SetOnline(ctx, session.ActiveRoom, false); err != nil {
			return session, fmt.Errorf("mark room %s offline: %w", session.ActiveRoom, err)
		}
	}
	return session, nil
}

// Lookup returns a copy of connID's session
func (r *Registry) Lookup(connID string) (*types.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[connID]
	if !ok {
		return nil, false
	}
	copied := *session
	return &copied, true
}

// LiveSessions returns the number of client sessions bound to roomName
func (r *Registry) LiveSessions(roomName string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roomRefs[roomName]
}

// Stats reports how many counselor and client sessions are bound
func (r *Registry) Stats() (counselors, clients int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, session := range r.sessions {
		if session.Role() == types.RoleCounselor {
			counselors++
		} else {
			clients++
		}
	}
	return counselors, clients
}

// release drops one reference to room and reports whether it was the last.
// Caller holds r.mu.
func (r *Registry) release(room string) bool {
	r.roomRefs[room]--
	if r.roomRefs[room] <= 0 {
		delete(r.roomRefs, room)
		return true
	}
	return false
}
