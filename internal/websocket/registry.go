package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"

	"counselchat/pkg/types"
)

// Registry tracks live connections and their room memberships.
// It is the transport the coordinator emits through.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection            // connID -> Connection
	rooms       map[string]map[string]*Connection // room -> connID -> Connection
	memberships map[string]map[string]bool        // connID -> rooms joined
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		rooms:       make(map[string]map[string]*Connection),
		memberships: make(map[string]map[string]bool),
	}
}

// Register adds conn
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.ID()] = conn
	r.memberships[conn.ID()] = make(map[string]bool)
	return nil
}

// Unregister removes connID from the registry and every room it joined
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for room := range r.memberships[connID] {
		r.removeMember(room, connID)
	}
	delete(r.memberships, connID)
	delete(r.connections, connID)
}

// Get returns the connection registered under connID
func (r *Registry) Get(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[connID]
	return conn, ok
}

// Emit sends one event to connID
func (r *Registry) Emit(connID, event string, payload interface{}) error {
	conn, ok := r.Get(connID)
	if !ok {
		return ErrUnknownConnection
	}
	return conn.WriteJSON(types.OutboundEnvelope{Event: event, Data: payload})
}

// EmitToRoom sends one event to every member of room and returns how many
// connections accepted it. The frame is encoded once.
func (r *Registry) EmitToRoom(room, event string, payload interface{}) int {
	data, err := json.Marshal(types.OutboundEnvelope{Event: event, Data: payload})
	if err != nil {
		slog.Error("failed to encode room event", "room", room, "event", event, "error", err)
		return 0
	}

	r.mu.RLock()
	members := make([]*Connection, 0, len(r.rooms[room]))
	for _, conn := range r.rooms[room] {
		members = append(members, conn)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, conn := range members {
		if err := conn.send(data); err != nil {
			slog.Debug("room emit failed", "room", room, "conn", conn.ID(), "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Join adds connID to room
func (r *Registry) Join(connID, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]*Connection)
	}
	r.rooms[room][connID] = conn
	r.memberships[connID][room] = true
	return nil
}

// Leave removes connID from room
func (r *Registry) Leave(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeMember(room, connID)
	if rooms, ok := r.memberships[connID]; ok {
		delete(rooms, room)
	}
}

// InRoom reports whether connID has joined room
func (r *Registry) InRoom(connID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][connID]
	return ok
}

// Disconnect closes connID; its read loop then runs the normal teardown
func (r *Registry) Disconnect(connID string) error {
	conn, ok := r.Get(connID)
	if !ok {
		return ErrUnknownConnection
	}
	return conn.Close()
}

// Count returns the number of live connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// RoomSize returns the number of connections in room
func (r *Registry) RoomSize(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// CloseAll closes every live connection
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

// removeMember drops connID from room; caller holds r.mu
func (r *Registry) removeMember(room, connID string) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}
