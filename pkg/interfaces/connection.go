package interfaces

// Connection represents one live client connection
type Connection interface {
	// ID returns the server-assigned connection id
	ID() string

	// WriteJSON sends a JSON value to the peer (thread-safe)
	WriteJSON(v interface{}) error

	// Close closes the connection and releases resources
	Close() error
}

// Transport is the publish/subscribe primitive the coordinator fans out through.
// Rooms and role groups share one namespace.
type Transport interface {
	// Emit sends an event to a single connection
	Emit(connID, event string, payload interface{}) error

	// EmitToRoom sends an event to every connection joined to room
	EmitToRoom(room, event string, payload interface{}) int

	// Join adds a connection to a room or group
	Join(connID, room string) error

	// Leave removes a connection from a room or group
	Leave(connID, room string)

	// InRoom reports whether a connection is joined to room
	InRoom(connID, room string) bool

	// Disconnect closes a connection from the server side
	Disconnect(connID string) error
}
