package interfaces

// Connection is a live client connection as seen by the coordination layer.
// Implementations must make WriteJSON safe for concurrent callers; the
// gateway does this with a single-writer goroutine per socket.
type Connection interface {
	// WriteJSON sends a JSON message to the client (thread-safe).
	WriteJSON(v interface{}) error

	// Close closes the connection and releases its resources.
	Close() error

	// ConnectionID is the ephemeral per-socket identifier.
	ConnectionID() string

	// UserID is the stable identity behind the connection.
	UserID() string

	// DisplayName is the identity's display name.
	DisplayName() string

	// Role is "teacher" or "student".
	Role() string

	// RoomID is the room this connection is currently joined to, or "" when
	// not in a room.
	RoomID() string

	// SetRoomID records the current room membership on the connection. Only
	// the room registry back-references it; ownership stays with the gateway.
	SetRoomID(roomID string)
}
