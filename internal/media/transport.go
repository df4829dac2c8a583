package media

import (
	"context"
	"time"
)

// Credential is a short-lived authorization artifact required to enter a
// media room. The managed transport validates it on join.
type Credential struct {
	Token    string `json:"token"`
	RoomID   string `json:"room_id"`
	Identity string `json:"identity"`
}

type EventKind string

const (
	// EventDisconnected fires when the transport drops the connection,
	// locally or remotely. Consumers treat it as call termination.
	EventDisconnected EventKind = "disconnected"
)

// Event is a typed notification from a live room connection.
type Event struct {
	Kind   EventKind
	At     time.Time
	Reason string
}

// Conn is an established room connection.
//
// Events() is closed when the connection is torn down; the final event before
// close is always a disconnect.
type Conn interface {
	Room() string
	Events() <-chan Event
	Leave(ctx context.Context) error
}

// Transport is the managed real-time media collaborator. Codec selection,
// NAT traversal and the actual media plane live behind it.
type Transport interface {
	RequestJoinCredential(ctx context.Context, roomID, identity, displayName string) (Credential, error)
	Join(ctx context.Context, cred Credential) (Conn, error)
}
