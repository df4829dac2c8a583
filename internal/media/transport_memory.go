package media

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryTransport is an in-process Transport for tests and local development.
// Credentials are minted through the real TokenProvider when one is set,
// otherwise an opaque placeholder is issued.
type MemoryTransport struct {
	Tokens *TokenProvider

	// FailCredentials simulates a misconfigured or unreachable transport.
	FailCredentials bool

	mu    sync.Mutex
	conns []*MemoryConn
}

func NewMemoryTransport() *MemoryTransport { return &MemoryTransport{} }

func (t *MemoryTransport) RequestJoinCredential(ctx context.Context, roomID, identity, displayName string) (Credential, error) {
	if t.FailCredentials {
		return Credential{}, errors.New("transport unreachable")
	}
	if t.Tokens != nil {
		return t.Tokens.Mint(roomID, identity, displayName)
	}
	if roomID == "" || identity == "" {
		return Credential{}, errors.New("media: room and identity required")
	}
	return Credential{Token: "mem-" + roomID + "-" + identity, RoomID: roomID, Identity: identity}, nil
}

func (t *MemoryTransport) Join(ctx context.Context, cred Credential) (Conn, error) {
	if cred.Token == "" {
		return nil, errors.New("media: credential required")
	}
	c := &MemoryConn{room: cred.RoomID, events: make(chan Event, 4)}
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.mu.Unlock()
	return c, nil
}

// Conns returns every connection joined so far, in join order.
func (t *MemoryTransport) Conns() []*MemoryConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*MemoryConn(nil), t.conns...)
}

type MemoryConn struct {
	room   string
	events chan Event

	mu     sync.Mutex
	closed bool
}

func (c *MemoryConn) Room() string         { return c.room }
func (c *MemoryConn) Events() <-chan Event { return c.events }

func (c *MemoryConn) Leave(ctx context.Context) error {
	c.close("local leave")
	return nil
}

// Disconnect simulates a transport-level disconnect, delivering the event to
// the consumer before closing the stream.
func (c *MemoryConn) Disconnect(reason string) {
	c.close(reason)
}

func (c *MemoryConn) close(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.events <- Event{Kind: EventDisconnected, At: time.Now(), Reason: reason}
	close(c.events)
}
