package relay

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// connState is the connection lifecycle. Transitions only move forward;
// stateClosed is terminal and is entered exactly once, which is what makes
// per-connection cleanup idempotent.
type connState int

const (
	// stateJoining: connected, join request not yet processed.
	stateJoining connState = iota
	// stateRelaying: joined a room, frames are forwarded.
	stateRelaying
	// stateClosed: terminal.
	stateClosed
)

// Conn wraps a raw TCP connection with frame writing and the connection
// state machine. Writes are serialized and carry a per-write deadline.
type Conn struct {
	id  string
	raw net.Conn

	writeMu      sync.Mutex
	writeTimeout time.Duration

	mu    sync.Mutex
	state connState
	code  string // room code once joined
}

// NewConn wraps a raw TCP connection.
//
// Precondition: raw must be a valid, open network connection.
func NewConn(raw net.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{
		id:           uuid.NewString(),
		raw:          raw,
		writeTimeout: writeTimeout,
	}
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the remote network address of the client.
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// Read reads raw bytes from the connection.
func (c *Conn) Read(p []byte) (int, error) {
	return c.raw.Read(p)
}

// SetReadDeadline sets the deadline for future reads. A zero time clears
// the deadline.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.raw.SetReadDeadline(t)
}

// WriteFrame sends one frame followed by the delimiter.
//
// Precondition: frame must not contain the delimiter.
// Postcondition: frame + delimiter is written to the connection.
func (c *Conn) WriteFrame(frame string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := fmt.Fprintf(c.raw, "%s%c", frame, FrameDelim)
	return err
}

// Close closes the underlying TCP connection.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// markJoined transitions joining → relaying, recording the room code.
//
// Postcondition: Returns false if the connection was not in the joining
// state (already joined or closed); the state is then unchanged.
func (c *Conn) markJoined(code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateJoining {
		return false
	}
	c.state = stateRelaying
	c.code = code
	return true
}

// Joined reports whether the connection has joined a room.
func (c *Conn) Joined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateRelaying
}

// Code returns the joined room code, or "" before a join.
func (c *Conn) Code() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

// closeOnce transitions the connection into the terminal closed state.
//
// Postcondition: Returns the joined room code (if any), whether the
// connection had joined a room, and whether this call performed the
// transition. Only the first caller observes ok == true, so cleanup tied
// to the transition runs exactly once.
func (c *Conn) closeOnce() (code string, joined, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return "", false, false
	}
	joined = c.state == stateRelaying
	c.state = stateClosed
	return c.code, joined, true
}
