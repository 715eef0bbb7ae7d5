// Package testutil provides test helpers for exercising the relay over
// real TCP connections.
package testutil

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

// LineClient is a newline-framed protocol test client for integration
// testing against a running relay acceptor.
type LineClient struct {
	conn   net.Conn
	reader *bufio.Reader
	t      *testing.T
}

// NewLineClient dials the given address and returns a test client.
//
// Precondition: addr must be a valid "host:port" string with a listening server.
// Postcondition: Returns a connected LineClient or fails the test.
func NewLineClient(t *testing.T, addr string) *LineClient {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v", addr, err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return &LineClient{
		conn:   conn,
		reader: bufio.NewReader(conn),
		t:      t,
	}
}

// SendFrame writes one frame to the server, appending the delimiter.
//
// Precondition: frame must not contain a newline.
func (c *LineClient) SendFrame(frame string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := fmt.Fprintf(c.conn, "%s\n", frame); err != nil {
		c.t.Fatalf("sending %q: %v", frame, err)
	}
}

// SendRaw writes raw bytes without any framing, for exercising frames
// split across deliveries.
func (c *LineClient) SendRaw(data string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.WriteString(c.conn, data); err != nil {
		c.t.Fatalf("sending raw %q: %v", data, err)
	}
}

// ReadFrame reads the next delimiter-terminated frame, without the
// delimiter.
//
// Postcondition: Returns the frame, or fails the test on error/timeout.
func (c *LineClient) ReadFrame(timeout time.Duration) string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))

	line, err := c.reader.ReadString('\n')
	if err != nil {
		c.t.Fatalf("reading frame: got %q, error: %v", line, err)
	}
	return strings.TrimSuffix(line, "\n")
}

// ExpectClosed asserts that the server closes the connection within the
// timeout without sending further frames.
func (c *LineClient) ExpectClosed(timeout time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))

	line, err := c.reader.ReadString('\n')
	if err == nil {
		c.t.Fatalf("expected closed connection, read %q", line)
	}
	if !strings.Contains(err.Error(), "EOF") &&
		!strings.Contains(err.Error(), "closed") &&
		!strings.Contains(err.Error(), "reset") {
		c.t.Fatalf("expected EOF, got: %v", err)
	}
}

// Close closes the underlying connection.
func (c *LineClient) Close() {
	c.conn.Close()
}
