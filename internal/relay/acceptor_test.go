package relay

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/blockduel/relay/internal/config"
)

// echoSession is a test SessionHandler that echoes frames back.
type echoSession struct {
	sessionCount atomic.Int32
}

func (h *echoSession) HandleConn(_ context.Context, conn *Conn) error {
	h.sessionCount.Add(1)
	var buf []byte
	chunk := make([]byte, 256)
	for {
		n, err := conn.Read(chunk)
		if err != nil {
			return nil
		}
		var frames []string
		frames, buf = SplitFrames(buf, chunk[:n])
		for _, frame := range frames {
			if frame == "quit" {
				_ = conn.WriteFrame("bye")
				return nil
			}
			_ = conn.WriteFrame("echo: " + frame)
		}
	}
}

func waitForAcceptor(t *testing.T, acc *Acceptor) string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if acc.IsRunning() && acc.Addr() != "" {
			return acc.Addr()
		}
		select {
		case <-deadline:
			t.Fatal("acceptor did not start in time")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestAcceptorStartAndStop(t *testing.T) {
	logger := zaptest.NewLogger(t)
	handler := &echoSession{}
	cfg := config.RelayConfig{
		Host:         "127.0.0.1",
		Port:         0, // random port
		WriteTimeout: 5 * time.Second,
	}

	acc := NewAcceptor(cfg, handler, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- acc.ListenAndServe()
	}()

	addr := waitForAcceptor(t, acc)

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)

	_, err = conn.Write([]byte("hello\n"))
	require.NoError(t, err)

	buf := make([]byte, 256)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "echo: hello")

	_, _ = conn.Write([]byte("quit\n"))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _ = conn.Read(buf)
	assert.Contains(t, string(buf[:n]), "bye")

	conn.Close()

	acc.Stop()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("acceptor did not stop in time")
	}

	assert.Equal(t, int32(1), handler.sessionCount.Load())
}

func TestAcceptorStopClosesActiveConnections(t *testing.T) {
	logger := zaptest.NewLogger(t)
	handler := &echoSession{}
	cfg := config.RelayConfig{
		Host:         "127.0.0.1",
		Port:         0,
		WriteTimeout: 5 * time.Second,
	}

	acc := NewAcceptor(cfg, handler, logger)
	go func() {
		_ = acc.ListenAndServe()
	}()
	addr := waitForAcceptor(t, acc)

	// A connection that never sends anything would otherwise pin Stop.
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	// Give the acceptor time to register the connection.
	require.Eventually(t, func() bool {
		return handler.sessionCount.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		acc.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not unwind the active session")
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err, "server side must have closed the connection")
}

func TestAcceptorMultipleClients(t *testing.T) {
	logger := zaptest.NewLogger(t)
	handler := &echoSession{}
	cfg := config.RelayConfig{
		Host:         "127.0.0.1",
		Port:         0,
		WriteTimeout: 5 * time.Second,
	}

	acc := NewAcceptor(cfg, handler, logger)
	go func() {
		_ = acc.ListenAndServe()
	}()
	addr := waitForAcceptor(t, acc)

	const numClients = 3
	conns := make([]net.Conn, numClients)
	for i := 0; i < numClients; i++ {
		conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
		require.NoError(t, err)
		conns[i] = conn
	}

	for _, conn := range conns {
		_, _ = conn.Write([]byte("quit\n"))
		buf := make([]byte, 256)
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _ = conn.Read(buf)
		conn.Close()
	}

	// Give sessions time to complete
	time.Sleep(100 * time.Millisecond)

	acc.Stop()
	assert.Equal(t, int32(numClients), handler.sessionCount.Load())
}
