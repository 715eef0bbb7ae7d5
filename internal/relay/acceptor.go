package relay

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blockduel/relay/internal/config"
)

// SessionHandler processes one relay connection from join through cleanup.
type SessionHandler interface {
	HandleConn(ctx context.Context, conn *Conn) error
}

// Acceptor listens for relay connections on a TCP port and dispatches
// each connection to a SessionHandler.
type Acceptor struct {
	cfg     config.RelayConfig
	handler SessionHandler
	logger  *zap.Logger

	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
	active   map[*Conn]struct{}
}

// NewAcceptor creates a relay acceptor with the given configuration.
//
// Precondition: cfg must have a valid port; handler and logger must be non-nil.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(cfg config.RelayConfig, handler SessionHandler, logger *zap.Logger) *Acceptor {
	return &Acceptor{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		quit:    make(chan struct{}),
		active:  make(map[*Conn]struct{}),
	}
}

// ListenAndServe starts the TCP listener and accepts connections until
// Stop is called. This method blocks until the acceptor is stopped.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	a.mu.Lock()
	a.listener = listener
	a.running = true
	a.mu.Unlock()

	a.logger.Info("relay acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.Duration("startup", time.Since(start)),
	)

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-a.quit:
				return nil
			default:
				a.logger.Error("accepting connection", zap.Error(err))
				continue
			}
		}

		a.wg.Add(1)
		go a.handleConn(conn)
	}
}

// handleConn processes a single TCP connection.
func (a *Acceptor) handleConn(raw net.Conn) {
	defer a.wg.Done()
	start := time.Now()
	addr := raw.RemoteAddr().String()

	conn := NewConn(raw, a.cfg.WriteTimeout)
	a.track(conn)
	defer a.untrack(conn)
	defer conn.Close()

	a.logger.Info("client connected",
		zap.String("remote_addr", addr),
		zap.String("conn_id", conn.ID()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel context when quit signal received
	go func() {
		select {
		case <-a.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := a.handler.HandleConn(ctx, conn); err != nil {
		a.logger.Debug("session ended",
			zap.String("remote_addr", addr),
			zap.String("conn_id", conn.ID()),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
	} else {
		a.logger.Info("session ended cleanly",
			zap.String("remote_addr", addr),
			zap.String("conn_id", conn.ID()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func (a *Acceptor) track(conn *Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active[conn] = struct{}{}
}

func (a *Acceptor) untrack(conn *Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.active, conn)
}

// Stop gracefully stops the acceptor: the listener is closed, every
// active connection is closed so its session unwinds through cleanup,
// and all session goroutines are waited for.
//
// Postcondition: All connections are closed and goroutines have exited.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false

	close(a.quit)
	if a.listener != nil {
		a.listener.Close()
	}
	for conn := range a.active {
		_ = conn.Close()
	}
	a.mu.Unlock()

	a.wg.Wait()

	a.logger.Info("relay acceptor stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
