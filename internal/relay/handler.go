package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/blockduel/relay/internal/room"
)

// Handler drives the relay protocol for one connection: join, pair,
// forward, and tear down. Registry mutations go through the room Manager;
// all socket writes happen outside the registry lock and are
// fire-and-forget, so a slow peer never blocks its sender's state
// transitions.
type Handler struct {
	manager     *room.Manager
	inspector   FrameInspector
	joinTimeout time.Duration
	logger      *zap.Logger
}

var _ SessionHandler = (*Handler)(nil)

// NewHandler creates a relay session handler.
//
// Precondition: manager, inspector, and logger must be non-nil.
// joinTimeout <= 0 disables the join deadline.
func NewHandler(manager *room.Manager, inspector FrameInspector, joinTimeout time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		manager:     manager,
		inspector:   inspector,
		joinTimeout: joinTimeout,
		logger:      logger,
	}
}

// HandleConn runs the read loop for one connection until it disconnects,
// errs, or violates the protocol. Cleanup runs exactly once on the way
// out, on the connection's transition into its terminal state.
//
// Postcondition: The connection is detached from its room (if joined) and
// closed.
func (h *Handler) HandleConn(ctx context.Context, conn *Conn) error {
	defer h.cleanup(conn)

	if h.joinTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(h.joinTimeout))
	}

	var buf []byte
	chunk := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := conn.Read(chunk)
		if n > 0 {
			var frames []string
			frames, buf = SplitFrames(buf, chunk[:n])
			for _, frame := range frames {
				if done := h.handleFrame(conn, frame); done {
					return nil
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// handleFrame processes one complete frame. It returns true when the
// connection must be closed (protocol violation), which unwinds the read
// loop into cleanup.
func (h *Handler) handleFrame(conn *Conn, frame string) (done bool) {
	if !conn.Joined() {
		return h.handleJoin(conn, frame)
	}

	if strings.HasPrefix(frame, JoinPrefix) {
		_ = conn.WriteFrame(ErrFrameAlreadyJoined)
		return true
	}

	code := conn.Code()
	if h.inspector.GameStarted(frame) && h.manager.StartGame(code) {
		h.logger.Info("game started",
			zap.String("room", code),
			zap.String("conn_id", conn.ID()),
		)
	}

	for _, peer := range h.manager.Peers(code, conn) {
		if err := peer.WriteFrame(frame); err != nil {
			// The peer's own read loop will observe the broken
			// transport and run its cleanup.
			h.logger.Debug("forwarding to peer failed",
				zap.String("room", code),
				zap.String("peer_id", peer.ID()),
				zap.Error(err),
			)
		}
	}
	return false
}

// handleJoin processes the mandatory first frame.
func (h *Handler) handleJoin(conn *Conn, frame string) (done bool) {
	if !strings.HasPrefix(frame, JoinPrefix) {
		_ = conn.WriteFrame(ErrFrameExpectedJoin)
		return true
	}
	code := room.NormalizeCode(strings.TrimPrefix(frame, JoinPrefix))
	if code == "" {
		_ = conn.WriteFrame(ErrFrameExpectedJoin)
		return true
	}

	res, err := h.manager.Attach(code, conn)
	switch {
	case errors.Is(err, room.ErrRoomFull):
		_ = conn.WriteFrame(ErrFrameRoomFull)
		return true
	case errors.Is(err, room.ErrInProgress):
		_ = conn.WriteFrame(ErrFrameInProgress)
		return true
	case err != nil:
		h.logger.Error("attaching connection",
			zap.String("room", code),
			zap.String("conn_id", conn.ID()),
			zap.Error(err),
		)
		return true
	}

	conn.markJoined(code)
	// Joined connections may legitimately idle between frames.
	_ = conn.SetReadDeadline(time.Time{})

	h.logger.Info("connection joined room",
		zap.String("room", code),
		zap.String("conn_id", conn.ID()),
		zap.Bool("paired", res.Outcome == room.AttachedPaired),
	)

	if res.Outcome == room.AttachedPaired {
		for _, mem := range res.Members {
			if err := mem.WriteFrame(MsgPaired); err != nil {
				h.logger.Debug("notifying paired member failed",
					zap.String("room", code),
					zap.String("peer_id", mem.ID()),
					zap.Error(err),
				)
			}
		}
	}
	return false
}

// cleanup detaches the connection from its room and notifies the
// survivor. The closeOnce transition guarantees it runs at most once per
// connection regardless of how the session ended.
func (h *Handler) cleanup(conn *Conn) {
	code, joined, first := conn.closeOnce()
	if !first {
		return
	}
	defer conn.Close()

	if !joined {
		return
	}

	res := h.manager.Detach(code, conn)
	if !res.Found {
		// Room already gone; nothing to unwind.
		return
	}
	if res.Deleted {
		h.logger.Info("room torn down",
			zap.String("room", code),
			zap.String("conn_id", conn.ID()),
		)
		return
	}
	for _, peer := range res.Remaining {
		if err := peer.WriteFrame(MsgOpponentLeft); err != nil {
			h.logger.Debug("notifying survivor failed",
				zap.String("room", code),
				zap.String("peer_id", peer.ID()),
				zap.Error(err),
			)
		}
	}
}
