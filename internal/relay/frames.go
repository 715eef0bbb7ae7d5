// Package relay implements the data plane: a TCP acceptor for persistent
// connections speaking a newline-delimited frame protocol, and the
// join/forward session state machine that pairs two connections per room.
package relay

import (
	"bytes"
	"strings"
)

// Wire protocol vocabulary. Clients open with a join request and then
// exchange opaque frames; the server emits pairing and lifecycle
// notifications on the same stream.
const (
	// FrameDelim terminates every frame.
	FrameDelim byte = '\n'

	// JoinPrefix marks a join request: "JOIN:<code>".
	JoinPrefix = "JOIN:"

	// MsgPaired is sent to both connections when a room fills.
	MsgPaired = "PAIRED"
	// MsgOpponentLeft is sent to the survivor when its peer disconnects.
	MsgOpponentLeft = "OPPONENT_LEFT"

	// Error frames precede a forced close of the offending connection.
	ErrFrameRoomFull      = "ERROR:Room full"
	ErrFrameInProgress    = "ERROR:Game already in progress"
	ErrFrameExpectedJoin  = "ERROR:Expected join request"
	ErrFrameAlreadyJoined = "ERROR:Already joined"

	// StartMarker is the in-band substring that flips a room to started.
	StartMarker = "START_GAME"
)

// SplitFrames appends chunk to the partial-frame buffer buf and splits the
// result on the frame delimiter. Every complete frame is returned in
// arrival order; whatever follows the last delimiter is returned as the
// new buffer contents. A frame may be split across any number of chunks.
//
// Postcondition: rest never contains a delimiter.
func SplitFrames(buf, chunk []byte) (frames []string, rest []byte) {
	data := append(buf, chunk...)
	for {
		i := bytes.IndexByte(data, FrameDelim)
		if i < 0 {
			break
		}
		frames = append(frames, string(data[:i]))
		data = data[i+1:]
	}
	return frames, data
}

// FrameInspector decides whether a forwarded frame signals game start.
// The relay never interprets payload content beyond this check, so the
// detection rule is swappable without touching the forwarding core.
type FrameInspector interface {
	GameStarted(frame string) bool
}

// MarkerInspector reports game start when a frame contains a fixed
// substring.
type MarkerInspector struct {
	Marker string
}

// GameStarted reports whether frame contains the marker.
func (m MarkerInspector) GameStarted(frame string) bool {
	return strings.Contains(frame, m.Marker)
}

// DefaultInspector returns the stock start-of-game detector.
func DefaultInspector() FrameInspector {
	return MarkerInspector{Marker: StartMarker}
}
