// Package room implements the in-memory room registry shared by the
// control plane and the relay plane. The Manager is the single mutation
// entry point for room state; occupancy is always derived from the live
// connection list, so the control-plane view can never drift from the
// relay-plane view.
package room

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// MaxPlayers is the fixed room capacity.
const MaxPlayers = 2

// Alphabet is the room-code character set. Ambiguous glyphs (I, O, 0, 1)
// are excluded so codes survive being read aloud.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var (
	// ErrNotFound indicates the room code does not name a live room.
	ErrNotFound = errors.New("room not found")
	// ErrRoomFull indicates the room already holds MaxPlayers connections.
	ErrRoomFull = errors.New("room full")
	// ErrInProgress indicates the room's game has already started.
	ErrInProgress = errors.New("game already in progress")
	// ErrCodeExhausted indicates code generation kept colliding with live
	// rooms and gave up.
	ErrCodeExhausted = errors.New("failed to generate unique room code")
)

// Info is a point-in-time snapshot of a room. Players is a projection of
// the live connection count at snapshot time. Timestamps are epoch
// milliseconds to match the public JSON contract.
type Info struct {
	Code          string `json:"code"`
	HostName      string `json:"hostName"`
	IsPublic      bool   `json:"isPublic"`
	Players       int    `json:"players"`
	MaxPlayers    int    `json:"maxPlayers"`
	CreatedAt     int64  `json:"createdAt"`
	LastHeartbeat int64  `json:"lastHeartbeat"`
	GameStarted   bool   `json:"gameStarted"`
}

// Store is the control-plane surface of the registry. The in-memory
// Manager is the canonical implementation; a durable-store variant would
// satisfy the same contract.
type Store interface {
	Create(hostName string, isPublic bool) (Info, error)
	Get(code string) (Info, bool)
	PublicRooms() []Info
	ValidateJoin(code string) (Info, error)
	Heartbeat(code string) error
}

// Member is a live relay-plane connection attached to a room. The Manager
// never writes to members itself; it hands them back to the relay plane,
// which performs all socket I/O outside the registry lock.
type Member interface {
	// ID uniquely identifies the connection.
	ID() string
	// WriteFrame sends one delimiter-terminated frame to the connection.
	WriteFrame(frame string) error
}

// NormalizeCode canonicalizes a client-supplied room code for lookup.
//
// Postcondition: Returns the code trimmed and uppercased.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// GenerateCode returns a uniformly random room code of the given length
// over Alphabet.
//
// Precondition: length must be positive.
// Postcondition: Returns a code of exactly length characters, or an error
// if the system entropy source fails.
func GenerateCode(length int) (string, error) {
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(Alphabet))))
		if err != nil {
			return "", fmt.Errorf("reading entropy: %w", err)
		}
		code[i] = Alphabet[n.Int64()]
	}
	return string(code), nil
}
