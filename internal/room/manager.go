package room

import (
	"sync"
	"time"

	"github.com/blockduel/relay/internal/config"
)

// state is the single authoritative record for one live room code. It
// carries both the control-plane metadata and the relay-plane connection
// list; there is no separate session record to keep in sync.
type state struct {
	code          string
	hostName      string
	isPublic      bool
	createdAt     time.Time
	lastHeartbeat time.Time
	gameStarted   bool
	members       []Member // ordered, len <= MaxPlayers
}

// Manager tracks all live rooms and their attached connections.
// All methods are safe for concurrent use; one lock serializes every
// room-state transition, which substitutes for the single-threaded event
// loop consistency the design assumes.
type Manager struct {
	mu     sync.RWMutex
	rooms  map[string]*state
	public map[string]struct{} // codes of public rooms, lazily pruned

	codeLength   int
	codeAttempts int
	staleAfter   time.Duration

	now func() time.Time
}

var _ Store = (*Manager)(nil)

// NewManager creates an empty Manager configured from cfg.
//
// Precondition: cfg must satisfy config validation (positive attempts,
// sane code length, positive stale_after).
func NewManager(cfg config.RoomsConfig) *Manager {
	return &Manager{
		rooms:        make(map[string]*state),
		public:       make(map[string]struct{}),
		codeLength:   cfg.CodeLength,
		codeAttempts: cfg.CodeAttempts,
		staleAfter:   cfg.StaleAfter,
		now:          time.Now,
	}
}

// Create mints a room under a fresh unique code.
//
// Postcondition: Returns the new room's snapshot, or ErrCodeExhausted if
// every generation attempt collided with a live code.
func (m *Manager) Create(hostName string, isPublic bool) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var code string
	for attempt := 0; attempt < m.codeAttempts; attempt++ {
		c, err := GenerateCode(m.codeLength)
		if err != nil {
			return Info{}, err
		}
		if _, taken := m.rooms[c]; !taken {
			code = c
			break
		}
	}
	if code == "" {
		return Info{}, ErrCodeExhausted
	}

	now := m.now()
	s := &state{
		code:          code,
		hostName:      hostName,
		isPublic:      isPublic,
		createdAt:     now,
		lastHeartbeat: now,
	}
	m.rooms[code] = s
	if isPublic {
		m.public[code] = struct{}{}
	}
	return m.snapshot(s), nil
}

// Get returns a snapshot of the room with the given code.
//
// Postcondition: Returns (snapshot, true) if the room exists, or
// (zero, false) otherwise.
func (m *Manager) Get(code string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.rooms[code]
	if !ok {
		return Info{}, false
	}
	return m.snapshot(s), true
}

// PublicRooms returns the rooms eligible for public listing: public,
// not full, not started, and heartbeat fresher than the staleness window.
// Stale or vanished codes are evicted from the public index as a side
// effect; full or started rooms stay indexed so they reappear once a
// player slot frees up.
func (m *Manager) PublicRooms() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rooms := make([]Info, 0, len(m.public))
	for code := range m.public {
		s, ok := m.rooms[code]
		if !ok {
			delete(m.public, code)
			continue
		}
		if now.Sub(s.lastHeartbeat) >= m.staleAfter {
			delete(m.public, code)
			continue
		}
		if len(s.members) >= MaxPlayers || s.gameStarted {
			continue
		}
		rooms = append(rooms, m.snapshot(s))
	}
	return rooms
}

// ValidateJoin checks whether the room can accept another player. It does
// not change occupancy; the relay plane drives the actual join.
//
// Postcondition: Returns the room snapshot and nil, or ErrNotFound,
// ErrRoomFull, or ErrInProgress.
func (m *Manager) ValidateJoin(code string) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.rooms[code]
	if !ok {
		return Info{}, ErrNotFound
	}
	if s.gameStarted {
		return Info{}, ErrInProgress
	}
	if len(s.members) >= MaxPlayers {
		return Info{}, ErrRoomFull
	}
	return m.snapshot(s), nil
}

// Heartbeat refreshes the room's liveness timestamp. A public room that
// had been pruned from the listing index for staleness is re-indexed.
//
// Postcondition: Returns nil, or ErrNotFound if the room no longer exists.
func (m *Manager) Heartbeat(code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rooms[code]
	if !ok {
		return ErrNotFound
	}
	s.lastHeartbeat = m.now()
	if s.isPublic {
		m.public[code] = struct{}{}
	}
	return nil
}

// AttachOutcome describes how an Attach changed the room.
type AttachOutcome int

const (
	// AttachedWaiting means the connection is the room's only occupant.
	AttachedWaiting AttachOutcome = iota
	// AttachedPaired means the connection completed the pair.
	AttachedPaired
)

// AttachResult reports the outcome of an Attach. Members holds both
// connections when pairing completed, so the caller can notify them.
type AttachResult struct {
	Outcome AttachOutcome
	Members []Member
}

// Attach adds a relay connection to the room with the given code,
// lazily creating an unlisted room record when the code is unknown.
//
// Postcondition: On success the member is in the room's connection list.
// Returns ErrInProgress if the room's game has started, or ErrRoomFull if
// it already holds MaxPlayers connections; in both cases the room is
// unchanged.
func (m *Manager) Attach(code string, mem Member) (AttachResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rooms[code]
	if !ok {
		now := m.now()
		s = &state{
			code:          code,
			createdAt:     now,
			lastHeartbeat: now,
		}
		m.rooms[code] = s
	}

	if len(s.members) >= MaxPlayers {
		if s.gameStarted {
			return AttachResult{}, ErrInProgress
		}
		return AttachResult{}, ErrRoomFull
	}

	s.members = append(s.members, mem)
	if len(s.members) < MaxPlayers {
		return AttachResult{Outcome: AttachedWaiting}, nil
	}

	both := make([]Member, len(s.members))
	copy(both, s.members)
	return AttachResult{Outcome: AttachedPaired, Members: both}, nil
}

// DetachResult reports the outcome of a Detach. Remaining holds the
// survivors to notify; Deleted is true when the room record was removed
// because its last connection left.
type DetachResult struct {
	Found     bool
	Deleted   bool
	Remaining []Member
}

// Detach removes a relay connection from the room. When connections
// remain, the game-started flag is reset so the room can be rejoined;
// when none remain, the room is deleted entirely. Detaching from an
// unknown room or a room that does not hold the member is a no-op.
func (m *Manager) Detach(code string, mem Member) DetachResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rooms[code]
	if !ok {
		return DetachResult{}
	}

	kept := s.members[:0]
	found := false
	for _, other := range s.members {
		if other.ID() == mem.ID() {
			found = true
			continue
		}
		kept = append(kept, other)
	}
	if !found {
		return DetachResult{}
	}
	s.members = kept

	if len(s.members) == 0 {
		delete(m.rooms, code)
		delete(m.public, code)
		return DetachResult{Found: true, Deleted: true}
	}

	s.gameStarted = false
	remaining := make([]Member, len(s.members))
	copy(remaining, s.members)
	return DetachResult{Found: true, Remaining: remaining}
}

// StartGame flips the room's game-started flag.
//
// Postcondition: Returns true if the room exists, holds a full pair, and
// was not already started; false otherwise (no state change).
func (m *Manager) StartGame(code string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rooms[code]
	if !ok || s.gameStarted || len(s.members) < MaxPlayers {
		return false
	}
	s.gameStarted = true
	return true
}

// Peers returns the room's connections other than except, for forwarding.
//
// Postcondition: Returns a copy safe to iterate without the lock (may be
// empty).
func (m *Manager) Peers(code string, except Member) []Member {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.rooms[code]
	if !ok {
		return nil
	}
	peers := make([]Member, 0, len(s.members))
	for _, other := range s.members {
		if other.ID() != except.ID() {
			peers = append(peers, other)
		}
	}
	return peers
}

// RoomCount returns the number of live room records.
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// snapshot copies a state into an Info. Callers must hold at least a read
// lock.
func (m *Manager) snapshot(s *state) Info {
	return Info{
		Code:          s.code,
		HostName:      s.hostName,
		IsPublic:      s.isPublic,
		Players:       len(s.members),
		MaxPlayers:    MaxPlayers,
		CreatedAt:     s.createdAt.UnixMilli(),
		LastHeartbeat: s.lastHeartbeat.UnixMilli(),
		GameStarted:   s.gameStarted,
	}
}
