package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/blockduel/relay/internal/config"
	"github.com/blockduel/relay/internal/room"
	"github.com/blockduel/relay/internal/testutil"
)

const waitFor = 2 * time.Second

// startRelay boots a manager and an acceptor on a random port.
func startRelay(t *testing.T, joinTimeout time.Duration) (*room.Manager, string) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	mgr := room.NewManager(config.RoomsConfig{
		CodeLength:   6,
		CodeAttempts: 10,
		StaleAfter:   60 * time.Second,
	})
	handler := NewHandler(mgr, DefaultInspector(), joinTimeout, logger)
	acc := NewAcceptor(config.RelayConfig{
		Host:         "127.0.0.1",
		Port:         0, // random port
		JoinTimeout:  joinTimeout,
		WriteTimeout: 5 * time.Second,
	}, handler, logger)

	go func() {
		_ = acc.ListenAndServe()
	}()

	deadline := time.After(waitFor)
	for {
		if acc.IsRunning() && acc.Addr() != "" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("acceptor did not start in time")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	t.Cleanup(acc.Stop)
	return mgr, acc.Addr()
}

// joinWaiting joins a client and waits until the manager reflects it.
func joinWaiting(t *testing.T, mgr *room.Manager, addr, code string) *testutil.LineClient {
	t.Helper()
	c := testutil.NewLineClient(t, addr)
	c.SendFrame(JoinPrefix + code)
	require.Eventually(t, func() bool {
		info, ok := mgr.Get(code)
		return ok && info.Players == 1
	}, waitFor, 10*time.Millisecond, "first join was not registered")
	return c
}

// pairedClients joins two clients to code and consumes both PAIRED frames.
func pairedClients(t *testing.T, mgr *room.Manager, addr, code string) (*testutil.LineClient, *testutil.LineClient) {
	t.Helper()
	a := joinWaiting(t, mgr, addr, code)
	b := testutil.NewLineClient(t, addr)
	b.SendFrame(JoinPrefix + code)

	assert.Equal(t, MsgPaired, a.ReadFrame(waitFor))
	assert.Equal(t, MsgPaired, b.ReadFrame(waitFor))
	return a, b
}

func TestJoinCreatesWaitingSession(t *testing.T) {
	mgr, addr := startRelay(t, 5*time.Second)
	info, err := mgr.Create("Host", false)
	require.NoError(t, err)

	joinWaiting(t, mgr, addr, info.Code)

	got, ok := mgr.Get(info.Code)
	require.True(t, ok)
	assert.Equal(t, 1, got.Players)
	assert.False(t, got.GameStarted)
}

func TestSecondJoinPairsBoth(t *testing.T) {
	mgr, addr := startRelay(t, 5*time.Second)
	info, err := mgr.Create("Host", false)
	require.NoError(t, err)

	pairedClients(t, mgr, addr, info.Code)

	got, _ := mgr.Get(info.Code)
	assert.Equal(t, 2, got.Players)
}

func TestJoinCodeIsNormalized(t *testing.T) {
	mgr, addr := startRelay(t, 5*time.Second)
	info, err := mgr.Create("Host", false)
	require.NoError(t, err)

	c := testutil.NewLineClient(t, addr)
	c.SendFrame(JoinPrefix + "  " + lower(info.Code) + " ")
	require.Eventually(t, func() bool {
		got, ok := mgr.Get(info.Code)
		return ok && got.Players == 1
	}, waitFor, 10*time.Millisecond)
}

func TestForwardingVerbatim(t *testing.T) {
	mgr, addr := startRelay(t, 5*time.Second)
	info, err := mgr.Create("Host", false)
	require.NoError(t, err)
	a, b := pairedClients(t, mgr, addr, info.Code)

	a.SendFrame("MOVE:left")
	assert.Equal(t, "MOVE:left", b.ReadFrame(waitFor))

	b.SendFrame(`{"board":[1,2,3]}`)
	assert.Equal(t, `{"board":[1,2,3]}`, a.ReadFrame(waitFor))
}

func TestForwardingFragmentedFrames(t *testing.T) {
	mgr, addr := startRelay(t, 5*time.Second)
	info, err := mgr.Create("Host", false)
	require.NoError(t, err)
	a, b := pairedClients(t, mgr, addr, info.Code)

	a.SendRaw("A\nB\n")
	assert.Equal(t, "A", b.ReadFrame(waitFor))
	assert.Equal(t, "B", b.ReadFrame(waitFor))

	// "C" is withheld until its terminator arrives.
	a.SendRaw("C")
	a.SendRaw("D\n")
	assert.Equal(t, "CD", b.ReadFrame(waitFor))
}

func TestStartSentinelFlipsGameStarted(t *testing.T) {
	mgr, addr := startRelay(t, 5*time.Second)
	info, err := mgr.Create("Host", true)
	require.NoError(t, err)
	a, b := pairedClients(t, mgr, addr, info.Code)

	a.SendFrame("START_GAME:seed=42")
	// Sentinel frames are still forwarded verbatim.
	assert.Equal(t, "START_GAME:seed=42", b.ReadFrame(waitFor))

	require.Eventually(t, func() bool {
		got, ok := mgr.Get(info.Code)
		return ok && got.GameStarted
	}, waitFor, 10*time.Millisecond)
	assert.Empty(t, mgr.PublicRooms(), "started room must leave the listing")
}

func TestThirdJoinRejectedRoomFull(t *testing.T) {
	mgr, addr := startRelay(t, 5*time.Second)
	info, err := mgr.Create("Host", false)
	require.NoError(t, err)
	pairedClients(t, mgr, addr, info.Code)

	c := testutil.NewLineClient(t, addr)
	c.SendFrame(JoinPrefix + info.Code)
	assert.Equal(t, ErrFrameRoomFull, c.ReadFrame(waitFor))
	c.ExpectClosed(waitFor)

	got, _ := mgr.Get(info.Code)
	assert.Equal(t, 2, got.Players, "rejected join must leave the session unchanged")
}

func TestJoinStartedGameRejected(t *testing.T) {
	mgr, addr := startRelay(t, 5*time.Second)
	info, err := mgr.Create("Host", false)
	require.NoError(t, err)
	a, b := pairedClients(t, mgr, addr, info.Code)

	a.SendFrame(StartMarker)
	assert.Equal(t, StartMarker, b.ReadFrame(waitFor))
	require.Eventually(t, func() bool {
		got, ok := mgr.Get(info.Code)
		return ok && got.GameStarted
	}, waitFor, 10*time.Millisecond)

	c := testutil.NewLineClient(t, addr)
	c.SendFrame(JoinPrefix + info.Code)
	assert.Equal(t, ErrFrameInProgress, c.ReadFrame(waitFor))
	c.ExpectClosed(waitFor)
}

func TestDisconnectNotifiesSurvivorAndResets(t *testing.T) {
	mgr, addr := startRelay(t, 5*time.Second)
	info, err := mgr.Create("Host", false)
	require.NoError(t, err)
	a, b := pairedClients(t, mgr, addr, info.Code)

	a.SendFrame(StartMarker)
	assert.Equal(t, StartMarker, b.ReadFrame(waitFor))
	require.Eventually(t, func() bool {
		got, ok := mgr.Get(info.Code)
		return ok && got.GameStarted
	}, waitFor, 10*time.Millisecond)

	b.Close()
	assert.Equal(t, MsgOpponentLeft, a.ReadFrame(waitFor))

	require.Eventually(t, func() bool {
		got, ok := mgr.Get(info.Code)
		return ok && got.Players == 1 && !got.GameStarted
	}, waitFor, 10*time.Millisecond, "room must return to a rejoinable state")
}

func TestLastDisconnectTearsDownRoom(t *testing.T) {
	mgr, addr := startRelay(t, 5*time.Second)
	info, err := mgr.Create("Host", false)
	require.NoError(t, err)
	a, b := pairedClients(t, mgr, addr, info.Code)

	a.Close()
	assert.Equal(t, MsgOpponentLeft, b.ReadFrame(waitFor))
	b.Close()

	require.Eventually(t, func() bool {
		_, ok := mgr.Get(info.Code)
		return !ok
	}, waitFor, 10*time.Millisecond, "empty room must be deleted")

	// The code now behaves as if it never existed.
	c := testutil.NewLineClient(t, addr)
	c.SendFrame(JoinPrefix + info.Code)
	require.Eventually(t, func() bool {
		got, ok := mgr.Get(info.Code)
		return ok && got.Players == 1
	}, waitFor, 10*time.Millisecond)
}

func TestRejoinAfterOpponentLeft(t *testing.T) {
	mgr, addr := startRelay(t, 5*time.Second)
	info, err := mgr.Create("Host", false)
	require.NoError(t, err)
	a, b := pairedClients(t, mgr, addr, info.Code)

	b.Close()
	assert.Equal(t, MsgOpponentLeft, a.ReadFrame(waitFor))
	require.Eventually(t, func() bool {
		got, ok := mgr.Get(info.Code)
		return ok && got.Players == 1
	}, waitFor, 10*time.Millisecond)

	// A rematch: a new connection can pair with the survivor.
	c := testutil.NewLineClient(t, addr)
	c.SendFrame(JoinPrefix + info.Code)
	assert.Equal(t, MsgPaired, a.ReadFrame(waitFor))
	assert.Equal(t, MsgPaired, c.ReadFrame(waitFor))
}

func TestNonJoinFirstFrameRejected(t *testing.T) {
	_, addr := startRelay(t, 5*time.Second)

	c := testutil.NewLineClient(t, addr)
	c.SendFrame("MOVE:left")
	assert.Equal(t, ErrFrameExpectedJoin, c.ReadFrame(waitFor))
	c.ExpectClosed(waitFor)
}

func TestEmptyJoinCodeRejected(t *testing.T) {
	_, addr := startRelay(t, 5*time.Second)

	c := testutil.NewLineClient(t, addr)
	c.SendFrame(JoinPrefix)
	assert.Equal(t, ErrFrameExpectedJoin, c.ReadFrame(waitFor))
	c.ExpectClosed(waitFor)
}

func TestSecondJoinFrameRejected(t *testing.T) {
	mgr, addr := startRelay(t, 5*time.Second)
	info, err := mgr.Create("Host", false)
	require.NoError(t, err)
	a, b := pairedClients(t, mgr, addr, info.Code)

	a.SendFrame(JoinPrefix + info.Code)
	assert.Equal(t, ErrFrameAlreadyJoined, a.ReadFrame(waitFor))
	a.ExpectClosed(waitFor)

	// The peer is told its opponent left.
	assert.Equal(t, MsgOpponentLeft, b.ReadFrame(waitFor))
}

func TestJoinTimeoutClosesIdleConnection(t *testing.T) {
	_, addr := startRelay(t, 200*time.Millisecond)

	c := testutil.NewLineClient(t, addr)
	// Never send a join request.
	c.ExpectClosed(waitFor)
}

func TestJoinUnknownCodeCreatesAdHocRoom(t *testing.T) {
	mgr, addr := startRelay(t, 5*time.Second)

	joinWaiting(t, mgr, addr, "QQQQ22")
	got, ok := mgr.Get("QQQQ22")
	require.True(t, ok)
	assert.Equal(t, 1, got.Players)
	assert.False(t, got.IsPublic)
}

// lower is a test helper for the normalization check.
func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
