package aggregation

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/partyround/backbone/broadcast"
	"github.com/partyround/backbone/config"
	"github.com/partyround/backbone/logger"
	"github.com/partyround/backbone/models"
	"github.com/partyround/backbone/persistence"
	"github.com/partyround/backbone/session"
)

// MockConnection records decoded outbound messages.
type MockConnection struct {
	mu   sync.Mutex
	open bool
	sent []map[string]any
}

func (m *MockConnection) record(payload []byte) {
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return
	}
	m.mu.Lock()
	m.sent = append(m.sent, decoded)
	m.mu.Unlock()
}

func (m *MockConnection) SendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.record(payload)
	return nil
}

func (m *MockConnection) SendText(payload []byte) error                 { m.record(payload); return nil }
func (m *MockConnection) Ping() error                                   { return nil }
func (m *MockConnection) ReadMessage() ([]byte, error)                  { return nil, nil }
func (m *MockConnection) IsOpen() bool                                  { return m.open }
func (m *MockConnection) Close() error                                  { m.open = false; return nil }
func (m *MockConnection) CloseWithReason(code int, reason string) error { return m.Close() }
func (m *MockConnection) RemoteAddr() net.Addr                          { return &net.TCPAddr{} }

func (m *MockConnection) messagesOfType(msgType string) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []map[string]any
	for _, msg := range m.sent {
		if msg["type"] == msgType {
			out = append(out, msg)
		}
	}
	return out
}

func waitForType(t *testing.T, conn *MockConnection, msgType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := conn.messagesOfType(msgType); len(msgs) > 0 {
			return msgs[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s message", msgType)
	return nil
}

func TestMain(m *testing.M) {
	logger.InitDevelopment()
	os.Exit(m.Run())
}

func testTTL() persistence.TTLPolicy {
	return persistence.TTLPolicy{
		Created: 15 * time.Minute, Waiting: 30 * time.Minute, Playing: 40 * time.Minute,
		Ended: 5 * time.Minute, Player: 2 * time.Hour, Idempotency: 10 * time.Minute,
	}
}

type fixture struct {
	store     *persistence.MemoryRoomStore
	registry  *session.Registry
	service   *Service
	adminConn *MockConnection
	conns     map[string]*MockConnection
}

// newFixture builds a room with an administrator and two players, already
// initialized to the given game sequence.
func newFixture(t *testing.T, games []models.GameType) *fixture {
	t.Helper()
	ctx := context.Background()

	store := persistence.NewMemoryRoomStore(testTTL(), 30*time.Second)
	registry := session.NewRegistry()
	broadcaster := broadcast.NewBroadcaster(config.BroadcastConfig{WorkerCount: 2, QueueCapacity: 32})
	t.Cleanup(broadcaster.Close)

	require.NoError(t, store.CreateRoom(ctx, "123456", "admin-1"))
	require.NoError(t, store.AddPlayer(ctx, "123456", "p1", "Ann"))
	require.NoError(t, store.AddPlayer(ctx, "123456", "p2", "Ben"))
	require.NoError(t, store.InitializeRoom(ctx, "123456", games, len(games)))

	f := &fixture{
		store:    store,
		registry: registry,
		service:  NewService(store, registry, broadcaster, 3),
		conns:    make(map[string]*MockConnection),
	}

	f.adminConn = &MockConnection{open: true}
	registry.Register("admin-1", session.NewSession("admin-1", "123456", f.adminConn))
	for _, userID := range []string{"p1", "p2"} {
		conn := &MockConnection{open: true}
		f.conns[userID] = conn
		registry.Register(userID, session.NewSession(userID, "123456", conn))
	}
	return f
}

func TestAggregateRoundFansOutResults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []models.GameType{models.GameReaction, models.GameClicker, models.GameDice})

	_, err := f.store.StartGame(ctx, "123456")
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateScore(ctx, "123456", "p1", 100))
	require.NoError(t, f.store.UpdateScore(ctx, "123456", "p2", 50))

	require.NoError(t, f.service.AggregateRound(ctx, "123456"))

	p1Result := waitForType(t, f.conns["p1"], models.TypeAggregatedUser)
	require.EqualValues(t, 1, p1Result["currentRound"])
	require.EqualValues(t, 3, p1Result["totalRound"])
	require.EqualValues(t, 100, p1Result["currentScore"])
	require.EqualValues(t, 1, p1Result["roundRank"])
	require.EqualValues(t, 1, p1Result["overallRank"])
	require.Equal(t, "1", p1Result["rankRecord"])

	p2Result := waitForType(t, f.conns["p2"], models.TypeAggregatedUser)
	require.EqualValues(t, 2, p2Result["roundRank"])
	require.Equal(t, "2", p2Result["rankRecord"])

	adminResult := waitForType(t, f.adminConn, models.TypeAggregatedAdmin)
	first := adminResult["firstPlace"].(map[string]any)
	last := adminResult["lastPlace"].(map[string]any)
	require.Equal(t, "p1", first["userId"])
	require.Equal(t, "p2", last["userId"])
	require.Len(t, adminResult["roundRanking"], 2)

	// Not the last round, so the next game is announced and the room waits
	// for the next start command.
	next := waitForType(t, f.conns["p1"], models.TypeNextGame)
	require.Equal(t, string(models.GameClicker), next["gameType"])
	require.EqualValues(t, 2, next["currentRound"])

	state, err := f.store.GetState(ctx, "123456")
	require.NoError(t, err)
	require.Equal(t, models.StateWaiting, state)
}

func TestAggregateFinalRoundEndsGame(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []models.GameType{models.GameReaction})

	_, err := f.store.StartGame(ctx, "123456")
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateScore(ctx, "123456", "p1", 100))
	require.NoError(t, f.store.UpdateScore(ctx, "123456", "p2", 50))

	require.NoError(t, f.service.AggregateRound(ctx, "123456"))

	end := waitForType(t, f.conns["p2"], models.TypeEnd)
	standings := end["overallRanking"].([]any)
	require.Len(t, standings, 2)
	top := standings[0].(map[string]any)
	require.Equal(t, "p1", top["userId"])
	require.EqualValues(t, 1, top["rank"])

	waitForType(t, f.adminConn, models.TypeEnd)

	state, err := f.store.GetState(ctx, "123456")
	require.NoError(t, err)
	require.Equal(t, models.StateEnded, state)
}

func TestAggregateSkipsUnsubmittedPlayers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []models.GameType{models.GameReaction, models.GameClicker})

	_, err := f.store.StartGame(ctx, "123456")
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateScore(ctx, "123456", "p1", 80))

	require.NoError(t, f.service.AggregateRound(ctx, "123456"))
	waitForType(t, f.conns["p1"], models.TypeAggregatedUser)

	// The non-submitter gets no personal result but a zero in the record.
	require.Empty(t, f.conns["p2"].messagesOfType(models.TypeAggregatedUser))
	require.Equal(t, "0", f.store.RankRecordOf("123456", "p2"))
	require.Equal(t, "1", f.store.RankRecordOf("123456", "p1"))
}

func TestAggregateRequiresPlayingState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []models.GameType{models.GameReaction})

	err := f.service.AggregateRound(ctx, "123456")
	require.ErrorIs(t, err, persistence.ErrInvalidState)
}

func TestAggregateObservesDuration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []models.GameType{models.GameReaction})

	var observed time.Duration
	done := make(chan struct{})
	f.service.OnAggregated = func(d time.Duration) {
		observed = d
		close(done)
	}

	_, err := f.store.StartGame(ctx, "123456")
	require.NoError(t, err)
	require.NoError(t, f.service.AggregateRound(ctx, "123456"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected an aggregation duration observation")
	}
	require.GreaterOrEqual(t, observed, time.Duration(0))
}
