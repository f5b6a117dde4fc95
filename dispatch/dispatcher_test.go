package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/partyround/backbone/broadcast"
	"github.com/partyround/backbone/config"
	"github.com/partyround/backbone/logger"
	"github.com/partyround/backbone/models"
	"github.com/partyround/backbone/persistence"
	"github.com/partyround/backbone/session"
)

// MockConnection records every outbound message, decoded, so tests can
// assert on replies and broadcasts alike.
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

func (m *MockConnection) SendText(payload []byte) error {
	m.record(payload)
	return nil
}

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

// waitForType polls for an asynchronously delivered message.
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

type fixture struct {
	store      *persistence.MemoryRoomStore
	dispatcher *Dispatcher
	registry   *session.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ttl := persistence.TTLPolicy{
		Created: 15 * time.Minute, Waiting: 30 * time.Minute, Playing: 40 * time.Minute,
		Ended: 5 * time.Minute, Player: 2 * time.Hour, Idempotency: 10 * time.Minute,
	}
	store := persistence.NewMemoryRoomStore(ttl, 30*time.Second)
	idem := persistence.NewMemoryIdempotencyStore(ttl.Idempotency)
	registry := session.NewRegistry()
	broadcaster := broadcast.NewBroadcaster(config.BroadcastConfig{WorkerCount: 2, QueueCapacity: 32})
	t.Cleanup(broadcaster.Close)

	return &fixture{
		store:      store,
		dispatcher: NewDispatcher(store, idem, registry, broadcaster),
		registry:   registry,
	}
}

func (f *fixture) createRoom(t *testing.T, roomCode string) {
	t.Helper()
	if err := f.store.CreateRoom(context.Background(), roomCode, "admin-1"); err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
}

func (f *fixture) connectAdmin(t *testing.T, roomCode string) (*session.Session, *MockConnection) {
	t.Helper()
	conn := &MockConnection{open: true}
	sess := session.NewSession("", roomCode, conn)

	frame := []byte(`{"type":"ADMIN_JOIN","requestId":"join-admin","administratorId":"admin-1"}`)
	if err := f.dispatcher.DispatchAdmin(context.Background(), sess, frame); err != nil {
		t.Fatalf("Admin join failed: %v", err)
	}
	return sess, conn
}

func (f *fixture) joinUser(t *testing.T, roomCode, nickname string) (*session.Session, *MockConnection, string) {
	t.Helper()
	conn := &MockConnection{open: true}
	sess := session.NewSession("", roomCode, conn)

	frame := []byte(fmt.Sprintf(`{"type":"USER_JOIN","requestId":"join-%s","nickname":"%s"}`, nickname, nickname))
	if err := f.dispatcher.DispatchUser(context.Background(), sess, frame); err != nil {
		t.Fatalf("User join failed: %v", err)
	}

	joined := conn.messagesOfType(models.TypeUserJoined)
	if len(joined) != 1 {
		t.Fatalf("Expected one USER_JOINED reply, got %d", len(joined))
	}
	return sess, conn, joined[0]["userId"].(string)
}

func TestAdminJoinAndUserJoinFlow(t *testing.T) {
	f := newFixture(t)
	f.createRoom(t, "123456")

	adminSess, adminConn := f.connectAdmin(t, "123456")
	if adminSess.ID != "admin-1" {
		t.Fatalf("Admin session should be bound to admin-1, got %q", adminSess.ID)
	}
	if len(adminConn.messagesOfType(models.TypeAdminJoined)) != 1 {
		t.Fatal("Expected ADMIN_JOINED reply")
	}

	userSess, _, userID := f.joinUser(t, "123456", "Ann")
	if userSess.ID != userID {
		t.Fatalf("User session id should match minted user id")
	}
	if _, exists := f.registry.Get(userID); !exists {
		t.Fatal("Joined user must be registered")
	}

	mirrored := waitForType(t, adminConn, models.TypeUserJoinedAdmin)
	if mirrored["nickname"] != "Ann" {
		t.Errorf("Admin mirror should carry the nickname, got %v", mirrored)
	}
	if mirrored["userCount"].(float64) != 1 {
		t.Errorf("Expected userCount 1, got %v", mirrored["userCount"])
	}
}

func TestUserJoinAllowedUntilRoundStarts(t *testing.T) {
	f := newFixture(t)
	f.createRoom(t, "123456")
	adminSess, _ := f.connectAdmin(t, "123456")

	initFrame := []byte(`{"type":"INIT","requestId":"init-1","administratorId":"admin-1","totalRound":3}`)
	if err := f.dispatcher.DispatchAdmin(context.Background(), adminSess, initFrame); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// The lobby stays open after initialization; players may still join the
	// waiting room.
	f.joinUser(t, "123456", "Ann")

	startFrame := []byte(`{"type":"START_GAME","requestId":"start-1","administratorId":"admin-1"}`)
	if err := f.dispatcher.DispatchAdmin(context.Background(), adminSess, startFrame); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	conn := &MockConnection{open: true}
	sess := session.NewSession("", "123456", conn)
	err := f.dispatcher.DispatchUser(context.Background(), sess, []byte(`{"type":"USER_JOIN","requestId":"late","nickname":"Late"}`))
	if !errors.Is(err, persistence.ErrInvalidState) {
		t.Fatalf("Expected ErrInvalidState once the round is running, got %v", err)
	}

	reply := conn.messagesOfType(models.TypeServerError)
	if len(reply) != 1 || reply[0]["code"] != models.CodeInvalidState {
		t.Fatalf("Expected INVALID_STATE error reply, got %v", reply)
	}
}

func TestDuplicateRequestSuppressed(t *testing.T) {
	f := newFixture(t)
	f.createRoom(t, "123456")
	adminSess, adminConn := f.connectAdmin(t, "123456")

	frame := []byte(`{"type":"INIT","requestId":"init-1","administratorId":"admin-1","totalRound":3}`)
	if err := f.dispatcher.DispatchAdmin(context.Background(), adminSess, frame); err != nil {
		t.Fatalf("First init failed: %v", err)
	}

	err := f.dispatcher.DispatchAdmin(context.Background(), adminSess, frame)
	if !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("Expected ErrDuplicateRequest, got %v", err)
	}

	replies := adminConn.messagesOfType(models.TypeServerError)
	if len(replies) != 1 || replies[0]["code"] != models.CodeDuplicateRequest {
		t.Fatalf("Expected DUPLICATE_REQUEST reply, got %v", replies)
	}
}

func TestFailedRequestCanBeRetried(t *testing.T) {
	f := newFixture(t)
	f.createRoom(t, "123456")
	adminSess, _ := f.connectAdmin(t, "123456")

	// Starting from CREATED fails the state gate; the request id must not
	// be burned by the failure.
	frame := []byte(`{"type":"START_GAME","requestId":"start-1","administratorId":"admin-1"}`)
	if err := f.dispatcher.DispatchAdmin(context.Background(), adminSess, frame); !errors.Is(err, persistence.ErrInvalidState) {
		t.Fatalf("Expected ErrInvalidState, got %v", err)
	}

	initFrame := []byte(`{"type":"INIT","requestId":"init-1","administratorId":"admin-1","totalRound":2}`)
	if err := f.dispatcher.DispatchAdmin(context.Background(), adminSess, initFrame); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if err := f.dispatcher.DispatchAdmin(context.Background(), adminSess, frame); err != nil {
		t.Fatalf("Retry with the same request id should succeed, got %v", err)
	}
}

func TestUnauthorizedAdminClaim(t *testing.T) {
	f := newFixture(t)
	f.createRoom(t, "123456")

	conn := &MockConnection{open: true}
	sess := session.NewSession("", "123456", conn)
	frame := []byte(`{"type":"ADMIN_JOIN","requestId":"r1","administratorId":"impostor"}`)

	err := f.dispatcher.DispatchAdmin(context.Background(), sess, frame)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Expected ErrUnauthorized, got %v", err)
	}

	replies := conn.messagesOfType(models.TypeServerError)
	if len(replies) != 1 || replies[0]["code"] != models.CodeUnauthorized {
		t.Fatalf("Expected UNAUTHORIZED reply, got %v", replies)
	}
}

func TestUnknownUserClaimRejected(t *testing.T) {
	f := newFixture(t)
	f.createRoom(t, "123456")

	conn := &MockConnection{open: true}
	sess := session.NewSession("", "123456", conn)
	frame := []byte(`{"type":"SUBMIT","requestId":"r1","userId":"ghost","score":10,"gameType":"Reaction"}`)

	if err := f.dispatcher.DispatchUser(context.Background(), sess, frame); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Expected ErrUnauthorized, got %v", err)
	}
}

func TestStartGameBroadcastsWait(t *testing.T) {
	f := newFixture(t)
	f.createRoom(t, "123456")
	adminSess, adminConn := f.connectAdmin(t, "123456")
	_, userConn, _ := f.joinUser(t, "123456", "Ann")

	initFrame := []byte(`{"type":"INIT","requestId":"init-1","administratorId":"admin-1","totalRound":2}`)
	if err := f.dispatcher.DispatchAdmin(context.Background(), adminSess, initFrame); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	waitForType(t, userConn, models.TypeEnterGame)

	// The admin is told which game round 1 holds; the enter-game signal is
	// for players only.
	first := waitForType(t, adminConn, models.TypeNextGame)
	if first["currentRound"].(float64) != 1 {
		t.Errorf("First game announcement should name round 1, got %v", first)
	}
	if len(adminConn.messagesOfType(models.TypeEnterGame)) != 0 {
		t.Error("Admin must not receive ENTER_GAME")
	}

	startFrame := []byte(`{"type":"START_GAME","requestId":"start-1","administratorId":"admin-1"}`)
	if err := f.dispatcher.DispatchAdmin(context.Background(), adminSess, startFrame); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	wait := waitForType(t, userConn, models.TypeWait)
	if wait["startAt"].(float64) <= wait["currentMs"].(float64) {
		t.Errorf("WAIT startAt should be in the future: %v", wait)
	}
	if len(adminConn.messagesOfType(models.TypeWait)) != 0 {
		t.Error("Admin must not receive WAIT")
	}
}

func TestSubmitRecordsScore(t *testing.T) {
	f := newFixture(t)
	f.createRoom(t, "123456")
	adminSess, _ := f.connectAdmin(t, "123456")
	userSess, _, userID := f.joinUser(t, "123456", "Ann")

	ctx := context.Background()
	if err := f.dispatcher.DispatchAdmin(ctx, adminSess, []byte(`{"type":"INIT","requestId":"init-1","administratorId":"admin-1","totalRound":1}`)); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := f.dispatcher.DispatchAdmin(ctx, adminSess, []byte(`{"type":"START_GAME","requestId":"start-1","administratorId":"admin-1"}`)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	gameType, err := f.store.GetGame(ctx, "123456", 1)
	if err != nil {
		t.Fatalf("GetGame failed: %v", err)
	}

	frame := []byte(fmt.Sprintf(`{"type":"SUBMIT","requestId":"sub-1","userId":"%s","score":70,"gameType":"%s"}`, userID, gameType))
	if err := f.dispatcher.DispatchUser(ctx, userSess, frame); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// A submit naming the wrong game is refused.
	wrong := models.GameReaction
	if gameType == models.GameReaction {
		wrong = models.GameClicker
	}
	badFrame := []byte(fmt.Sprintf(`{"type":"SUBMIT","requestId":"sub-2","userId":"%s","score":70,"gameType":"%s"}`, userID, wrong))
	if err := f.dispatcher.DispatchUser(ctx, userSess, badFrame); !errors.Is(err, persistence.ErrInvalidState) {
		t.Fatalf("Expected ErrInvalidState for wrong game, got %v", err)
	}

	result, err := f.store.AggregateScores(ctx, "123456")
	if err != nil {
		t.Fatalf("AggregateScores failed: %v", err)
	}
	if result.RoundScoreMap[userID] != 70 {
		t.Errorf("Expected recorded score 70, got %d", result.RoundScoreMap[userID])
	}
}

func TestBroadcastRequestRelaysToRoom(t *testing.T) {
	f := newFixture(t)
	f.createRoom(t, "123456")
	_, adminConn := f.connectAdmin(t, "123456")
	userSess, userConn, userID := f.joinUser(t, "123456", "Ann")

	frame := []byte(fmt.Sprintf(`{"type":"BROADCAST_REQUEST","requestId":"b-1","userId":"%s","payload":"hello"}`, userID))
	if err := f.dispatcher.DispatchUser(context.Background(), userSess, frame); err != nil {
		t.Fatalf("Broadcast request failed: %v", err)
	}

	relayed := waitForType(t, adminConn, models.TypeBroadcast)
	if relayed["payload"] != "hello" {
		t.Errorf("Unexpected relayed payload: %v", relayed)
	}
	waitForType(t, userConn, models.TypeBroadcast)
}

func TestUserReconnectRebindsSession(t *testing.T) {
	f := newFixture(t)
	f.createRoom(t, "123456")
	f.connectAdmin(t, "123456")
	oldSess, _, userID := f.joinUser(t, "123456", "Ann")
	oldSess.Close()

	conn := &MockConnection{open: true}
	fresh := session.NewSession("", "123456", conn)
	frame := []byte(fmt.Sprintf(`{"type":"USER_RECONNECT","requestId":"rc-1","userId":"%s"}`, userID))
	if err := f.dispatcher.DispatchUser(context.Background(), fresh, frame); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}

	if len(conn.messagesOfType(models.TypeUserReconnected)) != 1 {
		t.Fatal("Expected USER_RECONNECTED reply")
	}
	bound, _ := f.registry.Get(userID)
	if bound != fresh {
		t.Fatal("Registry must hold the fresh session after reconnect")
	}
}

func TestUserReconnectRejectedWhileSessionOpen(t *testing.T) {
	f := newFixture(t)
	f.createRoom(t, "123456")
	f.connectAdmin(t, "123456")
	oldSess, _, userID := f.joinUser(t, "123456", "Ann")

	conn := &MockConnection{open: true}
	fresh := session.NewSession("", "123456", conn)
	frame := []byte(fmt.Sprintf(`{"type":"USER_RECONNECT","requestId":"rc-dup","userId":"%s"}`, userID))

	err := f.dispatcher.DispatchUser(context.Background(), fresh, frame)
	if !errors.Is(err, persistence.ErrInvalidState) {
		t.Fatalf("Expected ErrInvalidState while the old session is open, got %v", err)
	}

	replies := conn.messagesOfType(models.TypeServerError)
	if len(replies) != 1 || replies[0]["code"] != models.CodeInvalidState {
		t.Fatalf("Expected INVALID_STATE reply, got %v", replies)
	}
	bound, _ := f.registry.Get(userID)
	if bound != oldSess {
		t.Fatal("Registry must keep the live session bound")
	}
}

func TestCheckEndedOnMissingRoom(t *testing.T) {
	f := newFixture(t)

	conn := &MockConnection{open: true}
	sess := session.NewSession("", "000000", conn)
	frame := []byte(`{"type":"CHECK_ENDED","requestId":"c-1","userId":"whoever"}`)

	if err := f.dispatcher.DispatchUser(context.Background(), sess, frame); err != nil {
		t.Fatalf("CheckEnded failed: %v", err)
	}

	acks := conn.messagesOfType(models.TypeCheckEndedAck)
	if len(acks) != 1 {
		t.Fatalf("Expected one ack, got %d", len(acks))
	}
	if acks[0]["ended"] != true {
		t.Errorf("Missing room should count as ended, got %v", acks[0])
	}
}

func TestMalformedFrameAnswersBadMessage(t *testing.T) {
	f := newFixture(t)
	f.createRoom(t, "123456")

	conn := &MockConnection{open: true}
	sess := session.NewSession("", "123456", conn)

	if err := f.dispatcher.DispatchUser(context.Background(), sess, []byte(`{"type":"NONSENSE"}`)); !errors.Is(err, ErrBadMessage) {
		t.Fatalf("Expected ErrBadMessage, got %v", err)
	}
	replies := conn.messagesOfType(models.TypeServerError)
	if len(replies) != 1 || replies[0]["code"] != models.CodeBadMessage {
		t.Fatalf("Expected BAD_MESSAGE reply, got %v", replies)
	}
}
