package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/partyround/backbone/broadcast"
	"github.com/partyround/backbone/config"
	"github.com/partyround/backbone/dispatch"
	"github.com/partyround/backbone/logger"
	"github.com/partyround/backbone/persistence"
	"github.com/partyround/backbone/session"
	"github.com/partyround/backbone/timer"
)

func TestMain(m *testing.M) {
	logger.InitDevelopment()
	os.Exit(m.Run())
}

type testServer struct {
	server *Server
	store  *persistence.MemoryRoomStore
	http   *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
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

	dispatcher := dispatch.NewDispatcher(store, idem, registry, broadcaster)
	timers := timer.NewManager()
	t.Cleanup(timers.Stop)

	srv := NewServer(config.ServerConfig{}, store, registry, dispatcher, broadcaster, nil, timers)
	ts := httptest.NewServer(srv.engine)
	t.Cleanup(ts.Close)

	return &testServer{server: srv, store: store, http: ts}
}

func (ts *testServer) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(ts.http.URL, "http") + path
}

func createRoom(t *testing.T, ts *testServer) (roomCode, administratorID string) {
	t.Helper()
	resp, err := http.Post(ts.http.URL+"/rooms", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /rooms failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}

	var body struct {
		RoomCode        string `json:"roomCode"`
		AdministratorID string `json:"administratorId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return body.RoomCode, body.AdministratorID
}

func TestCreateRoomEndpoint(t *testing.T) {
	ts := newTestServer(t)

	roomCode, administratorID := createRoom(t, ts)
	if !roomCodePattern.MatchString(roomCode) {
		t.Errorf("Room code %q is not six digits", roomCode)
	}
	if administratorID == "" {
		t.Error("Expected a minted administrator id")
	}

	exists, err := ts.store.Exists(context.Background(), roomCode)
	if err != nil || !exists {
		t.Errorf("Created room should exist in the store, exists=%v err=%v", exists, err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.http.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestSocketRejectsMalformedRoomCode(t *testing.T) {
	ts := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL("/ws/game/admin/abc"), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("Expected policy violation close, got %v", err)
	}
}

func TestSocketRejectsUnknownRoom(t *testing.T) {
	ts := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL("/ws/game/user/999999"), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("Expected policy violation close, got %v", err)
	}
}

func TestAdminSocketRoundtrip(t *testing.T) {
	ts := newTestServer(t)
	roomCode, administratorID := createRoom(t, ts)

	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL("/ws/game/admin/"+roomCode), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	join := map[string]any{
		"type":            "ADMIN_JOIN",
		"requestId":       "req-1",
		"administratorId": administratorID,
	}
	if err := conn.WriteJSON(join); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply map[string]any
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if reply["type"] != "ADMIN_JOINED" {
		t.Fatalf("Expected ADMIN_JOINED, got %v", reply)
	}
	if reply["roomCode"] != roomCode {
		t.Errorf("Reply should echo the room code, got %v", reply)
	}
}
