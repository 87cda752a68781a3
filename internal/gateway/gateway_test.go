package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dhintech/translate-gateway/internal/cache"
	"github.com/dhintech/translate-gateway/internal/config"
	"github.com/dhintech/translate-gateway/internal/engine"
	"github.com/dhintech/translate-gateway/internal/pipeline"
	"github.com/dhintech/translate-gateway/internal/ratelimit"
	"github.com/dhintech/translate-gateway/internal/room"
)

type testEnv struct {
	server   *httptest.Server
	registry *room.Registry
	stub     *engine.Stub
}

func newTestEnv(t *testing.T, rateBurst int) *testEnv {
	t.Helper()

	cfg := &config.Config{
		MinEmitDelta:       5,
		UtteranceTimeout:   5,
		ChunkQueueSize:     16,
		WSReadLimit:        8192,
		WSSendQueueSize:    64,
		WSPingInterval:     30,
		WSWriteTimeout:     5,
		MalformedTolerance: 3,
	}

	registry := room.NewRegistry(room.Config{
		CodeLength:      4,
		DefaultCapacity: 10,
		IdleTimeout:     time.Hour,
		SweepInterval:   time.Hour,
	}, nil)
	t.Cleanup(registry.Close)

	stub := &engine.Stub{}
	translationCache := cache.New(cache.Config{
		MaxEntries:     64,
		FuzzyThreshold: 0.62,
		FuzzyScanLimit: 32,
		FuzzyMaxLen:    80,
	})
	limiter := ratelimit.NewLimiter(60, rateBurst)
	h := NewHandler(cfg, registry, limiter, pipeline.NewTranslator(translationCache, stub), nil, nil)

	server := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(server.Close)

	return &testEnv{server: server, registry: registry, stub: stub}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("Failed to write message: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg map[string]interface{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	return msg
}

// readUntil skips messages until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		msg := read(t, conn)
		if msg["type"] == msgType {
			return msg
		}
	}
	t.Fatalf("Never received %q message", msgType)
	return nil
}

func joinRoom(t *testing.T, conn *websocket.Conn, roomCode, role string) {
	t.Helper()
	send(t, conn, map[string]interface{}{"type": "join", "room_code": roomCode, "role": role})
	msg := read(t, conn)
	if msg["type"] != "joined" {
		t.Fatalf("Expected joined, got %v", msg)
	}
}

func TestJoin_UnknownRoom(t *testing.T) {
	env := newTestEnv(t, 20)
	conn := env.dial(t)

	send(t, conn, map[string]interface{}{"type": "join", "room_code": "ZZZZ", "role": "listener"})
	msg := read(t, conn)
	if msg["type"] != "error" || msg["code"] != "ROOM_NOT_FOUND" {
		t.Errorf("Expected ROOM_NOT_FOUND error, got %v", msg)
	}
}

func TestJoin_InvalidRole(t *testing.T) {
	env := newTestEnv(t, 20)
	r := env.registry.CreateRoom(room.Options{TargetLangs: []string{"es"}})
	conn := env.dial(t)

	send(t, conn, map[string]interface{}{"type": "join", "room_code": r.Code, "role": "moderator"})
	msg := read(t, conn)
	if msg["type"] != "error" || msg["code"] != "INVALID_ROLE" {
		t.Errorf("Expected INVALID_ROLE error, got %v", msg)
	}
}

func TestJoin_FullRoom(t *testing.T) {
	env := newTestEnv(t, 20)
	r := env.registry.CreateRoom(room.Options{TargetLangs: []string{"es"}, Capacity: 1})

	first := env.dial(t)
	joinRoom(t, first, r.Code, "listener")

	second := env.dial(t)
	send(t, second, map[string]interface{}{"type": "join", "room_code": r.Code, "role": "listener"})
	msg := read(t, second)
	if msg["type"] != "error" || msg["code"] != "ROOM_FULL" {
		t.Errorf("Expected ROOM_FULL error, got %v", msg)
	}
}

func TestJoin_Succeeds(t *testing.T) {
	env := newTestEnv(t, 20)
	r := env.registry.CreateRoom(room.Options{SourceLang: "en", TargetLangs: []string{"es"}})
	conn := env.dial(t)

	send(t, conn, map[string]interface{}{"type": "join", "room_code": r.Code, "role": "speaker"})
	msg := read(t, conn)
	if msg["type"] != "joined" || msg["room_code"] != r.Code || msg["role"] != "speaker" {
		t.Errorf("Unexpected joined message: %v", msg)
	}
	if msg["conn_id"] == "" {
		t.Error("Expected a connection id in the joined message")
	}
}

func TestChunk_BeforeJoinRejected(t *testing.T) {
	env := newTestEnv(t, 20)
	conn := env.dial(t)

	send(t, conn, map[string]interface{}{"type": "chunk", "utterance_id": "u1", "seq": 1, "text": "hi"})
	msg := read(t, conn)
	if msg["type"] != "error" || msg["code"] != "NOT_JOINED" {
		t.Errorf("Expected NOT_JOINED error, got %v", msg)
	}
}

func TestChunk_FromListenerRejected(t *testing.T) {
	env := newTestEnv(t, 20)
	r := env.registry.CreateRoom(room.Options{TargetLangs: []string{"es"}})
	conn := env.dial(t)
	joinRoom(t, conn, r.Code, "listener")

	send(t, conn, map[string]interface{}{"type": "chunk", "utterance_id": "u1", "seq": 1, "text": "hi"})
	msg := read(t, conn)
	if msg["type"] != "error" || msg["code"] != "INVALID_ROLE" {
		t.Errorf("Expected INVALID_ROLE error, got %v", msg)
	}
}

func TestChunk_TranslationReachesListener(t *testing.T) {
	env := newTestEnv(t, 20)
	r := env.registry.CreateRoom(room.Options{SourceLang: "en", TargetLangs: []string{"es"}})

	speaker := env.dial(t)
	joinRoom(t, speaker, r.Code, "speaker")
	listener := env.dial(t)
	joinRoom(t, listener, r.Code, "listener")

	send(t, speaker, map[string]interface{}{
		"type": "chunk", "utterance_id": "u1", "seq": 1,
		"text": "good morning everyone", "is_final": true,
	})

	final := readUntil(t, listener, "final")
	if final["text"] != "[es] good morning everyone" {
		t.Errorf("Expected translated final, got %v", final["text"])
	}
	if final["utterance_id"] != "u1" || final["lang_target"] != "es" {
		t.Errorf("Unexpected final envelope: %v", final)
	}
}

func TestChunk_DuplicateFrameSuppressed(t *testing.T) {
	env := newTestEnv(t, 20)
	r := env.registry.CreateRoom(room.Options{SourceLang: "en", TargetLangs: []string{"es"}})
	conn := env.dial(t)
	joinRoom(t, conn, r.Code, "speaker")

	chunk := map[string]interface{}{
		"type": "chunk", "utterance_id": "u1", "seq": 1,
		"text": "good evening", "is_final": true,
	}
	send(t, conn, chunk)
	send(t, conn, chunk) // resent frame, must not re-translate

	// The ack arrives immediately, the final whenever translation lands;
	// accept either order.
	var ack, final map[string]interface{}
	for ack == nil || final == nil {
		msg := read(t, conn)
		switch msg["type"] {
		case "ack":
			ack = msg
		case "final":
			final = msg
		}
	}
	if ack["utterance_id"] != "u1" {
		t.Errorf("Expected ack for the resent frame, got %v", ack)
	}
	if final["text"] != "[es] good evening" {
		t.Errorf("Expected translated final, got %v", final["text"])
	}

	time.Sleep(100 * time.Millisecond)
	if got := env.stub.TranslateCalls(); got != 1 {
		t.Errorf("Expected one engine call for the resent frame, got %d", got)
	}
}

func TestChunk_Throttled(t *testing.T) {
	env := newTestEnv(t, 2)
	r := env.registry.CreateRoom(room.Options{SourceLang: "en", TargetLangs: []string{"es"}})
	conn := env.dial(t)
	joinRoom(t, conn, r.Code, "speaker")

	for i := 0; i < 10; i++ {
		send(t, conn, map[string]interface{}{
			"type": "chunk", "utterance_id": "u1", "seq": i + 1, "text": "chunk",
		})
	}

	msg := readUntil(t, conn, "throttled")
	if _, ok := msg["retry_after_ms"].(float64); !ok {
		t.Errorf("Expected retry_after_ms in throttle notice, got %v", msg)
	}
}

func TestMalformed_ToleratedThenFatal(t *testing.T) {
	env := newTestEnv(t, 20)
	conn := env.dial(t)

	// First malformed frames are answered, not fatal.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{not json`)); err != nil {
		t.Fatalf("Failed to write message: %v", err)
	}
	msg := read(t, conn)
	if msg["type"] != "error" || msg["code"] != "MALFORMED_MESSAGE" {
		t.Errorf("Expected MALFORMED_MESSAGE error, got %v", msg)
	}

	// The connection still works.
	send(t, conn, map[string]interface{}{"type": "ping", "timestamp": 42})
	pong := read(t, conn)
	if pong["type"] != "pong" || pong["timestamp"] != float64(42) {
		t.Errorf("Expected pong echoing timestamp, got %v", pong)
	}

	// Blowing through the tolerance closes the connection.
	for i := 0; i < 5; i++ {
		conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
	}
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var closed bool
	for i := 0; i < 10; i++ {
		if _, _, err := conn.ReadMessage(); err != nil {
			closed = true
			break
		}
	}
	if !closed {
		t.Error("Expected connection to close after malformed tolerance exhausted")
	}
}

func TestLeave_FreesRoomSlot(t *testing.T) {
	env := newTestEnv(t, 20)
	r := env.registry.CreateRoom(room.Options{TargetLangs: []string{"es"}, Capacity: 1})

	conn := env.dial(t)
	joinRoom(t, conn, r.Code, "listener")
	send(t, conn, map[string]interface{}{"type": "leave"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if env.registry.MemberCount(r.Code) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("Expected member to be removed after leave")
}

func TestRoomDelete_NotifiesConnectedClients(t *testing.T) {
	env := newTestEnv(t, 20)
	r := env.registry.CreateRoom(room.Options{TargetLangs: []string{"es"}})
	conn := env.dial(t)
	joinRoom(t, conn, r.Code, "listener")

	env.registry.DeleteRoom(r.Code, "api")

	msg := readUntil(t, conn, "room_closed")
	if !strings.Contains(msg["message"].(string), "api") {
		t.Errorf("Expected close reason in message, got %v", msg)
	}
}

func TestConnState_ActiveIdleTransitions(t *testing.T) {
	c := &Client{state: stateConnecting}

	c.markInbound()
	if c.state != stateConnecting {
		t.Errorf("Expected inbound before join to leave state connecting, got %s", c.state)
	}

	c.state = stateJoined
	c.markInbound()
	if c.state != stateActive {
		t.Errorf("Expected first inbound after join to activate, got %s", c.state)
	}

	c.lastInbound = time.Now().Add(-time.Minute)
	c.maybeIdle(30 * time.Second)
	if c.state != stateIdle {
		t.Errorf("Expected quiet connection to idle, got %s", c.state)
	}

	c.markInbound()
	if c.state != stateActive {
		t.Errorf("Expected inbound to wake idle connection, got %s", c.state)
	}
}
