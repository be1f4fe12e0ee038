package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/worldsync/internal/config"
	"github.com/cory-johannsen/worldsync/internal/game/state"
	"github.com/cory-johannsen/worldsync/internal/gameserver"
	"github.com/cory-johannsen/worldsync/internal/protocol"
)

func testHTTPConfig() config.HTTPConfig {
	return config.HTTPConfig{
		Host:             "127.0.0.1",
		Port:             0,
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     2 * time.Second,
		HandshakeTimeout: 2 * time.Second,
		MaxMessageBytes:  64 * 1024,
	}
}

func testSessionConfig(maxPlayers int) config.SessionConfig {
	return config.SessionConfig{
		DefaultRoom:         "world",
		Rooms:               []string{"alpha", "beta"},
		DefaultMap:          "town",
		MaxPlayers:          maxPlayers,
		TickRateHz:          50,
		SpawnX:              400,
		SpawnY:              300,
		ChatMaxLength:       200,
		MonsterRemovalDelay: time.Second,
		OutboxSize:          256,
		InboxSize:           256,
	}
}

type harness struct {
	acceptor *Acceptor
	registry *gameserver.Registry
	server   *httptest.Server
}

func newHarness(t *testing.T, maxPlayers int) *harness {
	t.Helper()
	sessCfg := testSessionConfig(maxPlayers)
	registry := gameserver.NewRegistry(context.Background(), sessCfg.RoomNames(), gameserver.NewSessionFactory(sessCfg, nil, zap.NewNop()), zap.NewNop())
	// Connection goroutines may outlive the test after hijack, so no zaptest here.
	acc := NewAcceptor(testHTTPConfig(), sessCfg, registry, zap.NewNop())
	srv := httptest.NewServer(acc.Handler())
	t.Cleanup(func() {
		srv.Close()
		registry.StopAll()
	})
	return &harness{acceptor: acc, registry: registry, server: srv}
}

func (h *harness) wsURL(query string) string {
	u := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	frame, err := protocol.Encode(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// waitFor reads until an envelope of msgType satisfying match arrives.
func waitFor(t *testing.T, conn *websocket.Conn, msgType string, match func(protocol.Envelope) bool) protocol.Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", msgType)
		env, err := protocol.Decode(frame)
		require.NoError(t, err)
		if env.Type == msgType && (match == nil || match(env)) {
			return env
		}
	}
}

func joinAs(t *testing.T, h *harness, query, name string) (*websocket.Conn, protocol.Welcome) {
	t.Helper()
	conn := dial(t, h.wsURL(query))
	send(t, conn, protocol.TypeJoin, protocol.JoinRequest{Name: name})
	env := waitFor(t, conn, protocol.TypeWelcome, nil)
	var w protocol.Welcome
	require.NoError(t, env.Decode(&w))
	return conn, w
}

func TestAcceptor_JoinMoveAndLeave(t *testing.T) {
	h := newHarness(t, 16)

	alice, aw := joinAs(t, h, "", "Alice")
	require.NotEmpty(t, aw.SessionID)
	require.Contains(t, aw.State.Players, aw.SessionID)
	assert.Equal(t, "Alice", aw.State.Players[aw.SessionID].Name)

	bob, bw := joinAs(t, h, "room=world", "Bob")
	assert.Contains(t, bw.State.Players, aw.SessionID, "welcome includes players already present")

	env := waitFor(t, alice, protocol.TypePlayerJoined, nil)
	var joined protocol.PlayerJoined
	require.NoError(t, env.Decode(&joined))
	assert.Equal(t, bw.SessionID, joined.SessionID)

	send(t, alice, protocol.TypeMove, protocol.Move{X: 512, Y: 300, State: state.PlayerWalk, FacingRight: true})
	waitFor(t, bob, protocol.TypeState, func(env protocol.Envelope) bool {
		var patch state.RoomPatch
		if env.Decode(&patch) != nil {
			return false
		}
		changed, ok := patch.Players.Changed[aw.SessionID]
		return ok && changed["x"] == 512.0
	})

	send(t, alice, protocol.TypeLeave, nil)
	env = waitFor(t, bob, protocol.TypePlayerLeft, nil)
	var left protocol.PlayerLeft
	require.NoError(t, env.Decode(&left))
	assert.Equal(t, aw.SessionID, left.SessionID)
	assert.True(t, left.Consented)
}

func TestAcceptor_DropIsNotConsented(t *testing.T) {
	h := newHarness(t, 16)

	alice, aw := joinAs(t, h, "", "Alice")
	bob, _ := joinAs(t, h, "", "Bob")

	require.NoError(t, alice.Close())
	env := waitFor(t, bob, protocol.TypePlayerLeft, nil)
	var left protocol.PlayerLeft
	require.NoError(t, env.Decode(&left))
	assert.Equal(t, aw.SessionID, left.SessionID)
	assert.False(t, left.Consented)
}

func TestAcceptor_InvalidMessageKeepsConnection(t *testing.T) {
	h := newHarness(t, 16)
	alice, _ := joinAs(t, h, "", "Alice")

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("not json")))
	env := waitFor(t, alice, protocol.TypeError, nil)
	var e protocol.Error
	require.NoError(t, env.Decode(&e))
	assert.Equal(t, protocol.ErrCodeBadMessage, e.Code)

	send(t, alice, protocol.TypeChat, protocol.Chat{Text: "still here"})
	waitFor(t, alice, protocol.TypeChat, nil)
}

func TestAcceptor_FirstFrameMustBeJoin(t *testing.T) {
	h := newHarness(t, 16)
	conn := dial(t, h.wsURL(""))

	send(t, conn, protocol.TypeChat, protocol.Chat{Text: "hi"})
	env := waitFor(t, conn, protocol.TypeError, nil)
	var e protocol.Error
	require.NoError(t, env.Decode(&e))
	assert.Equal(t, protocol.ErrCodeNotJoined, e.Code)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestAcceptor_SessionFull(t *testing.T) {
	h := newHarness(t, 1)
	joinAs(t, h, "", "Alice")

	conn := dial(t, h.wsURL(""))
	send(t, conn, protocol.TypeJoin, protocol.JoinRequest{Name: "Bob"})
	env := waitFor(t, conn, protocol.TypeError, nil)
	var e protocol.Error
	require.NoError(t, env.Decode(&e))
	assert.Equal(t, protocol.ErrCodeSessionFull, e.Code)
}

func TestAcceptor_RoomsAreSeparate(t *testing.T) {
	h := newHarness(t, 16)

	_, aw := joinAs(t, h, "room=alpha", "Alice")
	_, bw := joinAs(t, h, "room=beta", "Bob")

	assert.NotContains(t, bw.State.Players, aw.SessionID)
	assert.Equal(t, []string{"alpha", "beta"}, h.registry.Names())
}

func TestAcceptor_UnknownRoomIsRefused(t *testing.T) {
	h := newHarness(t, 16)
	conn := dial(t, h.wsURL("room=nowhere"))

	send(t, conn, protocol.TypeJoin, protocol.JoinRequest{Name: "Mallory"})
	env := waitFor(t, conn, protocol.TypeError, nil)
	var e protocol.Error
	require.NoError(t, env.Decode(&e))
	assert.Equal(t, protocol.ErrCodeUnknownRoom, e.Code)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	assert.Zero(t, h.registry.Count(), "refused rooms never start a session")
}

func TestAcceptor_Health(t *testing.T) {
	h := newHarness(t, 16)
	joinAs(t, h, "", "Alice")

	resp, err := http.Get(h.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var status HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, 1, status.Sessions)
	assert.InDelta(t, time.Now().UnixMilli(), status.Timestamp, 60_000)
}

func TestAcceptor_ListenAndStop(t *testing.T) {
	sessCfg := testSessionConfig(16)
	registry := gameserver.NewRegistry(context.Background(), sessCfg.RoomNames(), gameserver.NewSessionFactory(sessCfg, nil, zap.NewNop()), zap.NewNop())
	defer registry.StopAll()
	acc := NewAcceptor(testHTTPConfig(), sessCfg, registry, zaptest.NewLogger(t))

	errCh := make(chan error, 1)
	go func() { errCh <- acc.Start() }()

	require.Eventually(t, func() bool {
		return acc.IsRunning() && acc.Addr() != ""
	}, 2*time.Second, 10*time.Millisecond)

	conn := dial(t, "ws://"+acc.Addr()+"/ws")
	send(t, conn, protocol.TypeJoin, protocol.JoinRequest{Name: "Alice"})
	waitFor(t, conn, protocol.TypeWelcome, nil)

	acc.Stop()
	acc.Stop()
	assert.False(t, acc.IsRunning())

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("ListenAndServe did not return after Stop")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
			break
		}
	}
}
