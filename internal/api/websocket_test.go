package api

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

	"pixel-battle/internal/config"
	"pixel-battle/internal/game"
	"pixel-battle/internal/protocol"
	"pixel-battle/internal/session"
)

type liveServer struct {
	ts  *httptest.Server
	srv *Server
	hub *WebSocketHub
	gw  *session.Gateway
}

func newLiveServer(t *testing.T, limits config.ResourceLimits) *liveServer {
	t.Helper()

	hub := NewWebSocketHub(limits, nil)
	gw := session.NewGateway(session.Deps{
		Grid:      game.NewGrid(game.DefaultGridSize),
		Registry:  game.NewRegistry(game.DefaultRules),
		Ranking:   game.NewRanking(100),
		Transport: hub,
	}, session.DefaultConfig())
	hub.SetHandler(gw)

	srv := NewServer(ServerConfig{
		Canvas: gw,
		Hub:    hub,
		Server: config.DefaultServer(),
		RateLimitConfig: &RateLimitConfig{
			RequestsPerSecond: 1000,
			Burst:             1000,
			CleanupInterval:   time.Hour,
		},
		DisableLogging: true,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		hub.CloseAll()
		ts.Close()
		srv.rateLimiter.Stop()
	})
	return &liveServer{ts: ts, srv: srv, hub: hub, gw: gw}
}

func (s *liveServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.ts.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

type envelope struct {
	Type string `json:"type"`
	raw  []byte
}

// await reads frames until one of type typ arrives.
func await(t *testing.T, conn *websocket.Conn, typ string) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", typ)
		var env envelope
		require.NoError(t, json.Unmarshal(msg, &env))
		if env.Type == typ {
			env.raw = msg
			return env
		}
	}
}

func write(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func testLimits() config.ResourceLimits {
	limits := config.DefaultLimits()
	limits.PingInterval = 0
	return limits
}

func TestWebSocketJoinAndPlace(t *testing.T) {
	s := newLiveServer(t, testLimits())
	conn := s.dial(t, "/ws")

	var initial protocol.InitialData
	require.NoError(t, json.Unmarshal(await(t, conn, protocol.TypeInitialData).raw, &initial))
	assert.Equal(t, game.DefaultGridSize, initial.MapWidth)
	assert.Empty(t, initial.Pixels)

	write(t, conn, `{"type":"join","playerId":"A","username":"Ann"}`)
	var welcome protocol.Welcome
	require.NoError(t, json.Unmarshal(await(t, conn, protocol.TypeWelcome).raw, &welcome))
	assert.Equal(t, "Ann", welcome.Username)
	await(t, conn, protocol.TypePlayerList)

	write(t, conn, `{"type":"placePixel","playerId":"A","x":3,"y":4,"color":"#00ff00"}`)
	var placed protocol.PixelPlaced
	require.NoError(t, json.Unmarshal(await(t, conn, protocol.TypePixelPlaced).raw, &placed))
	assert.Equal(t, game.CellID("3,4"), placed.PixelID)
	assert.Equal(t, "Ann", placed.PlayerName)

	var stats protocol.PlayerStats
	require.NoError(t, json.Unmarshal(await(t, conn, protocol.TypeStats).raw, &stats))
	assert.InDelta(t, 0.1, stats.Tokens, 1e-9)

	assert.Equal(t, 1, s.gw.Status(10).Pixels)
}

func TestWebSocketSocketIOAlias(t *testing.T) {
	s := newLiveServer(t, testLimits())
	conn := s.dial(t, "/socket.io/")
	await(t, conn, protocol.TypeInitialData)

	resp, err := http.Get(s.ts.URL + "/socket.io/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "polling is not supported")
}

func TestWebSocketRejectionNotice(t *testing.T) {
	s := newLiveServer(t, testLimits())
	conn := s.dial(t, "/ws")
	await(t, conn, protocol.TypeInitialData)

	write(t, conn, `{"type":"placePixel","playerId":"ghost","x":1,"y":1,"color":"#fff"}`)

	var rejected protocol.ActionRejected
	require.NoError(t, json.Unmarshal(await(t, conn, protocol.TypeActionRejected).raw, &rejected))
	assert.Equal(t, protocol.TypePlacePixel, rejected.Action)
	assert.Equal(t, protocol.ReasonNotFound, rejected.Reason)
}

func TestWebSocketBroadcastReachesOthers(t *testing.T) {
	s := newLiveServer(t, testLimits())
	a := s.dial(t, "/ws")
	b := s.dial(t, "/ws")
	await(t, a, protocol.TypeInitialData)
	await(t, b, protocol.TypeInitialData)

	write(t, a, `{"type":"join","playerId":"A","username":"Ann"}`)
	await(t, a, protocol.TypeWelcome)
	write(t, a, `{"type":"placePixel","playerId":"A","x":0,"y":0,"color":"#123456"}`)

	var placed protocol.PixelPlaced
	require.NoError(t, json.Unmarshal(await(t, b, protocol.TypePixelPlaced).raw, &placed))
	assert.Equal(t, "#123456", placed.Color)
}

func TestWebSocketReconnectClosesOldSession(t *testing.T) {
	s := newLiveServer(t, testLimits())
	first := s.dial(t, "/ws")
	await(t, first, protocol.TypeInitialData)
	write(t, first, `{"type":"join","playerId":"A","username":"Ann"}`)
	await(t, first, protocol.TypeWelcome)

	second := s.dial(t, "/ws")
	await(t, second, protocol.TypeInitialData)
	write(t, second, `{"type":"join","playerId":"A","username":"Ann"}`)
	await(t, second, protocol.TypeWelcome)

	await(t, first, protocol.TypeSessionReplaced)
	require.NoError(t, first.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := first.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
			break
		}
	}

	require.Eventually(t, func() bool { return s.hub.ClientCount() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, s.gw.Status(0).Players)
}

func TestWebSocketDisconnectRemovesPlayer(t *testing.T) {
	s := newLiveServer(t, testLimits())
	conn := s.dial(t, "/ws")
	await(t, conn, protocol.TypeInitialData)
	write(t, conn, `{"type":"join","playerId":"A"}`)
	await(t, conn, protocol.TypeWelcome)
	require.Equal(t, 1, s.gw.Status(0).Players)

	conn.Close()

	require.Eventually(t, func() bool {
		st := s.gw.Status(0)
		return st.Players == 0 && st.Connections == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestWebSocketPerIPLimit(t *testing.T) {
	limits := testLimits()
	limits.MaxConnectionsPerIP = 1
	s := newLiveServer(t, limits)

	conn := s.dial(t, "/ws")
	await(t, conn, protocol.TypeInitialData)

	url := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	conn.Close()
	require.Eventually(t, func() bool { return s.hub.ClientCount() == 0 }, 3*time.Second, 10*time.Millisecond)

	again := s.dial(t, "/ws")
	await(t, again, protocol.TypeInitialData)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	s := newLiveServer(t, testLimits())

	url := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// the rejected upgrade gives its per-IP slot back
	require.Eventually(t, func() bool { return s.hub.wsLimiter.Count("127.0.0.1") == 0 }, time.Second, 10*time.Millisecond)
}

func TestWebSocketAppPing(t *testing.T) {
	limits := testLimits()
	limits.PingInterval = 20 * time.Millisecond
	s := newLiveServer(t, limits)

	conn := s.dial(t, "/ws")
	var ping protocol.Ping
	require.NoError(t, json.Unmarshal(await(t, conn, protocol.TypePing).raw, &ping))
	assert.NotZero(t, ping.Timestamp)

	write(t, conn, `{"type":"pong"}`)
}

func TestShutdownClosesSessions(t *testing.T) {
	s := newLiveServer(t, testLimits())
	conn := s.dial(t, "/ws")
	await(t, conn, protocol.TypeInitialData)
	write(t, conn, `{"type":"join","playerId":"A"}`)
	await(t, conn, protocol.TypeWelcome)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, s.srv.Shutdown(ctx))

	// Wait returned, so the gateway already saw the close
	st := s.gw.Status(0)
	assert.Zero(t, st.Players)
	assert.Zero(t, st.Connections)
	assert.Zero(t, s.hub.ClientCount())
}
