package server

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

	"github.com/relayhub/relay/internal/credential"
	"github.com/relayhub/relay/internal/wire"
)

func newTestServer(t *testing.T) (*Server, *credential.MemoryStore) {
	t.Helper()
	creds := credential.NewMemoryStore(false)
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = time.Hour
	cfg.HeartbeatTimeout = time.Hour
	s := New(cfg, creds)
	return s, creds
}

func TestHealthzReturnsOKWhenNotShuttingDown(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.engine())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthzReturns503DuringShutdown(t *testing.T) {
	s, _ := newTestServer(t)
	s.shuttingDown.Store(true)

	ts := httptest.NewServer(s.engine())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStatsReportsCounts(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.engine())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats statsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 0, stats.Connected)
	assert.Equal(t, 0, stats.Authenticated)
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestWebSocketAuthHandshakeWithNameSucceeds(t *testing.T) {
	s, creds := newTestServer(t)
	require.NoError(t, creds.Add(context.Background(), credential.Record{Name: "alice", Secret: "tok-a"}))

	ts := httptest.NewServer(s.engine())
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()

	authFrame, err := wire.Encode(wire.NewAuth("tok-a", "alice"))
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, authFrame))

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	resp, err := wire.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, wire.TypeAuthSuccess, resp.Type)
	assert.Equal(t, "alice", resp.Name)
}

func TestWebSocketTokenOnlyAuthResolvesCanonicalName(t *testing.T) {
	s, creds := newTestServer(t)
	require.NoError(t, creds.Add(context.Background(), credential.Record{Name: "bob", Secret: "tok-b"}))

	ts := httptest.NewServer(s.engine())
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()

	authFrame, _ := wire.Encode(wire.NewAuth("tok-b", ""))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, authFrame))

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	resp, err := wire.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "bob", resp.Name)
}

func TestWebSocketRejectsNonAuthFirstFrame(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.engine())
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()

	badFrame, _ := wire.Encode(wire.NewHeartbeatResponse())
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, badFrame))

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestWebSocketRejectsUnknownToken(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.engine())
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()

	authFrame, _ := wire.Encode(wire.NewAuth("does-not-exist", ""))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, authFrame))

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestStatsReflectsAuthenticatedConnection(t *testing.T) {
	s, creds := newTestServer(t)
	require.NoError(t, creds.Add(context.Background(), credential.Record{Name: "alice", Secret: "tok-a"}))

	ts := httptest.NewServer(s.engine())
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()

	authFrame, _ := wire.Encode(wire.NewAuth("tok-a", "alice"))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, authFrame))
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/stats")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var stats statsResponse
		json.NewDecoder(resp.Body).Decode(&stats)
		return stats.Authenticated == 1
	}, time.Second, 10*time.Millisecond)
}
