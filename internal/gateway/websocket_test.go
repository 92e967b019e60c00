package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mandelmonkey/latency-test/internal/handshake"
	"github.com/mandelmonkey/latency-test/internal/latency"
	"github.com/mandelmonkey/latency-test/internal/session"
)

func dialTestSocket(t *testing.T, clock *clockwork.FakeClock) *websocket.Conn {
	t.Helper()

	store := session.NewStore(clock, session.DefaultConfig())
	repo := latency.NewMemoryRepository(clock)
	engine := handshake.NewEngine(store, repo, nil, handshake.Config{
		Region:          "eu-west",
		TotalIterations: 2,
	})
	app := latency.NewApp(repo, latency.AppConfig{CloseThresholdMs: 150})

	mux := http.NewServeMux()
	NewWebSocketHandler(engine, app, DefaultConnectionConfig()).RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/latency"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg ClientMessage) ServerMessage {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))

	var reply ServerMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&reply))
	return reply
}

func TestHandshakeOverWebSocket(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := dialTestSocket(t, clock)

	reply := roundTrip(t, conn, ClientMessage{Type: MessageTypeStart, UserID: "user-1"})
	require.Equal(t, MessageTypeStarted, reply.Type)

	var started handshake.StartSessionResponse
	require.NoError(t, json.Unmarshal(reply.Data, &started))
	require.NotEmpty(t, started.Token)
	assert.Equal(t, 2, started.TotalIterations)

	clock.Advance(10 * time.Millisecond)
	reply = roundTrip(t, conn, ClientMessage{Type: MessageTypeReport, UserID: "user-1", Token: started.Token})
	require.Equal(t, MessageTypeProgress, reply.Type)

	var progress handshake.ReportRoundResponse
	require.NoError(t, json.Unmarshal(reply.Data, &progress))
	assert.Equal(t, 1, progress.Iteration)

	clock.Advance(30 * time.Millisecond)
	reply = roundTrip(t, conn, ClientMessage{Type: MessageTypeReport, UserID: "user-1", Token: started.Token})
	require.Equal(t, MessageTypeComplete, reply.Type)

	var complete handshake.ReportRoundResponse
	require.NoError(t, json.Unmarshal(reply.Data, &complete))
	assert.True(t, complete.Completed)
	assert.Equal(t, int64(20), complete.AverageRTTMs)
	assert.Equal(t, int64(10), complete.MinRTTMs)
}

func TestWebSocketErrorFrames(t *testing.T) {
	conn := dialTestSocket(t, clockwork.NewFakeClock())

	reply := roundTrip(t, conn, ClientMessage{Type: MessageTypeStart})
	require.Equal(t, MessageTypeError, reply.Type)
	assert.Equal(t, ErrorCodeInvalidRequest, reply.Code)

	reply = roundTrip(t, conn, ClientMessage{Type: MessageTypeReport, UserID: "user-1", Token: "bogus"})
	require.Equal(t, MessageTypeError, reply.Type)
	assert.Equal(t, ErrorCodeSessionNotFound, reply.Code)

	reply = roundTrip(t, conn, ClientMessage{Type: "bogus"})
	require.Equal(t, MessageTypeError, reply.Type)
	assert.Equal(t, ErrorCodeInvalidRequest, reply.Code)
}

func TestWebSocketClosestQuery(t *testing.T) {
	conn := dialTestSocket(t, clockwork.NewFakeClock())

	reply := roundTrip(t, conn, ClientMessage{Type: MessageTypeClosest, UserID: "user-1"})
	require.Equal(t, MessageTypeClosest, reply.Type)
	assert.Contains(t, string(reply.Data), `"no_data"`)
}
