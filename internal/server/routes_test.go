package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shifumi-server/internal/config"
)

// setupTestServer builds a server on a fake clock so tests drive round and
// invitation timers explicitly.
func setupTestServer(t *testing.T) (*Server, string, *clockwork.FakeClock) {
	t.Helper()

	cfg := config.Config{
		MatchBackend:       config.BackendMemory,
		RateLimitPerSecond: 100,
	}
	clock := clockwork.NewFakeClock()
	s := newServer(cfg, clock, nil)

	server := httptest.NewServer(s.RegisterRoutes())
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/websocket"
	t.Cleanup(server.Close)

	return s, url, clock
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// wireMessage mirrors ServerMessage with the payload kept raw for decoding.
type wireMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dialWebsocket(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func sendClientMessage(t *testing.T, ctx context.Context, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()

	msg := ClientMessage{Type: msgType}
	if payload != nil {
		msg.Payload = mustMarshal(payload)
	}
	require.NoError(t, conn.Write(ctx, websocket.MessageText, mustMarshal(msg)))
}

func readServerMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) wireMessage {
	t.Helper()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg wireMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// readUntilType skips unrelated broadcasts (typically players:list) until a
// message of the wanted type arrives.
func readUntilType(t *testing.T, ctx context.Context, conn *websocket.Conn, msgType string) json.RawMessage {
	t.Helper()

	var seen []string
	for i := 0; i < 25; i++ {
		msg := readServerMessage(t, ctx, conn)
		if msg.Type == msgType {
			return msg.Payload
		}
		seen = append(seen, msg.Type)
	}
	t.Fatalf("never received %q, saw %v", msgType, seen)
	return nil
}

func unmarshalPayload(t *testing.T, raw json.RawMessage, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, dst))
}

// connectPlayer dials, performs the connect handshake and returns the socket
// with the assigned player id.
func connectPlayer(t *testing.T, ctx context.Context, url, sessionID, username string) (*websocket.Conn, string) {
	t.Helper()

	conn := dialWebsocket(t, ctx, url)
	sendClientMessage(t, ctx, conn, "connect", ConnectRequest{SessionID: sessionID, Username: username})

	var success ConnectionSuccess
	unmarshalPayload(t, readUntilType(t, ctx, conn, "connection:success"), &success)
	require.NotEmpty(t, success.PlayerID)
	return conn, success.PlayerID
}

// syncConn round-trips a ping so every previously sent message has been
// processed by the connection's read loop.
func syncConn(t *testing.T, ctx context.Context, conn *websocket.Conn) {
	t.Helper()

	sendClientMessage(t, ctx, conn, "ping", nil)
	readUntilType(t, ctx, conn, "pong")
}

func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStatusEndpoints(t *testing.T) {
	s, _, _ := setupTestServer(t)

	server := httptest.NewServer(s.RegisterRoutes())
	defer server.Close()

	for _, path := range []string{"/", "/health"} {
		resp, err := http.Get(server.URL + path)
		require.NoError(t, err)

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.JSONEq(t, `{"status":"ok","service":"shi-fu-mi-websocket"}`, string(body), path)
	}

	resp, err := http.Get(server.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	s, _, _ := setupTestServer(t)

	server := httptest.NewServer(s.RegisterRoutes())
	defer server.Close()

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/websocket", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebSocketPingPong(t *testing.T) {
	ctx := testContext(t)
	_, url, _ := setupTestServer(t)

	conn := dialWebsocket(t, ctx, url)
	sendClientMessage(t, ctx, conn, "ping", nil)

	msg := readServerMessage(t, ctx, conn)
	assert.Equal(t, "pong", msg.Type)
}

func TestInvalidJSONReturnsError(t *testing.T) {
	ctx := testContext(t)
	_, url, _ := setupTestServer(t)

	conn := dialWebsocket(t, ctx, url)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{not json")))

	var errMsg ErrorMessage
	unmarshalPayload(t, readUntilType(t, ctx, conn, "error"), &errMsg)
	assert.Contains(t, errMsg.Message, "MALFORMED_MESSAGE")
}

func TestUnknownMessageTypeReturnsError(t *testing.T) {
	ctx := testContext(t)
	_, url, _ := setupTestServer(t)

	conn := dialWebsocket(t, ctx, url)
	sendClientMessage(t, ctx, conn, "game:teleport", nil)

	var errMsg ErrorMessage
	unmarshalPayload(t, readUntilType(t, ctx, conn, "error"), &errMsg)
	assert.Contains(t, errMsg.Message, "MALFORMED_MESSAGE")
	assert.Contains(t, errMsg.Message, "game:teleport")
}

func TestGameMessagesRequireConnect(t *testing.T) {
	ctx := testContext(t)
	_, url, _ := setupTestServer(t)

	conn := dialWebsocket(t, ctx, url)
	sendClientMessage(t, ctx, conn, "game:invite", InviteRequest{TargetPlayerID: "someone"})

	var errMsg ErrorMessage
	unmarshalPayload(t, readUntilType(t, ctx, conn, "error"), &errMsg)
	assert.Contains(t, errMsg.Message, "NOT_CONNECTED")
}

func TestRateLimitExceeded(t *testing.T) {
	ctx := testContext(t)

	cfg := config.Config{
		MatchBackend:       config.BackendMemory,
		RateLimitPerSecond: 3,
	}
	clock := clockwork.NewFakeClock()
	s := newServer(cfg, clock, nil)

	server := httptest.NewServer(s.RegisterRoutes())
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/websocket"

	conn := dialWebsocket(t, ctx, url)

	// The fake clock never advances, so the window never slides.
	for i := 0; i < 4; i++ {
		sendClientMessage(t, ctx, conn, "ping", nil)
	}

	for i := 0; i < 3; i++ {
		msg := readServerMessage(t, ctx, conn)
		assert.Equal(t, "pong", msg.Type, fmt.Sprintf("message %d", i+1))
	}

	msg := readServerMessage(t, ctx, conn)
	require.Equal(t, "error", msg.Type)

	var errMsg ErrorMessage
	unmarshalPayload(t, msg.Payload, &errMsg)
	assert.Contains(t, errMsg.Message, "RATE_LIMIT_EXCEEDED")
}
