package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koopa0/system-design/coop-platformer/internal/cache"
	"github.com/koopa0/system-design/coop-platformer/internal/room"
	"github.com/koopa0/system-design/coop-platformer/internal/server"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const readTimeout = 2 * time.Second

type testServer struct {
	srv     *httptest.Server
	manager *room.Manager
	hub     *server.Hub
	qrCache *cache.LRU
}

type testOptions struct {
	grace   time.Duration
	hub     server.HubOptions
	handler server.HandlerOptions
}

func newTestServer(t *testing.T, opts testOptions) *testServer {
	t.Helper()
	if opts.grace == 0 {
		opts.grace = time.Hour
	}

	logger := zap.NewNop().Sugar()
	manager := room.NewManager(room.Options{GracePeriod: opts.grace, AdvertiseHost: "10.0.0.5", AdvertisePort: 3000}, logger)
	hub := server.NewHub(manager, opts.hub, logger)

	qrCache, err := cache.NewLRU(8)
	require.NoError(t, err)
	handler := server.NewHandler(manager, hub, server.NewQRRenderer(qrCache, 128), opts.handler, logger)

	srv := httptest.NewServer(handler.Routes())
	t.Cleanup(func() {
		manager.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
		defer cancel()
		_ = hub.Stop(ctx)
		srv.Close()
	})

	return &testServer{srv: srv, manager: manager, hub: hub, qrCache: qrCache}
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(), nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (ts *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	frame, err := room.Encode(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// expect 讀取直到收到指定事件，回傳其資料。
func expect(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	var seen []string
	for {
		_, frame, err := conn.ReadMessage()
		require.NoErrorf(t, err, "waiting for %s, saw %v", event, seen)
		env, err := room.Decode(frame)
		require.NoError(t, err)
		if env.Event == event {
			return env.Data
		}
		seen = append(seen, env.Event)
	}
}

// collect 在 d 時間內收到的所有事件名稱。
func collect(t *testing.T, conn *websocket.Conn, d time.Duration) []string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	var events []string
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return events
		}
		env, err := room.Decode(frame)
		require.NoError(t, err)
		events = append(events, env.Event)
	}
}

func decode[T any](t *testing.T, data json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

type roomCodeMsg struct {
	RoomCode string `json:"roomCode"`
	LocalIP  string `json:"localIP"`
	Port     int    `json:"port"`
}

type indexMsg struct {
	PlayerIndex int `json:"playerIndex"`
}

type reasonMsg struct {
	Reason string `json:"reason"`
}

// createRoom 主機建立房間並回傳房間碼。
func createRoom(t *testing.T, host *websocket.Conn) string {
	t.Helper()
	send(t, host, room.EventHostCreateRoom, nil)
	created := decode[roomCodeMsg](t, expect(t, host, room.EventRoomCreated))
	require.Len(t, created.RoomCode, 4)
	return created.RoomCode
}
