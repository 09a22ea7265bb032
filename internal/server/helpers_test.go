package server

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/coedit/internal/hub"
	"github.com/Tyrowin/coedit/internal/logging"
	"github.com/Tyrowin/coedit/internal/metrics"
)

const testOrigin = "http://localhost:3000"

type testEnv struct {
	lifecycle *Lifecycle
	metrics   *metrics.Metrics
	cfg       *Config
	wsURL     string
	httpURL   string
}

// newTestEnv starts a hub, a WebSocket listener and an HTTP listener that
// share one set of metrics.
func newTestEnv(t *testing.T, customize func(cfg *Config)) *testEnv {
	t.Helper()

	cfg := NewConfig()
	if customize != nil {
		customize(cfg)
	}

	m := metrics.NewMetrics()
	h := hub.New(hub.WithLogger(logging.NewNop()), hub.WithMetrics(m))
	go h.Run()

	lifecycle := NewLifecycle(h, cfg, logging.NewNop(), m)
	wsServer := httptest.NewServer(SetupWebSocketRoutes(lifecycle))
	httpServer := httptest.NewServer(SetupHTTPRoutes(cfg, m))
	t.Cleanup(httpServer.Close)
	t.Cleanup(wsServer.Close)
	t.Cleanup(func() { _ = lifecycle.Shutdown(2 * time.Second) })

	return &testEnv{
		lifecycle: lifecycle,
		metrics:   m,
		cfg:       cfg,
		wsURL:     "ws" + strings.TrimPrefix(wsServer.URL, "http") + "/ws",
		httpURL:   httpServer.URL,
	}
}

func connectWebSocket(t *testing.T, url, origin string) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

type snapshot struct {
	Type string `json:"type"`
	Data struct {
		Users         map[string]map[string]any `json:"users"`
		EditorContent json.RawMessage           `json:"editorContent"`
		UserActivity  []string                  `json:"userActivity"`
	} `json:"data"`
}

func receiveSnapshot(t *testing.T, conn *websocket.Conn) snapshot {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var s snapshot
	require.NoError(t, conn.ReadJSON(&s))
	return s
}

func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "expected no message")
	netErr, ok := err.(net.Error)
	require.True(t, ok && netErr.Timeout(), "unexpected error while waiting for absence of message: %v", err)
}

func closeWebSocket(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	require.NoError(t, err)
}

func getBody(t *testing.T, url string) (int, string) {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}
