package server

import (
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleScenario(t *testing.T) {
	env := newTestEnv(t, nil)

	alice := connectWebSocket(t, env.wsURL, testOrigin)
	sendJSON(t, alice, `{"type":"userevent","username":"alice"}`)

	joined := receiveSnapshot(t, alice)
	assert.Equal(t, "userevent", joined.Type)
	require.Len(t, joined.Data.Users, 1)
	for _, profile := range joined.Data.Users {
		assert.Equal(t, "alice", profile["username"])
		assert.Equal(t, "userevent", profile["type"])
	}
	assert.Equal(t, []string{"alice joined to edit the document"}, joined.Data.UserActivity)

	bob := connectWebSocket(t, env.wsURL, testOrigin)
	sendJSON(t, bob, `{"type":"contentchange","content":"hello"}`)

	for _, conn := range []*websocket.Conn{alice, bob} {
		changed := receiveSnapshot(t, conn)
		assert.Equal(t, "contentchange", changed.Type)
		assert.JSONEq(t, `"hello"`, string(changed.Data.EditorContent))
		assert.Equal(t, []string{"alice joined to edit the document"}, changed.Data.UserActivity)
	}

	closeWebSocket(t, alice)

	left := receiveSnapshot(t, bob)
	assert.Equal(t, "userevent", left.Type)
	assert.Empty(t, left.Data.Users)
	assert.Equal(t, []string{
		"alice joined to edit the document",
		"alice left the document",
	}, left.Data.UserActivity)
}

func TestLifecycleUnidentifiedLeaveUsesConnectionID(t *testing.T) {
	env := newTestEnv(t, nil)

	watcher := connectWebSocket(t, env.wsURL, testOrigin)
	sendJSON(t, watcher, `{"type":"userevent","username":"watcher"}`)
	receiveSnapshot(t, watcher)

	anon := connectWebSocket(t, env.wsURL, testOrigin)
	sendJSON(t, anon, `{"type":"contentchange","content":{"text":"draft"}}`)
	receiveSnapshot(t, watcher)
	receiveSnapshot(t, anon)

	closeWebSocket(t, anon)

	left := receiveSnapshot(t, watcher)
	require.Len(t, left.Data.UserActivity, 2)
	last := left.Data.UserActivity[1]
	assert.True(t, strings.HasSuffix(last, " left the document"))
	assert.NotEqual(t, "watcher left the document", last)
	assert.Len(t, left.Data.Users, 1)
}

func TestLifecycleMalformedMessageKeepsConnectionOpen(t *testing.T) {
	env := newTestEnv(t, nil)

	conn := connectWebSocket(t, env.wsURL, testOrigin)
	sendJSON(t, conn, `not json at all`)
	sendJSON(t, conn, `{"type":"userevent","username":42}`)
	sendJSON(t, conn, `{"type":"cursor","x":1}`)
	sendJSON(t, conn, `{"type":"userevent","username":"carol"}`)

	s := receiveSnapshot(t, conn)
	assert.Equal(t, "userevent", s.Type)
	assert.Equal(t, []string{"carol joined to edit the document"}, s.Data.UserActivity)

	require.Eventually(t, func() bool {
		status, body := getBody(t, env.httpURL+"/metrics")
		return status == http.StatusOK &&
			strings.Contains(body, "coedit_websocket_malformed_messages_total 2") &&
			strings.Contains(body, "coedit_hub_participants 1")
	}, 2*time.Second, 20*time.Millisecond)
}

func TestLifecycleInvalidUTF8IsNeverBroadcast(t *testing.T) {
	env := newTestEnv(t, nil)

	conn := connectWebSocket(t, env.wsURL, testOrigin)
	sendJSON(t, conn, "{\"type\":\"userevent\",\"username\":\"\xff\xfe\"}")
	sendJSON(t, conn, "{\"type\":\"contentchange\",\"content\":\"\xc3\"}")
	sendJSON(t, conn, `{"type":"userevent","username":"erin"}`)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.True(t, utf8.Valid(frame))
	assert.Contains(t, string(frame), `"erin joined to edit the document"`)
	assert.NotContains(t, string(frame), "contentchange")

	require.Eventually(t, func() bool {
		_, body := getBody(t, env.httpURL+"/metrics")
		return strings.Contains(body, "coedit_websocket_malformed_messages_total 2")
	}, 2*time.Second, 20*time.Millisecond)
}

func TestLifecycleRateLimitDropsExcessMessages(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.RateLimit = RateLimitConfig{Burst: 1, RefillInterval: time.Hour}
	})

	conn := connectWebSocket(t, env.wsURL, testOrigin)
	sendJSON(t, conn, `{"type":"userevent","username":"first"}`)
	sendJSON(t, conn, `{"type":"userevent","username":"second"}`)

	s := receiveSnapshot(t, conn)
	assert.Equal(t, []string{"first joined to edit the document"}, s.Data.UserActivity)
	expectNoMessage(t, conn, 200*time.Millisecond)
}

func TestLifecycleRejectsNonGet(t *testing.T) {
	env := newTestEnv(t, nil)

	url := "http" + strings.TrimPrefix(env.wsURL, "ws")
	resp, err := http.Post(url, "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestLifecycleRejectsDisallowedOrigin(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, origin := range []string{"", "http://evil.example.com"} {
		headers := http.Header{}
		if origin != "" {
			headers.Set("Origin", origin)
		}
		conn, resp, err := websocket.DefaultDialer.Dial(env.wsURL, headers)
		if conn != nil {
			_ = conn.Close()
		}
		require.Error(t, err, "origin %q", origin)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		_ = resp.Body.Close()
	}
}

func TestLifecycleAllowAllOrigins(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.AllowedOrigins = []string{"*"}
	})

	conn := connectWebSocket(t, env.wsURL, "http://anywhere.example.com")
	sendJSON(t, conn, `{"type":"contentchange","content":1}`)
	s := receiveSnapshot(t, conn)
	assert.JSONEq(t, `1`, string(s.Data.EditorContent))
}

func TestLifecycleShutdownClosesClients(t *testing.T) {
	env := newTestEnv(t, nil)

	conn := connectWebSocket(t, env.wsURL, testOrigin)
	sendJSON(t, conn, `{"type":"userevent","username":"dave"}`)
	receiveSnapshot(t, conn)

	require.NoError(t, env.lifecycle.Shutdown(2*time.Second))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	late := connectWebSocket(t, env.wsURL, testOrigin)
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestLifecycleManyClientsConverge(t *testing.T) {
	env := newTestEnv(t, nil)

	const clients = 5
	conns := make([]*websocket.Conn, clients)
	for i := range conns {
		conns[i] = connectWebSocket(t, env.wsURL, testOrigin)
		sendJSON(t, conns[i], `{"type":"userevent","username":"user"}`)
		// Every connection already joined sees the new participant.
		for j := 0; j <= i; j++ {
			s := receiveSnapshot(t, conns[j])
			assert.Len(t, s.Data.Users, i+1)
		}
	}

	sendJSON(t, conns[clients-1], `{"type":"contentchange","content":"final"}`)
	for _, conn := range conns {
		s := receiveSnapshot(t, conn)
		assert.Equal(t, "contentchange", s.Type)
		assert.JSONEq(t, `"final"`, string(s.Data.EditorContent))
		assert.Len(t, s.Data.UserActivity, clients)
	}
}

func TestLifecycleOversizedMessageClosesConnection(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.MaxMessageSize = 64
	})

	conn := connectWebSocket(t, env.wsURL, testOrigin)
	sendJSON(t, conn, `{"type":"contentchange","content":"`+strings.Repeat("x", 128)+`"}`)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseMessageTooBig), "got %v", err)
}

func TestLifecycleRejectsConnectionAcceptedDuringShutdown(t *testing.T) {
	env := newTestEnv(t, nil)

	// The hub is still accepting joins while the lifecycle is already
	// draining its pumps.
	env.lifecycle.mu.Lock()
	env.lifecycle.shuttingDown = true
	env.lifecycle.mu.Unlock()

	conn := connectWebSocket(t, env.wsURL, testOrigin)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	require.Eventually(t, func() bool {
		_, body := getBody(t, env.httpURL+"/metrics")
		return strings.Contains(body, `coedit_hub_events_total{type="leave"} 1`) &&
			strings.Contains(body, "coedit_hub_connections 0")
	}, 2*time.Second, 20*time.Millisecond)

	done := make(chan struct{})
	go func() {
		env.lifecycle.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pumps were started for a rejected connection")
	}
}
