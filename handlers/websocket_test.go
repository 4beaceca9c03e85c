package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polls-backend/service"
)

type liveMessage struct {
	Type   string           `json:"type"`
	PollID uint             `json:"poll_id"`
	Data   service.PollView `json:"data"`
}

func dialPoll(t *testing.T, srv *httptest.Server, pollID uint) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + pollPath(pollID) + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readLive(t *testing.T, conn *websocket.Conn) liveMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg liveMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestWebSocket_SnapshotAndUpdates(t *testing.T) {
	env := setupTestEnv(t)
	view := env.createPoll(t, "alice", false, "Pizza", "Sushi")
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	conn := dialPoll(t, srv, view.ID)

	first := readLive(t, conn)
	assert.Equal(t, MessagePollUpdate, first.Type)
	assert.Equal(t, view.ID, first.PollID)
	assert.Zero(t, first.Data.TotalVotes)

	require.Eventually(t, func() bool { return env.hub.Subscribers(view.ID) == 1 }, 2*time.Second, 10*time.Millisecond)

	w := env.do(t, http.MethodPost, "/api/polls/vote", "bob", gin.H{"pollId": view.ID, "name": "Sushi"})
	require.Equal(t, http.StatusOK, w.Code)

	update := readLive(t, conn)
	assert.Equal(t, MessagePollUpdate, update.Type)
	assert.EqualValues(t, 1, update.Data.TotalVotes)
	assert.EqualValues(t, 1, choiceByName(update.Data, "Sushi").VoteCount)

	w = env.do(t, http.MethodDelete, pollPath(view.ID), "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)

	deleted := readLive(t, conn)
	assert.Equal(t, MessagePollDeleted, deleted.Type)
	assert.Equal(t, view.ID, deleted.PollID)
}

func TestWebSocket_Ping(t *testing.T) {
	env := setupTestEnv(t)
	view := env.createPoll(t, "alice", false, "Pizza", "Sushi")
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	conn := dialPoll(t, srv, view.ID)
	readLive(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"PING"}`)))
	pong := readLive(t, conn)
	assert.Equal(t, "PONG", pong.Type)
}

func TestWebSocket_UnknownPoll(t *testing.T) {
	env := setupTestEnv(t)
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/polls/999/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocket_ConnectionLimit(t *testing.T) {
	env := setupTestEnv(t)
	env.hub.maxConnections = 1
	view := env.createPoll(t, "alice", false, "Pizza", "Sushi")
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	conn := dialPoll(t, srv, view.ID)
	readLive(t, conn)
	require.Eventually(t, func() bool { return env.hub.Total() == 1 }, 2*time.Second, 10*time.Millisecond)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + pollPath(view.ID) + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSSE_Snapshot(t *testing.T) {
	env := setupTestEnv(t)
	view := env.createPoll(t, "alice", false, "Pizza", "Sushi")
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+pollPath(view.ID)+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	scanner := bufio.NewScanner(resp.Body)
	var data string
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "data:") {
			data = strings.TrimPrefix(line, "data:")
			break
		}
	}
	require.NotEmpty(t, data)

	var msg liveMessage
	require.NoError(t, json.Unmarshal([]byte(data), &msg))
	assert.Equal(t, MessagePollUpdate, msg.Type)
	assert.Equal(t, view.ID, msg.PollID)
	assert.Len(t, msg.Data.Choices, 2)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://polls.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, check(req), "requests without an origin are not browser requests")

	req.Header.Set("Origin", "https://polls.example.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
}
