package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"polls-backend/cache"
	"polls-backend/config"
	"polls-backend/database"
	"polls-backend/migrations"
	"polls-backend/mq"
	"polls-backend/service"
)

type testEnv struct {
	router  *gin.Engine
	handler *Handler
	hub     *Hub
}

type envOption func(*Deps)

func withLimiter(l cache.RateLimiter) envOption {
	return func(d *Deps) { d.Limiter = l }
}

func withPublisher(p mq.Publisher) envOption {
	return func(d *Deps) { d.Publisher = p }
}

func withAdmins(ids ...string) envOption {
	return func(d *Deps) { d.Admins = ids }
}

// recordingPublisher keeps every published event in memory.
type recordingPublisher struct {
	mu     sync.Mutex
	events []mq.VoteEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev mq.VoteEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Name() string { return "recording" }
func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Events() []mq.VoteEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]mq.VoteEvent(nil), p.events...)
}

func setupTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	dsn := "file:" + filepath.Join(t.TempDir(), "polls.db") + "?_foreign_keys=on&_busy_timeout=5000"
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", DSN: dsn, LogLevel: "silent"}, io.Discard)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	require.NoError(t, migrations.Run(db, logger))

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(100, []string{"*"}, logger)
	go hub.Run(ctx)
	t.Cleanup(cancel)

	deps := Deps{
		DB:         db,
		Votes:      service.NewVoteService(db, 0, logger),
		Polls:      service.NewPollService(db, logger),
		Users:      service.NewUserService(db),
		Reader:     service.NewPollReader(db),
		Reconciler: service.NewReconciler(db, nil, logger),
		Cache:      cache.NewMemoryPollCache(time.Minute),
		Hub:        hub,
		Logger:     logger,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h := New(deps)
	// runs before the database is closed
	t.Cleanup(h.Wait)

	router := gin.New()
	router.Use(h.RateLimit())
	h.Register(router.Group("/api"))

	return &testEnv{router: router, handler: h, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(HeaderUserID, userID)
		req.Header.Set(HeaderUserName, "name-"+userID)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// createPoll creates a poll through the API and returns its view.
func (e *testEnv) createPoll(t *testing.T, owner string, anonymous bool, choices ...string) service.PollView {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/polls", owner, gin.H{
		"title":     "Lunch?",
		"choices":   choices,
		"anonymous": anonymous,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var view service.PollView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	return view
}

func (e *testEnv) getPoll(t *testing.T, id uint) service.PollView {
	t.Helper()
	w := e.do(t, http.MethodGet, pollPath(id), "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var view service.PollView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	return view
}

func pollPath(id uint) string {
	return fmt.Sprintf("/api/polls/%d", id)
}
