package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alvmarrod/trust-weaver/internal/build"
	"github.com/alvmarrod/trust-weaver/internal/config"
	"github.com/alvmarrod/trust-weaver/internal/crawler"
	"github.com/alvmarrod/trust-weaver/internal/memory"
	"github.com/alvmarrod/trust-weaver/internal/storage"
	"github.com/alvmarrod/trust-weaver/internal/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "s3cret"

func key(n int) string {
	return fmt.Sprintf("%064x", n)
}

// stubSource serves a fixed follow table, optionally blocking until released
type stubSource struct {
	follows map[string][]string
	gate    chan struct{}
	err     error
}

func (s *stubSource) FetchFollows(ctx context.Context, identifier string) ([]string, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.follows[identifier], nil
}

type testEnv struct {
	server  *Server
	db      *storage.Storage
	graph   *memory.Store
	manager *build.Manager
}

func newTestEnv(t *testing.T, source crawler.FollowListSource, cfg ServerConfig) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := storage.NewStorage(filepath.Join(t.TempDir(), "weaver.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	crawlCfg := &config.Config{ConcurrentWorkers: 4, RequestTimeoutMs: 2000, BuildTimeoutMs: 10000}
	graph := memory.NewStore(db)
	manager, err := build.NewManager(ctx, db, db, crawler.NewCrawler(crawlCfg, source), graph, build.Options{})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})

	server := NewServer(cfg, manager, db, graph, trust.NewEngine(graph))
	return &testEnv{server: server, db: db, graph: graph, manager: manager}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &stubSource{}, ServerConfig{AdminToken: testToken})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, false, body["isBuilding"])
}

func TestAdminAuth(t *testing.T) {
	env := newTestEnv(t, &stubSource{}, ServerConfig{AdminToken: testToken})

	tests := []struct {
		name     string
		header   string
		expected int
	}{
		{name: "missing", header: "", expected: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + testToken, expected: http.StatusUnauthorized},
		{name: "wrong token", header: "Bearer nope", expected: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + testToken, expected: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/graph", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(w, req)
			assert.Equal(t, tt.expected, w.Code)
		})
	}
}

func TestAdminAuth_DisabledWithoutToken(t *testing.T) {
	env := newTestEnv(t, &stubSource{}, ServerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/admin/seeders", nil)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSeeders_CRUD(t *testing.T) {
	env := newTestEnv(t, &stubSource{}, ServerConfig{AdminToken: testToken})
	id := key(0xabc)

	w := env.do(t, http.MethodPost, "/admin/seeders", AddSeederRequest{Identifier: "  " + strings.ToUpper(id) + " ", Region: "eu", Label: "founder"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created storage.Seeder
	decode(t, w, &created)
	assert.Equal(t, id, created.Identifier)
	assert.Equal(t, "eu", created.Region)
	assert.Equal(t, adminActor, created.AddedBy)

	w = env.do(t, http.MethodPost, "/admin/seeders", AddSeederRequest{Identifier: id, Region: "us"})
	assert.Equal(t, http.StatusConflict, w.Code)
	var conflict ErrorResponse
	decode(t, w, &conflict)
	assert.Equal(t, ErrCodeConflict, conflict.Code)

	w = env.do(t, http.MethodGet, "/admin/seeders", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Seeders []storage.Seeder `json:"seeders"`
	}
	decode(t, w, &listed)
	require.Len(t, listed.Seeders, 1)
	assert.Equal(t, id, listed.Seeders[0].Identifier)

	w = env.do(t, http.MethodDelete, "/admin/seeders/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodDelete, "/admin/seeders/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSeeders_InvalidInput(t *testing.T) {
	env := newTestEnv(t, &stubSource{}, ServerConfig{AdminToken: testToken})

	tests := []struct {
		name string
		body interface{}
	}{
		{name: "malformed json", body: "{not json"},
		{name: "unknown field", body: `{"identifier":"x","region":"eu","extra":1}`},
		{name: "bad identifier", body: AddSeederRequest{Identifier: "npub-not-hex", Region: "eu"}},
		{name: "missing region", body: AddSeederRequest{Identifier: key(1), Region: "  "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/admin/seeders", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp ErrorResponse
			decode(t, w, &resp)
			assert.Equal(t, ErrCodeInvalidInput, resp.Code)
		})
	}

	w := env.do(t, http.MethodDelete, "/admin/seeders/zz", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGraph_EmptyOverview(t *testing.T) {
	env := newTestEnv(t, &stubSource{}, ServerConfig{AdminToken: testToken})

	w := env.do(t, http.MethodGet, "/admin/graph", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var overview GraphOverview
	decode(t, w, &overview)
	assert.Equal(t, 0, overview.Stats.TotalNodes)
	assert.False(t, overview.IsRunning)
	assert.Nil(t, overview.LastBuild)
	assert.NotNil(t, overview.History)
	assert.Empty(t, overview.History)
}

func TestGraph_SynchronousBuild(t *testing.T) {
	seed, friend, fof := key(1), key(2), key(3)
	env := newTestEnv(t, &stubSource{follows: map[string][]string{seed: {friend}, friend: {fof}}}, ServerConfig{AdminToken: testToken})
	_, err := env.db.AddSeeder(context.Background(), seed, "eu", "", "test")
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/admin/graph", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp BuildResponse
	decode(t, w, &resp)
	assert.Equal(t, 3, resp.NodesCount)

	w = env.do(t, http.MethodGet, "/admin/graph", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var overview GraphOverview
	decode(t, w, &overview)
	assert.Equal(t, 3, overview.Stats.TotalNodes)
	assert.Equal(t, map[int]int{0: 1, 1: 1, 2: 1}, overview.Stats.NodesByDepth)
	require.NotNil(t, overview.LastBuild)
	assert.Equal(t, storage.BuildCompleted, overview.LastBuild.Status)
	require.Len(t, overview.History, 1)

	w = env.do(t, http.MethodGet, "/trust/"+friend, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var breakdown trust.Breakdown
	decode(t, w, &breakdown)
	assert.InDelta(t, 0.15, breakdown.Score, 1e-9)
	require.NotNil(t, breakdown.Depth)
	assert.Equal(t, 1, *breakdown.Depth)
}

func TestGraph_FailedBuildReturns500(t *testing.T) {
	env := newTestEnv(t, &stubSource{err: errors.New("relay offline")}, ServerConfig{AdminToken: testToken})
	_, err := env.db.AddSeeder(context.Background(), key(1), "eu", "", "test")
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/admin/graph", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	var resp ErrorResponse
	decode(t, w, &resp)
	assert.Equal(t, ErrCodeBuildFailed, resp.Code)
	assert.Contains(t, resp.Error, "no seeder follow list")
}

func TestGraph_BuildsDisabledStillServesTrust(t *testing.T) {
	ctx := context.Background()
	db, err := storage.NewStorage(filepath.Join(t.TempDir(), "weaver.db"))
	require.NoError(t, err)
	defer db.Close()

	seed := key(1)
	started := time.Now().UTC()
	completed := started.Add(time.Second)
	require.NoError(t, db.CreateBuild(ctx, &storage.GraphBuild{ID: "b1", Status: storage.BuildRunning, StartedAt: started}))
	require.NoError(t, db.ReplaceSnapshot(ctx, &storage.GraphBuild{
		ID: "b1", Status: storage.BuildCompleted, StartedAt: started, CompletedAt: &completed,
	}, []storage.NodeRecord{{Identifier: seed, Depth: 0}}))

	graph := memory.NewStore(db)
	require.NoError(t, graph.LoadFromStorage(ctx))
	manager, err := build.NewManager(ctx, db, db, nil, graph, build.Options{DisabledReason: "no follow sources configured"})
	require.NoError(t, err)
	env := &testEnv{server: NewServer(ServerConfig{AdminToken: testToken}, manager, db, graph, trust.NewEngine(graph)), db: db, graph: graph, manager: manager}

	w := env.do(t, http.MethodPost, "/admin/graph", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp ErrorResponse
	decode(t, w, &resp)
	assert.Equal(t, ErrCodeBuildsDisabled, resp.Code)

	w = env.do(t, http.MethodGet, "/trust/"+seed, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var breakdown trust.Breakdown
	decode(t, w, &breakdown)
	assert.Equal(t, 1.0, breakdown.Score)
}

func TestGraph_AsyncBuildAndConflict(t *testing.T) {
	gate := make(chan struct{})
	env := newTestEnv(t, &stubSource{gate: gate}, ServerConfig{AdminToken: testToken})
	_, err := env.db.AddSeeder(context.Background(), key(1), "eu", "", "test")
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/admin/graph?async=true", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	var accepted AsyncBuildResponse
	decode(t, w, &accepted)
	assert.Equal(t, storage.BuildRunning, accepted.Build.Status)
	assert.Equal(t, 1, accepted.Build.SeedersCount)

	w = env.do(t, http.MethodPost, "/admin/graph", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	var conflict ErrorResponse
	decode(t, w, &conflict)
	assert.Equal(t, ErrCodeBuildRunning, conflict.Code)

	w = env.do(t, http.MethodGet, "/admin/graph", nil)
	var overview GraphOverview
	decode(t, w, &overview)
	assert.True(t, overview.IsRunning)
	require.NotNil(t, overview.LastBuild)
	assert.Equal(t, accepted.Build.ID, overview.LastBuild.ID)

	close(gate)
	assert.Eventually(t, func() bool {
		return !env.manager.Status().IsRunning
	}, 5*time.Second, 10*time.Millisecond)
}

func TestTrust_UnknownAndMalformed(t *testing.T) {
	env := newTestEnv(t, &stubSource{}, ServerConfig{})

	for _, id := range []string{key(42), "not-a-key"} {
		w := env.do(t, http.MethodGet, "/trust/"+id, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var breakdown trust.Breakdown
		decode(t, w, &breakdown)
		assert.Equal(t, trust.UnknownScore, breakdown.Score)
		assert.False(t, breakdown.Known)
		assert.Nil(t, breakdown.Depth)
	}
}

func TestTrust_RateLimited(t *testing.T) {
	env := newTestEnv(t, &stubSource{}, ServerConfig{TrustRPS: 1})

	first := env.do(t, http.MethodGet, "/trust/"+key(1), nil)
	second := env.do(t, http.MethodGet, "/trust/"+key(1), nil)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	var resp ErrorResponse
	decode(t, second, &resp)
	assert.Equal(t, ErrCodeRateLimitExceeded, resp.Code)

	// Admin routes are not rate limited
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/admin/seeders", nil).Code)
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(1)
	handler := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	request := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/trust/x", nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, request("10.0.0.1:1000"))
	assert.Equal(t, http.StatusTooManyRequests, request("10.0.0.1:2000"))
	assert.Equal(t, http.StatusOK, request("10.0.0.2:1000"))
}

func TestRateLimiter_ConcurrentGetLimiter(t *testing.T) {
	rl := NewRateLimiter(5)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rl.getLimiter("client")
		}()
	}
	wg.Wait()
	assert.Len(t, rl.limiters, 1)
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp ErrorResponse
	decode(t, w, &resp)
	assert.Equal(t, ErrCodeInternalError, resp.Code)
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		raw      string
		expected int
	}{
		{"", defaultHistoryLimit},
		{"abc", defaultHistoryLimit},
		{"-5", defaultHistoryLimit},
		{"0", defaultHistoryLimit},
		{"7", 7},
		{"200", 200},
		{"10000", maxHistoryLimit},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, parseLimit(tt.raw), tt.raw)
	}
}

func TestMapError(t *testing.T) {
	status, code, _ := mapError(fmt.Errorf("wrapped: %w", build.ErrBuildAlreadyRunning))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, ErrCodeBuildRunning, code)

	status, code, _ = mapError(fmt.Errorf("%w: no follow sources configured", build.ErrBuildsDisabled))
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, ErrCodeBuildsDisabled, code)

	status, code, msg := mapError(errors.New("disk I/O error"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, ErrCodeInternalError, code)
	assert.NotContains(t, msg, "disk")
}
