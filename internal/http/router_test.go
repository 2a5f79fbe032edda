package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/frl/feed-api/internal/db"
	"github.com/frl/feed-api/internal/domain"
	"github.com/frl/feed-api/internal/repository"
	"github.com/frl/feed-api/internal/service/auth"
	"github.com/frl/feed-api/internal/service/monitor"
)

type testFeedRepo struct {
	domains  map[string]int64
	articles map[int64][]domain.Article
	clients  map[string]string
	err      error
}

func (r *testFeedRepo) GetDomainID(ctx context.Context, name string) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	id, ok := r.domains[name]
	if !ok {
		return 0, repository.ErrNotFound
	}
	return id, nil
}

func (r *testFeedRepo) ListArticles(ctx context.Context, domainID int64, limit int) ([]domain.Article, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.articles[domainID], nil
}

func (r *testFeedRepo) ValidateAPIClient(ctx context.Context, apiID, apiKey string) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	key, ok := r.clients[apiID]
	if !ok || key != apiKey {
		return 0, repository.ErrNotFound
	}
	return 1, nil
}

type testProber struct {
	ok        bool
	connected bool
}

func (p *testProber) Probe(context.Context) bool { return p.ok }
func (p *testProber) State() db.State            { return db.State{Connected: p.connected} }

type testInventory struct {
	set domain.WorkerSet
}

func (i *testInventory) Snapshot(context.Context) (domain.WorkerSet, error) { return i.set, nil }

type testStatsSource struct {
	snapshot domain.StatsSnapshot
}

func (s *testStatsSource) Snapshot() domain.StatsSnapshot { return s.snapshot }
func (s *testStatsSource) ResetIfStale(int) bool          { return false }

type testHooks struct {
	mu     sync.Mutex
	starts int
	ends   []int
}

func (h *testHooks) OnRequestStart() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts++
}

func (h *testHooks) OnRequestEnd(status int, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ends = append(h.ends, status)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newTestRouter(t *testing.T, repo *testFeedRepo, prober monitor.Prober, inv monitor.Inventory, stats monitor.StatsSource, hooks StatsHook) *Router {
	t.Helper()
	logger := discardLogger()
	monitorSvc := monitor.New(prober, inv, stats, nil, logger, 0, 1)
	router := NewRouter(logger, auth.New(repo, logger), repo, monitorSvc, hooks, nil, NewMemoryRateLimiter(), "admin", "secret")
	t.Cleanup(router.Close)
	return router
}

func defaultTestRepo() *testFeedRepo {
	published := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &testFeedRepo{
		domains: map[string]int64{"example.com": 7},
		articles: map[int64][]domain.Article{
			7: {{ID: 1, DomainID: 7, Title: "First", Slug: "first", Body: "body", PublishedAt: published}},
		},
		clients: map[string]string{"client-1": "key-1"},
	}
}

func TestFeedArticlesReturnsArticles(t *testing.T) {
	router := newTestRouter(t, defaultTestRepo(), &testProber{ok: true}, &testInventory{}, &testStatsSource{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/feed/articles?domain=example.com", nil)
	req.Header.Set("X-API-ID", "client-1")
	req.Header.Set("X-API-KEY", "key-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Domain   string           `json:"domain"`
		Articles []domain.Article `json:"articles"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Domain != "example.com" || len(payload.Articles) != 1 || payload.Articles[0].Slug != "first" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestFeedArticlesRejectsBadCredentials(t *testing.T) {
	router := newTestRouter(t, defaultTestRepo(), &testProber{ok: true}, &testInventory{}, &testStatsSource{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/feed/articles?domain=example.com", nil)
	req.Header.Set("X-API-ID", "client-1")
	req.Header.Set("X-API-KEY", "wrong")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestFeedArticlesUnknownDomain(t *testing.T) {
	router := newTestRouter(t, defaultTestRepo(), &testProber{ok: true}, &testInventory{}, &testStatsSource{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/feed/articles?domain=missing.com", nil)
	req.Header.Set("X-API-ID", "client-1")
	req.Header.Set("X-API-KEY", "key-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestFeedArticlesDatabaseUnavailable(t *testing.T) {
	repo := defaultTestRepo()
	repo.err = fmt.Errorf("%w: %w", db.ErrQueryFailed, db.ErrUnavailable)
	router := newTestRouter(t, repo, &testProber{ok: false}, &testInventory{}, &testStatsSource{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/feed/articles?domain=example.com", nil)
	req.Header.Set("X-API-ID", "client-1")
	req.Header.Set("X-API-KEY", "key-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestMonitorEndpointsRequireBasicAuth(t *testing.T) {
	router := newTestRouter(t, defaultTestRepo(), &testProber{ok: true}, &testInventory{}, &testStatsSource{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/monitor/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/monitor/stats", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with credentials, got %d", rec.Code)
	}
}

func TestMonitorStatsContract(t *testing.T) {
	stats := &testStatsSource{snapshot: domain.StatsSnapshot{
		TotalRequests:         10,
		Errors:                2,
		RequestsPerMinute:     5,
		AverageResponseTimeMS: 100,
		ErrorRate:             0.2,
		UptimeSeconds:         120,
	}}
	router := newTestRouter(t, defaultTestRepo(), &testProber{ok: true}, &testInventory{}, stats, nil)

	req := httptest.NewRequest(http.MethodGet, "/monitor/stats", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	for _, key := range []string{"total_requests", "errors", "requests_per_minute", "average_response_time_ms", "error_rate", "uptime_seconds"} {
		if _, ok := payload[key]; !ok {
			t.Fatalf("missing field %q in %v", key, payload)
		}
	}
	if payload["total_requests"].(float64) != 10 || payload["error_rate"].(float64) != 0.2 {
		t.Fatalf("unexpected values: %v", payload)
	}
}

func TestMonitorHealthUnhealthyReturns503(t *testing.T) {
	router := newTestRouter(t, defaultTestRepo(), &testProber{ok: false}, &testInventory{set: domain.WorkerSet{MasterPID: 1, Workers: []domain.WorkerInfo{{PID: 2}}}}, &testStatsSource{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/monitor/health", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var verdict domain.HealthVerdict
	if err := json.NewDecoder(rec.Body).Decode(&verdict); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if verdict.Status != domain.StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", verdict.Status)
	}
}

func TestHealthzAlwaysAnswers(t *testing.T) {
	repo := defaultTestRepo()
	repo.err = db.ErrUnavailable
	router := newTestRouter(t, repo, &testProber{ok: false}, &testInventory{}, &testStatsSource{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 while database is down, got %d", rec.Code)
	}
}

func TestObserveInvokesStatsHooks(t *testing.T) {
	hooks := &testHooks{}
	router := newTestRouter(t, defaultTestRepo(), &testProber{ok: true}, &testInventory{}, &testStatsSource{}, hooks)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	if hooks.starts != 1 || len(hooks.ends) != 1 {
		t.Fatalf("expected one start/end pair, got %d/%d", hooks.starts, len(hooks.ends))
	}
	if hooks.ends[0] != http.StatusOK {
		t.Fatalf("expected recorded status 200, got %d", hooks.ends[0])
	}
}

func TestObserveSetsRequestID(t *testing.T) {
	router := newTestRouter(t, defaultTestRepo(), &testProber{ok: true}, &testInventory{}, &testStatsSource{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected generated request id header")
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("expected propagated request id, got %q", got)
	}
}

func TestFeedArticlesRateLimited(t *testing.T) {
	router := newTestRouter(t, defaultTestRepo(), &testProber{ok: true}, &testInventory{}, &testStatsSource{}, nil)

	var last int
	for i := 0; i < rateLimitFeed+1; i++ {
		req := httptest.NewRequest(http.MethodGet, "/feed/articles?domain=example.com", nil)
		req.Header.Set("X-API-ID", "client-1")
		req.Header.Set("X-API-KEY", "key-1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exceeding the window, got %d", last)
	}
}
