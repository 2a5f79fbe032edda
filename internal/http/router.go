package httpx

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/frl/feed-api/internal/db"
	"github.com/frl/feed-api/internal/domain"
	"github.com/frl/feed-api/internal/repository"
	"github.com/frl/feed-api/internal/service/auth"
	"github.com/frl/feed-api/internal/service/monitor"
	"github.com/frl/feed-api/internal/ws"
)

// StatsHook receives request lifecycle callbacks from the observe middleware.
type StatsHook interface {
	OnRequestStart()
	OnRequestEnd(status int, duration time.Duration)
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	auth     auth.Service
	feed     repository.FeedRepository
	monitor  *monitor.Service
	hooks    StatsHook
	hub      *ws.Hub
	upgrader websocket.Upgrader
	limiter  RateLimiter

	monitorUser     string
	monitorPassword string

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault = time.Minute
	rateLimitFeed     = 120
	rateLimitMonitor  = 60
	defaultFeedLimit  = 20
	maxFeedLimit      = 100
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, feedRepo repository.FeedRepository, monitorSvc *monitor.Service, hooks StatsHook, hub *ws.Hub, limiter RateLimiter, monitorUser, monitorPassword string) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		auth:    authSvc,
		feed:    feedRepo,
		monitor: monitorSvc,
		hooks:   hooks,
		hub:     hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:         limiter,
		monitorUser:     strings.TrimSpace(monitorUser),
		monitorPassword: monitorPassword,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/", r.observe("/", r.handleIndex))
	r.mux.HandleFunc("/healthz", r.observe("/healthz", r.handleHealthz))
	r.mux.HandleFunc("/feed/articles", r.observe("/feed/articles", r.withRateLimit("/feed/articles", rateLimitFeed, rateWindowDefault, rateLimitKeyClient, r.handleFeedArticles)))
	r.mux.HandleFunc("/monitor/stats", r.observe("/monitor/stats", r.monitorAuth(r.withRateLimit("/monitor/stats", rateLimitMonitor, rateWindowDefault, rateLimitKeyIP, r.handleMonitorStats))))
	r.mux.HandleFunc("/monitor/health", r.observe("/monitor/health", r.monitorAuth(r.withRateLimit("/monitor/health", rateLimitMonitor, rateWindowDefault, rateLimitKeyIP, r.handleMonitorHealth))))
	r.mux.HandleFunc("/monitor/workers", r.observe("/monitor/workers", r.monitorAuth(r.withRateLimit("/monitor/workers", rateLimitMonitor, rateWindowDefault, rateLimitKeyIP, r.handleMonitorWorkers))))
	r.mux.HandleFunc("/monitor/ws", r.observe("/monitor/ws", r.monitorAuth(r.handleMonitorWS)))
	r.mux.Handle("/metrics", promhttp.Handler())
}

func (r *Router) handleIndex(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"service": "feed-api", "status": "ok"})
}

// handleHealthz is a liveness check. It reports the process is up without
// touching the database so the service answers even while the database is
// unreachable.
func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleFeedArticles(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	apiID := req.Header.Get("X-API-ID")
	apiKey := req.Header.Get("X-API-KEY")
	if _, err := r.auth.Validate(req.Context(), apiID, apiKey); err != nil {
		r.writeServiceError(w, err)
		return
	}
	domainName := strings.TrimSpace(req.URL.Query().Get("domain"))
	if domainName == "" {
		writeError(w, http.StatusBadRequest, "domain query parameter required")
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultFeedLimit
	}
	if limit > maxFeedLimit {
		limit = maxFeedLimit
	}
	domainID, err := r.feed.GetDomainID(req.Context(), domainName)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	articles, err := r.feed.ListArticles(req.Context(), domainID, limit)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"domain":   domainName,
		"articles": articles,
	})
}

func (r *Router) handleMonitorStats(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, r.monitor.Stats(req.Context()))
}

func (r *Router) handleMonitorHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	verdict := r.monitor.Health(req.Context())
	code := http.StatusOK
	if verdict.Status == domain.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, verdict)
}

func (r *Router) handleMonitorWorkers(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	set, err := r.monitor.Workers(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "worker inventory unavailable")
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (r *Router) handleMonitorWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(client)
	go func() {
		defer func() {
			r.hub.Unregister(client)
			client.Close()
		}()
		client.ReadUntilClose()
	}()
}

// monitorAuth gates monitoring endpoints behind basic auth. The gate is
// disabled when no monitor user is configured.
func (r *Router) monitorAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.monitorUser == "" {
			next(w, req)
			return
		}
		user, pass, ok := req.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(r.monitorUser)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(r.monitorPassword)) == 1
		if !ok || !userOK || !passOK {
			r.logger.Warn("monitor auth rejected", "path", req.URL.Path)
			w.Header().Set("WWW-Authenticate", `Basic realm="monitor"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, req)
	}
}

func (r *Router) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid api credentials")
	case errors.Is(err, db.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// observe wraps a handler with request counting, latency metrics and the
// audit log line.
func (r *Router) observe(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.hooks != nil {
			r.hooks.OnRequestStart()
		}
		recorder := &statusRecorder{ResponseWriter: w}
		reqID := strings.TrimSpace(req.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		recorder.Header().Set("X-Request-ID", reqID)
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		if r.hooks != nil {
			r.hooks.OnRequestEnd(status, duration)
		}
		r.recordRequestMetrics(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
			"request_id", reqID,
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
