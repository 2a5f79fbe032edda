package db

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sethvargo/go-retry"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultRetries        = 3
	defaultRetryDelay     = 2 * time.Second
)

// Conn is the subset of *pgx.Conn the manager hands out to callers.
type Conn interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close(ctx context.Context) error
	IsClosed() bool
}

// DialFunc establishes a new database connection. Injectable so the retry
// policy stays testable without real network I/O.
type DialFunc func(ctx context.Context) (Conn, error)

// Config carries the connection settings sourced from the environment.
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	Charset        string
	ConnectTimeout time.Duration
	Retries        int
	RetryDelay     time.Duration
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("%w: host is required", ErrConfig)
	}
	if strings.TrimSpace(c.User) == "" {
		return fmt.Errorf("%w: user is required", ErrConfig)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: database name is required", ErrConfig)
	}
	return nil
}

// State is a read-only snapshot of the connection lifecycle, consumed by the
// health probe.
type State struct {
	Connected           bool
	ConsecutiveFailures int
	LastError           string
	LastSuccessAt       time.Time
}

// Manager owns a single logical database connection. It connects lazily on
// first use, retries transient failures with a fixed delay, and reconnects
// transparently when a use fails with a connection-class error. Constructing
// a Manager performs no I/O, so process startup never depends on the
// database being reachable.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	dial     DialFunc
	conn     Conn
	failures int
	lastErr  error
	lastOK   time.Time
	now      func() time.Time
}

// NewManager builds a Manager over the given config. A nil dial falls back
// to the pgx dialer.
func NewManager(cfg Config, dial DialFunc) *Manager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = defaultRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if dial == nil {
		dial = pgxDialer(cfg)
	}
	return &Manager{cfg: cfg, dial: dial, now: time.Now}
}

// Acquire returns the live connection, establishing one if absent. A present
// handle is returned without any network round-trip. When all attempts in
// the retry budget fail the call returns ErrUnavailable and the handle stays
// absent; the next Acquire starts over.
func (m *Manager) Acquire(ctx context.Context) (Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquireLocked(ctx)
}

func (m *Manager) acquireLocked(ctx context.Context) (Conn, error) {
	if m.conn != nil && !m.conn.IsClosed() {
		return m.conn, nil
	}
	m.conn = nil
	if err := m.cfg.validate(); err != nil {
		return nil, err
	}

	backoff := retry.WithMaxRetries(uint64(m.cfg.Retries-1), retry.NewConstant(m.cfg.RetryDelay))
	var conn Conn
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		defer cancel()
		c, err := m.dial(dialCtx)
		if err != nil {
			m.failures++
			m.lastErr = err
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	m.conn = conn
	m.failures = 0
	m.lastErr = nil
	m.lastOK = m.now()
	return conn, nil
}

// Execute runs a unit of work against a live connection. A connection-class
// failure clears the handle and retries the whole acquire+work sequence
// exactly once; any failure after that surfaces as ErrQueryFailed wrapping
// the cause. Logical errors (constraint violations, bad SQL) propagate
// immediately without touching the handle: retrying those would be wrong.
func (m *Manager) Execute(ctx context.Context, fn func(ctx context.Context, conn Conn) error) error {
	conn, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	err = fn(ctx, conn)
	if err == nil {
		return nil
	}
	if !IsConnError(err) {
		return fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	m.invalidate(conn, err)
	conn, err2 := m.Acquire(ctx)
	if err2 != nil {
		return fmt.Errorf("%w: %w", ErrQueryFailed, err2)
	}
	if err2 = fn(ctx, conn); err2 != nil {
		if IsConnError(err2) {
			m.invalidate(conn, err2)
		}
		return fmt.Errorf("%w: %w", ErrQueryFailed, err2)
	}
	return nil
}

// Probe is a lightweight liveness check for health endpoints. It pings the
// current handle, falling back to a reconnect attempt bounded by the
// caller's context. It never returns an error.
func (m *Manager) Probe(ctx context.Context) bool {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn != nil && !conn.IsClosed() {
		err := conn.Ping(ctx)
		if err == nil {
			m.mu.Lock()
			m.lastOK = m.now()
			m.mu.Unlock()
			return true
		}
		m.invalidate(conn, err)
	}
	_, err := m.Acquire(ctx)
	return err == nil
}

// State reports the current connection lifecycle for monitoring.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := State{
		Connected:           m.conn != nil && !m.conn.IsClosed(),
		ConsecutiveFailures: m.failures,
		LastSuccessAt:       m.lastOK,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

// Close releases the connection if one is held.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close(ctx)
	m.conn = nil
	return err
}

// invalidate clears the handle so the next Acquire reconnects. Only the
// connection that observed the failure may clear it; a concurrent caller
// that already replaced the handle is left alone.
func (m *Manager) invalidate(conn Conn, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != conn {
		return
	}
	m.conn = nil
	m.lastErr = cause
	closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = conn.Close(closeCtx)
}
