package stats

import (
	"context"
	"sync"
	"time"

	"github.com/frl/feed-api/internal/domain"
)

const (
	defaultResetEvery = 3 * time.Hour

	// Floor for elapsed minutes so requests_per_minute is defined from the
	// first request onward.
	minElapsedMinutes = 1.0 / 60
)

// Collector maintains per-process request statistics. The request-boundary
// observer feeds it through OnRequestStart/OnRequestEnd; everything else
// reads it through Snapshot. All updates go through one mutex so concurrent
// in-flight requests never lose counts.
type Collector struct {
	mu         sync.Mutex
	total      int64
	errors     int64
	latencySum time.Duration
	inFlight   int64
	startedAt  time.Time
	ownerPID   int
	resetEvery time.Duration
	now        func() time.Time
}

// NewCollector builds a Collector. resetEvery bounds counter staleness for
// long-running processes; zero selects the 3 hour default. now is
// injectable for tests.
func NewCollector(resetEvery time.Duration, now func() time.Time) *Collector {
	if resetEvery <= 0 {
		resetEvery = defaultResetEvery
	}
	if now == nil {
		now = time.Now
	}
	return &Collector{
		startedAt:  now(),
		resetEvery: resetEvery,
		now:        now,
	}
}

// OnRequestStart marks a request as in flight.
func (c *Collector) OnRequestStart() {
	c.mu.Lock()
	c.inFlight++
	c.mu.Unlock()
}

// OnRequestEnd records a completed request. Status codes >= 500 count as
// errors; anything else, including 4xx, does not.
func (c *Collector) OnRequestEnd(status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight > 0 {
		c.inFlight--
	}
	c.total++
	if status >= 500 {
		c.errors++
	}
	if duration > 0 {
		c.latencySum += duration
	}
}

// Snapshot returns the derived metrics view. Pure read, never fails; all
// ratios are zero when no requests have been served.
func (c *Collector) Snapshot() domain.StatsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	elapsed := now.Sub(c.startedAt)
	snap := domain.StatsSnapshot{
		TotalRequests: c.total,
		Errors:        c.errors,
		UptimeSeconds: int64(elapsed.Seconds()),
	}
	if c.total > 0 {
		minutes := elapsed.Minutes()
		if minutes < minElapsedMinutes {
			minutes = minElapsedMinutes
		}
		snap.RequestsPerMinute = float64(c.total) / minutes
		snap.AverageResponseTimeMS = float64(c.latencySum) / float64(time.Millisecond) / float64(c.total)
		snap.ErrorRate = float64(c.errors) / float64(c.total)
	}
	return snap
}

// InFlight reports the number of requests currently being served.
func (c *Collector) InFlight() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// ResetIfStale zeroes the counters when the supervising process identity
// changed since the last call, which signals a restart of the worker
// master. The first observed owner only records the baseline. Returns
// whether a reset happened.
func (c *Collector) ResetIfStale(ownerPID int) bool {
	if ownerPID <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ownerPID == 0 {
		c.ownerPID = ownerPID
		return false
	}
	if c.ownerPID == ownerPID {
		return false
	}
	c.ownerPID = ownerPID
	c.resetLocked()
	return true
}

// Run resets the counters on a fixed schedule, independent of restarts, so
// error-rate windows cannot grow without bound. Blocks until ctx is
// cancelled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.resetEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			c.resetLocked()
			c.mu.Unlock()
		}
	}
}

func (c *Collector) resetLocked() {
	c.total = 0
	c.errors = 0
	c.latencySum = 0
	c.startedAt = c.now()
}
