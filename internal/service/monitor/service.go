package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/frl/feed-api/internal/db"
	"github.com/frl/feed-api/internal/domain"
)

const (
	defaultPushInterval = 5 * time.Second
	probeTimeout        = 2 * time.Second
)

// Prober reports database reachability for health verdicts.
type Prober interface {
	Probe(ctx context.Context) bool
	State() db.State
}

// Inventory enumerates the master process and its workers.
type Inventory interface {
	Snapshot(ctx context.Context) (domain.WorkerSet, error)
}

// StatsSource exposes the request counters kept by the collector.
type StatsSource interface {
	Snapshot() domain.StatsSnapshot
	ResetIfStale(ownerPID int) bool
}

// Broadcaster pushes a payload to all connected stream subscribers.
type Broadcaster interface {
	Broadcast(payload []byte)
}

// Service computes health verdicts and monitoring snapshots on demand.
type Service struct {
	prober    Prober
	inventory Inventory
	stats     StatsSource
	stream    Broadcaster
	logger    *slog.Logger

	pushEvery time.Duration
	workerMin int
}

// New constructs a Service. The inventory and stream collaborators are
// optional; a nil inventory degrades the worker verdict to unknown.
func New(prober Prober, inventory Inventory, stats StatsSource, stream Broadcaster, logger *slog.Logger, pushEvery time.Duration, workerMin int) *Service {
	if pushEvery <= 0 {
		pushEvery = defaultPushInterval
	}
	if workerMin <= 0 {
		workerMin = 1
	}
	if logger != nil {
		logger = logger.With("component", "monitor")
	}
	return &Service{
		prober:    prober,
		inventory: inventory,
		stats:     stats,
		stream:    stream,
		logger:    logger,
		pushEvery: pushEvery,
		workerMin: workerMin,
	}
}

// Health probes every subsystem and folds the results into a composite
// verdict. A dead database or an empty worker set is unhealthy; a partial
// or unknowable view is degraded.
func (s *Service) Health(ctx context.Context) domain.HealthVerdict {
	verdict := domain.HealthVerdict{
		Database: domain.DatabaseHealth{Status: domain.StatusUnhealthy},
		Workers:  domain.WorkerHealth{Status: domain.StatusUnknown},
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	dbOK := s.prober.Probe(probeCtx)
	verdict.Database.Connected = s.prober.State().Connected
	if dbOK {
		verdict.Database.Status = domain.StatusHealthy
	}

	workersKnown := false
	if s.inventory != nil {
		set, err := s.inventory.Snapshot(ctx)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("worker inventory failed", "error", err)
			}
		} else {
			workersKnown = true
			verdict.Workers.Count = len(set.Workers)
			verdict.Workers.MasterPID = set.MasterPID
			switch {
			case len(set.Workers) == 0:
				verdict.Workers.Status = domain.StatusUnhealthy
			case len(set.Workers) < s.workerMin:
				verdict.Workers.Status = domain.StatusDegraded
			default:
				verdict.Workers.Status = domain.StatusHealthy
			}
		}
	}

	switch {
	case !dbOK:
		verdict.Status = domain.StatusUnhealthy
	case workersKnown && verdict.Workers.Count == 0:
		verdict.Status = domain.StatusUnhealthy
	case !workersKnown || verdict.Workers.Status == domain.StatusDegraded:
		verdict.Status = domain.StatusDegraded
	default:
		verdict.Status = domain.StatusHealthy
	}
	return verdict
}

// Stats returns the current request counters. The master pid from the
// inventory drives the stale-owner reset so counters survive worker
// recycling but restart with a new master.
func (s *Service) Stats(ctx context.Context) domain.StatsSnapshot {
	if s.inventory != nil {
		if set, err := s.inventory.Snapshot(ctx); err == nil {
			if s.stats.ResetIfStale(set.MasterPID) && s.logger != nil {
				s.logger.Info("stats reset after owner change", "master_pid", set.MasterPID)
			}
		}
	}
	return s.stats.Snapshot()
}

// Workers returns the current worker inventory.
func (s *Service) Workers(ctx context.Context) (domain.WorkerSet, error) {
	if s.inventory == nil {
		return domain.WorkerSet{}, nil
	}
	return s.inventory.Snapshot(ctx)
}

// streamFrame is the payload pushed to websocket subscribers.
type streamFrame struct {
	Type   string               `json:"type"`
	Stats  domain.StatsSnapshot `json:"stats"`
	Health domain.HealthVerdict `json:"health"`
	SentAt time.Time            `json:"sent_at"`
}

// Run pushes periodic monitoring frames to the stream until the context
// is cancelled. It is a no-op without a stream.
func (s *Service) Run(ctx context.Context) {
	if s.stream == nil {
		return
	}
	ticker := time.NewTicker(s.pushEvery)
	defer ticker.Stop()

	if s.logger != nil {
		s.logger.Info("monitor push loop started", "interval", s.pushEvery)
	}
	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.Info("monitor push loop stopped")
			}
			return
		case <-ticker.C:
			s.push(ctx)
		}
	}
}

func (s *Service) push(ctx context.Context) {
	frame := streamFrame{
		Type:   "monitor",
		Stats:  s.Stats(ctx),
		Health: s.Health(ctx),
		SentAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("failed to encode monitor frame", "error", err)
		}
		return
	}
	s.stream.Broadcast(payload)
}
