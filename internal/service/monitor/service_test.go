package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/frl/feed-api/internal/db"
	"github.com/frl/feed-api/internal/domain"
)

type fakeProber struct {
	ok        bool
	connected bool
}

func (p *fakeProber) Probe(context.Context) bool { return p.ok }
func (p *fakeProber) State() db.State            { return db.State{Connected: p.connected} }

type fakeInventory struct {
	set domain.WorkerSet
	err error
}

func (i *fakeInventory) Snapshot(context.Context) (domain.WorkerSet, error) {
	return i.set, i.err
}

type fakeStats struct {
	snapshot  domain.StatsSnapshot
	resets    []int
	resetNext bool
}

func (s *fakeStats) Snapshot() domain.StatsSnapshot { return s.snapshot }
func (s *fakeStats) ResetIfStale(ownerPID int) bool {
	s.resets = append(s.resets, ownerPID)
	return s.resetNext
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func workerSet(masterPID int, count int) domain.WorkerSet {
	set := domain.WorkerSet{MasterPID: masterPID, ObservedAt: time.Now()}
	for i := 0; i < count; i++ {
		set.Workers = append(set.Workers, domain.WorkerInfo{PID: masterPID + i + 1, Status: "running"})
	}
	return set
}

func TestHealthAllSubsystemsUp(t *testing.T) {
	svc := New(&fakeProber{ok: true, connected: true}, &fakeInventory{set: workerSet(100, 2)}, &fakeStats{}, nil, testLogger(), 0, 1)

	verdict := svc.Health(context.Background())
	if verdict.Status != domain.StatusHealthy {
		t.Fatalf("expected healthy, got %s", verdict.Status)
	}
	if verdict.Database.Status != domain.StatusHealthy || !verdict.Database.Connected {
		t.Fatalf("unexpected database verdict: %+v", verdict.Database)
	}
	if verdict.Workers.Count != 2 || verdict.Workers.MasterPID != 100 {
		t.Fatalf("unexpected workers verdict: %+v", verdict.Workers)
	}
}

func TestHealthUnhealthyWhenDatabaseDown(t *testing.T) {
	svc := New(&fakeProber{ok: false}, &fakeInventory{set: workerSet(100, 2)}, &fakeStats{}, nil, testLogger(), 0, 1)

	verdict := svc.Health(context.Background())
	if verdict.Status != domain.StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", verdict.Status)
	}
	if verdict.Database.Status != domain.StatusUnhealthy {
		t.Fatalf("expected database unhealthy, got %s", verdict.Database.Status)
	}
}

func TestHealthUnhealthyWhenNoWorkers(t *testing.T) {
	svc := New(&fakeProber{ok: true, connected: true}, &fakeInventory{set: domain.WorkerSet{MasterPID: 100}}, &fakeStats{}, nil, testLogger(), 0, 1)

	verdict := svc.Health(context.Background())
	if verdict.Status != domain.StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", verdict.Status)
	}
	if verdict.Workers.Status != domain.StatusUnhealthy {
		t.Fatalf("expected workers unhealthy, got %s", verdict.Workers.Status)
	}
}

func TestHealthDegradedWhenInventoryFails(t *testing.T) {
	inv := &fakeInventory{err: errors.New("proc walk failed")}
	svc := New(&fakeProber{ok: true, connected: true}, inv, &fakeStats{}, nil, testLogger(), 0, 1)

	verdict := svc.Health(context.Background())
	if verdict.Status != domain.StatusDegraded {
		t.Fatalf("expected degraded, got %s", verdict.Status)
	}
	if verdict.Workers.Status != domain.StatusUnknown {
		t.Fatalf("expected workers unknown, got %s", verdict.Workers.Status)
	}
}

func TestHealthDegradedWithoutInventory(t *testing.T) {
	svc := New(&fakeProber{ok: true, connected: true}, nil, &fakeStats{}, nil, testLogger(), 0, 1)

	verdict := svc.Health(context.Background())
	if verdict.Status != domain.StatusDegraded {
		t.Fatalf("expected degraded, got %s", verdict.Status)
	}
}

func TestHealthDegradedBelowWorkerMinimum(t *testing.T) {
	svc := New(&fakeProber{ok: true, connected: true}, &fakeInventory{set: workerSet(100, 1)}, &fakeStats{}, nil, testLogger(), 0, 2)

	verdict := svc.Health(context.Background())
	if verdict.Status != domain.StatusDegraded {
		t.Fatalf("expected degraded, got %s", verdict.Status)
	}
	if verdict.Workers.Status != domain.StatusDegraded {
		t.Fatalf("expected workers degraded, got %s", verdict.Workers.Status)
	}
}

func TestStatsResetsOnOwnerChange(t *testing.T) {
	stats := &fakeStats{snapshot: domain.StatsSnapshot{TotalRequests: 7}, resetNext: true}
	svc := New(&fakeProber{ok: true}, &fakeInventory{set: workerSet(4242, 1)}, stats, nil, testLogger(), 0, 1)

	snap := svc.Stats(context.Background())
	if snap.TotalRequests != 7 {
		t.Fatalf("expected snapshot passthrough, got %+v", snap)
	}
	if len(stats.resets) != 1 || stats.resets[0] != 4242 {
		t.Fatalf("expected reset check with master pid 4242, got %v", stats.resets)
	}
}

func TestStatsSkipsResetWhenInventoryFails(t *testing.T) {
	stats := &fakeStats{}
	svc := New(&fakeProber{ok: true}, &fakeInventory{err: errors.New("no procfs")}, stats, nil, testLogger(), 0, 1)

	svc.Stats(context.Background())
	if len(stats.resets) != 0 {
		t.Fatalf("expected no reset check, got %v", stats.resets)
	}
}
