package workers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/procfs"

	"github.com/frl/feed-api/internal/domain"
)

// Inventory lists the supervising master process and its workers. The
// health aggregator treats a failing inventory as "unknown", never as a
// hard error.
type Inventory interface {
	Snapshot(ctx context.Context) (domain.WorkerSet, error)
}

// ProcfsInventory discovers worker processes by walking /proc. The master
// is the process whose command line matches the configured pattern and
// whose parent does not; its children are the workers.
type ProcfsInventory struct {
	fs      procfs.FS
	pattern string
	now     func() time.Time
}

// NewProcfsInventory mounts the default procfs. pattern is matched as a
// substring against process command lines.
func NewProcfsInventory(pattern string) (*ProcfsInventory, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("mount procfs: %w", err)
	}
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("process name pattern is required")
	}
	return &ProcfsInventory{fs: fs, pattern: pattern, now: time.Now}, nil
}

// Snapshot walks the process table once.
func (inv *ProcfsInventory) Snapshot(ctx context.Context) (domain.WorkerSet, error) {
	if err := ctx.Err(); err != nil {
		return domain.WorkerSet{}, err
	}
	procs, err := inv.fs.AllProcs()
	if err != nil {
		return domain.WorkerSet{}, fmt.Errorf("list processes: %w", err)
	}

	matching := make(map[int]int) // pid -> ppid
	stats := make(map[int]procfs.ProcStat)
	for _, proc := range procs {
		cmdline, err := proc.CmdLine()
		if err != nil || !matchesCmdline(cmdline, inv.pattern) {
			continue
		}
		stat, err := proc.Stat()
		if err != nil {
			continue
		}
		matching[proc.PID] = stat.PPID
		stats[proc.PID] = stat
	}

	masterPID := 0
	for pid, ppid := range matching {
		if _, parentMatches := matching[ppid]; !parentMatches {
			masterPID = pid
			break
		}
	}
	if masterPID == 0 {
		return domain.WorkerSet{ObservedAt: inv.now()}, nil
	}

	set := domain.WorkerSet{MasterPID: masterPID, ObservedAt: inv.now()}
	for pid, stat := range stats {
		if stat.PPID != masterPID {
			continue
		}
		set.Workers = append(set.Workers, inv.workerInfo(pid, stat))
	}
	// A single-process deployment has no forked children; the serving
	// process then counts as its own worker.
	if len(set.Workers) == 0 {
		set.Workers = append(set.Workers, inv.workerInfo(masterPID, stats[masterPID]))
	}
	return set, nil
}

func (inv *ProcfsInventory) workerInfo(pid int, stat procfs.ProcStat) domain.WorkerInfo {
	info := domain.WorkerInfo{
		PID:      pid,
		MemoryMB: float64(stat.ResidentMemory()) / (1024 * 1024),
		Status:   stateName(stat.State),
	}
	if started, err := stat.StartTime(); err == nil {
		uptime := int64(inv.now().Unix()) - int64(started)
		if uptime > 0 {
			info.UptimeSeconds = uptime
		}
	}
	return info
}

func matchesCmdline(cmdline []string, pattern string) bool {
	if len(cmdline) == 0 {
		return false
	}
	joined := strings.ToLower(strings.Join(cmdline, " "))
	return strings.Contains(joined, strings.ToLower(pattern))
}

func stateName(state string) string {
	switch state {
	case "R":
		return "running"
	case "Z":
		return "zombie"
	case "T", "t":
		return "stopped"
	default:
		return "sleeping"
	}
}
