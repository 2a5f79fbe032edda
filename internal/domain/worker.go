package domain

import "time"

// WorkerInfo describes a single worker process of the supervising master.
type WorkerInfo struct {
	PID           int     `json:"pid"`
	MemoryMB      float64 `json:"memory_mb"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	Status        string  `json:"status"`
}

// WorkerSet is a point-in-time inventory of the master and its workers.
type WorkerSet struct {
	MasterPID  int          `json:"master_pid"`
	Workers    []WorkerInfo `json:"workers"`
	ObservedAt time.Time    `json:"-"`
}
