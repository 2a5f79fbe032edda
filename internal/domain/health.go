package domain

// Health status values shared by the composite verdict and its subsystems.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusUnknown   = "unknown"
)

// DatabaseHealth reports the connection manager's point-in-time view.
type DatabaseHealth struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
}

// WorkerHealth reports the worker inventory collaborator's view.
type WorkerHealth struct {
	Status    string `json:"status"`
	Count     int    `json:"count"`
	MasterPID int    `json:"master_pid"`
}

// HealthVerdict is the composite healthy/degraded/unhealthy classification
// derived from the subsystem probes. It is computed on demand, never stored.
type HealthVerdict struct {
	Status   string         `json:"status"`
	Database DatabaseHealth `json:"database"`
	Workers  WorkerHealth   `json:"workers"`
}
