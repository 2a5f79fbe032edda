package domain

// StatsSnapshot is the read-only view of the per-process request counters.
// The JSON field names are a contract with the monitoring dashboard.
type StatsSnapshot struct {
	TotalRequests         int64   `json:"total_requests"`
	Errors                int64   `json:"errors"`
	RequestsPerMinute     float64 `json:"requests_per_minute"`
	AverageResponseTimeMS float64 `json:"average_response_time_ms"`
	ErrorRate             float64 `json:"error_rate"`
	UptimeSeconds         int64   `json:"uptime_seconds"`
}
