package domain

import "time"

// Probe outcomes reported by GET /healthz. The overall status is the worst
// component status.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// HealthStatus is the body of GET /healthz.
type HealthStatus struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptimeSeconds"`
	Services      []ComponentHealth `json:"services"`
}

// ComponentHealth is the result of probing one dependency.
type ComponentHealth struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	LatencyMs int64     `json:"latencyMs"`
	Documents *int      `json:"documents,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// SuccessResponse acknowledges a mutation.
type SuccessResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}
