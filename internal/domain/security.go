package domain

import "time"

// IncidentSeverity grades a security incident.
type IncidentSeverity string

const (
	SeverityLow      IncidentSeverity = "low"
	SeverityMedium   IncidentSeverity = "medium"
	SeverityHigh     IncidentSeverity = "high"
	SeverityCritical IncidentSeverity = "critical"
)

// SecurityIncident is an audit-log entry, either written automatically by
// the platform or logged manually through the security endpoint.
type SecurityIncident struct {
	ID          string
	UserID      string
	Kind        string
	Severity    IncidentSeverity
	Description string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// ThreatSummary aggregates the audit log for the monitoring endpoint.
type ThreatSummary struct {
	TotalIncidents int
	BySeverity     map[IncidentSeverity]int
	ByKind         map[string]int
	Window         time.Duration
}

// WebhookEvent records an already-processed external payment event so
// redelivery of the same event id is a no-op.
type WebhookEvent struct {
	EventID     string
	Kind        string
	ProcessedAt time.Time
}
