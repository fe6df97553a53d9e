package security

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kixikila/backend/internal/domain"
	"github.com/kixikila/backend/internal/store"
)

// Monitor records and aggregates security incidents for the admin
// monitoring surface.
type Monitor struct {
	store store.AuditStore
	nowFn func() time.Time
}

// NewMonitor constructs a Monitor backed by the audit store.
func NewMonitor(st store.AuditStore) *Monitor {
	return &Monitor{store: st, nowFn: time.Now}
}

// WithClock overrides the time provider (used primarily in tests).
func (m *Monitor) WithClock(nowFn func() time.Time) *Monitor {
	if nowFn != nil {
		m.nowFn = nowFn
	}
	return m
}

// LogIncident appends an incident to the audit log, assigning an id and
// timestamp.
func (m *Monitor) LogIncident(ctx context.Context, inc domain.SecurityIncident) (domain.SecurityIncident, error) {
	inc.ID = uuid.NewString()
	inc.CreatedAt = m.nowFn().UTC()
	if inc.Severity == "" {
		inc.Severity = domain.SeverityLow
	}
	if err := m.store.InsertIncident(ctx, inc); err != nil {
		return domain.SecurityIncident{}, err
	}
	return inc, nil
}

// Alerts returns recent incidents matching the filter, newest first.
func (m *Monitor) Alerts(ctx context.Context, opts store.ListIncidentsOptions) ([]domain.SecurityIncident, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	return m.store.ListIncidents(ctx, opts)
}

// Summary aggregates incidents over the trailing window by severity and
// kind.
func (m *Monitor) Summary(ctx context.Context, window time.Duration) (domain.ThreatSummary, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	since := m.nowFn().UTC().Add(-window)
	incidents, err := m.store.ListIncidents(ctx, store.ListIncidentsOptions{Since: &since})
	if err != nil {
		return domain.ThreatSummary{}, err
	}

	summary := domain.ThreatSummary{
		TotalIncidents: len(incidents),
		BySeverity:     make(map[domain.IncidentSeverity]int),
		ByKind:         make(map[string]int),
		Window:         window,
	}
	for _, inc := range incidents {
		summary.BySeverity[inc.Severity]++
		summary.ByKind[inc.Kind]++
	}
	return summary, nil
}

// UserReport lists a single user's incident history, newest first.
func (m *Monitor) UserReport(ctx context.Context, userID string, limit int) ([]domain.SecurityIncident, error) {
	if limit <= 0 {
		limit = 50
	}
	return m.store.ListIncidents(ctx, store.ListIncidentsOptions{UserID: userID, Limit: limit})
}
