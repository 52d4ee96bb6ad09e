// Package audit records terminal backup and restore outcomes.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/kebairia/tenantbackup/internal/logger"
)

// Actions written by this module.
const (
	ActionFullBackup    = "backup.full"
	ActionTenantBackup  = "backup.tenant"
	ActionRestore       = "backup.restore"
	ActionRetention     = "backup.retention"
	ActionDownloadURL   = "backup.download_url"
	EntityKindArtifact  = "backup_artifact"
	OutcomeSucceeded    = "succeeded"
	OutcomeFailed       = "failed"
	OutcomeAccessDenied = "access_denied"
)

// Event is one audit record.
type Event struct {
	TenantID   string
	Action     string
	EntityKind string
	EntityID   string
	Metadata   map[string]any
	OccurredAt time.Time
}

// Sink is the append-only audit collaborator.
type Sink interface {
	Append(ctx context.Context, e Event) error
}

// Logger is the best-effort front of a Sink. Write failures are logged
// locally and never returned, so an audit outage cannot fail a backup.
type Logger struct {
	sink    Sink
	log     logger.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewLogger(sink Sink, log logger.Logger) *Logger {
	return &Logger{sink: sink, log: log, timeout: 5 * time.Second, now: time.Now}
}

// Log appends e. It detaches from ctx's cancellation so that an outcome is
// still recorded when the operation itself was cancelled.
func (l *Logger) Log(ctx context.Context, e Event) {
	if l == nil || l.sink == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = l.now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	if err := l.sink.Append(ctx, e); err != nil {
		l.log.Warn("audit append failed",
			"action", e.Action,
			"tenant", e.TenantID,
			"entity_id", e.EntityID,
			"error", err.Error(),
		)
	}
}

// Memory is an in-process Sink for tests.
type Memory struct {
	mu     sync.Mutex
	events []Event
	// Err makes every Append fail.
	Err error
}

func (m *Memory) Append(ctx context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.events = append(m.events, e)
	return nil
}

// Events returns a copy of what has been appended.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
