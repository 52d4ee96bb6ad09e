package operations

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/kebairia/tenantbackup/internal/audit"
	"github.com/kebairia/tenantbackup/internal/backup"
	"github.com/kebairia/tenantbackup/internal/objectstore"
)

// RetentionPolicy evicts artifacts under Prefix older than Window.
type RetentionPolicy struct {
	Window time.Duration
	Prefix string
}

// SweepReport describes one retention pass. Deleted and Failed partition
// the expired set.
type SweepReport struct {
	Cutoff   time.Time
	Expired  int
	Retained int
	Deleted  []string
	Failed   []string
}

// Sweep deletes every artifact under the policy prefix created before
// now-window, in one batch. It deletes nothing when the listing fails.
// A partially failed batch is not retried: objects already removed stay
// removed and the rest wait for the next sweep.
func (m *Manager) Sweep(ctx context.Context, policy RetentionPolicy) (SweepReport, error) {
	if policy.Window <= 0 {
		return SweepReport{}, fmt.Errorf("%w: retention window must be positive, got %s",
			backup.ErrConfiguration, policy.Window)
	}
	report := SweepReport{Cutoff: m.clock().Add(-policy.Window)}
	log := m.log.With("prefix", policy.Prefix, "window", policy.Window.String())

	log.Info("retention sweep started", "cutoff", report.Cutoff)
	start := time.Now()

	err := m.sweep(ctx, policy.Prefix, &report)

	meta := map[string]any{
		"prefix":   policy.Prefix,
		"cutoff":   report.Cutoff,
		"expired":  report.Expired,
		"retained": report.Retained,
		"deleted":  len(report.Deleted),
	}
	if err != nil {
		meta["outcome"] = audit.OutcomeFailed
		meta["error"] = err.Error()
		meta["failed"] = report.Failed
		log.Error("retention sweep failed",
			"deleted", len(report.Deleted),
			"failed", len(report.Failed),
			"duration", time.Since(start).String(),
			"error", err.Error(),
		)
	} else {
		meta["outcome"] = audit.OutcomeSucceeded
		log.Info("retention sweep completed",
			"expired", report.Expired,
			"retained", report.Retained,
			"duration", time.Since(start).String(),
		)
	}
	m.audit.Log(ctx, audit.Event{
		Action:     audit.ActionRetention,
		EntityKind: audit.EntityKindArtifact,
		Metadata:   meta,
	})
	return report, err
}

func (m *Manager) sweep(ctx context.Context, prefix string, report *SweepReport) error {
	objs, err := m.objects.List(ctx, prefix, objectstore.ListOptions{SortBy: objectstore.SortByCreatedAt})
	if err != nil {
		return err
	}

	var expired []string
	for _, o := range objs {
		if _, ok := backup.Describe(o.Name, o.Size); !ok {
			continue
		}
		if o.CreatedAt.Before(report.Cutoff) {
			expired = append(expired, o.Name)
		} else {
			report.Retained++
		}
	}
	report.Expired = len(expired)
	if len(expired) == 0 {
		return nil
	}

	deleted, err := m.objects.Delete(ctx, expired)
	report.Deleted = deleted
	if err != nil {
		for _, name := range expired {
			if !slices.Contains(deleted, name) {
				report.Failed = append(report.Failed, name)
			}
		}
		return err
	}
	return nil
}
