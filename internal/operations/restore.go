package operations

import (
	"context"
	"fmt"
	"time"

	"github.com/kebairia/tenantbackup/internal/audit"
	"github.com/kebairia/tenantbackup/internal/backup"
	"github.com/kebairia/tenantbackup/internal/envelope"
	"github.com/kebairia/tenantbackup/internal/logger"
	"github.com/kebairia/tenantbackup/internal/store"
)

// RestoreState is a step of the restore state machine.
type RestoreState string

const (
	StateRequested    RestoreState = "requested"
	StateValidating   RestoreState = "validating"
	StateDownloading  RestoreState = "downloading"
	StateApplying     RestoreState = "applying"
	StateCommitted    RestoreState = "committed"
	StateRolledBack   RestoreState = "rolled_back"
	StateAccessDenied RestoreState = "access_denied"
	// StateFailed ends a restore that broke before anything was applied.
	StateFailed RestoreState = "failed"
)

// RestoreRequest asks to apply the artifact at StoragePath to TenantID.
type RestoreRequest struct {
	TenantID    string
	StoragePath string
}

// RestoreResult reports where a restore stopped and, once committed, how
// many records of each kind were upserted.
type RestoreResult struct {
	State      RestoreState
	Applied    map[envelope.Kind]int
	ExportedAt time.Time
}

// Total is the number of upserted records.
func (r RestoreResult) Total() int {
	n := 0
	for _, c := range r.Applied {
		n += c
	}
	return n
}

// Restore applies a tenant artifact to the live store. The path must be
// tagged with the requesting tenant, which is checked before any I/O.
// All upserts run in one transaction; restore never deletes records.
func (m *Manager) Restore(ctx context.Context, req RestoreRequest) (RestoreResult, error) {
	res := RestoreResult{State: StateRequested}
	log := m.log.With("tenant", req.TenantID, "path", req.StoragePath)

	log.Info("restore started")
	start := time.Now()

	err := m.restore(ctx, req, &res, log)

	meta := map[string]any{"path": req.StoragePath, "state": string(res.State)}
	switch {
	case err == nil:
		meta["outcome"] = audit.OutcomeSucceeded
		meta["records"] = res.Total()
		log.Info("restore completed",
			"records", res.Total(),
			"duration", time.Since(start).String(),
		)
	case res.State == StateAccessDenied:
		meta["outcome"] = audit.OutcomeAccessDenied
		log.Warn("restore denied", "error", err.Error())
	default:
		meta["outcome"] = audit.OutcomeFailed
		meta["error"] = err.Error()
		log.Error("restore failed",
			"state", string(res.State),
			"duration", time.Since(start).String(),
			"error", err.Error(),
		)
	}
	m.audit.Log(ctx, audit.Event{
		TenantID:   req.TenantID,
		Action:     audit.ActionRestore,
		EntityKind: audit.EntityKindArtifact,
		EntityID:   req.StoragePath,
		Metadata:   meta,
	})
	return res, err
}

func (m *Manager) restore(ctx context.Context, req RestoreRequest, res *RestoreResult, log logger.Logger) error {
	res.State = StateValidating
	if err := authorizeRestore(req); err != nil {
		res.State = StateAccessDenied
		return err
	}

	release, err := m.leases.Acquire(ctx, req.TenantID)
	if err != nil {
		res.State = StateFailed
		return err
	}
	defer release()

	res.State = StateDownloading
	payload, err := m.fetch(ctx, req)
	if err != nil {
		res.State = StateFailed
		return err
	}
	res.ExportedAt = payload.ExportedAt
	log.Info("restore downloaded",
		"records", payload.Count(),
		"exported_at", payload.ExportedAt.Format(time.RFC3339),
	)

	res.State = StateApplying
	applied, err := m.apply(ctx, payload)
	if err != nil {
		res.State = StateRolledBack
		return err
	}
	res.State = StateCommitted
	res.Applied = applied
	return nil
}

// authorizeRestore only accepts tenant artifacts tagged with req.TenantID.
func authorizeRestore(req RestoreRequest) error {
	owner, ok := backup.TenantOf(req.StoragePath)
	if !ok {
		return fmt.Errorf("%w: %q is not a tenant artifact", backup.ErrAccessDenied, req.StoragePath)
	}
	if owner != req.TenantID {
		return fmt.Errorf("%w: %q does not belong to tenant %q", backup.ErrAccessDenied, req.StoragePath, req.TenantID)
	}
	return nil
}

// fetch downloads and fully validates the envelope before anything is
// written.
func (m *Manager) fetch(ctx context.Context, req RestoreRequest) (*envelope.Payload, error) {
	raw, err := m.objects.Download(ctx, req.StoragePath)
	if err != nil {
		return nil, err
	}
	data, err := m.codec.Decompress(raw)
	if err != nil {
		return nil, err
	}
	payload, err := envelope.Decode(data)
	if err != nil {
		return nil, err
	}
	if payload.TenantID != req.TenantID {
		return nil, fmt.Errorf("%w: envelope belongs to tenant %q, path to %q",
			backup.ErrCorruptArchive, payload.TenantID, req.TenantID)
	}
	return payload, nil
}

// apply upserts every record in dependency order inside one transaction.
func (m *Manager) apply(ctx context.Context, payload *envelope.Payload) (map[envelope.Kind]int, error) {
	order, err := envelope.ApplyOrder()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", backup.ErrTransaction, err)
	}

	applied := make(map[envelope.Kind]int, len(order))
	err = m.live.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		clear(applied)
		for _, kind := range order {
			for _, rec := range payload.Collections[kind] {
				if err := tx.Upsert(ctx, rec); err != nil {
					return err
				}
			}
			applied[kind] = len(payload.Collections[kind])
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: rolled back: %w", backup.ErrTransaction, err)
	}
	return applied, nil
}
