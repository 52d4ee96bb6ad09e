package operations

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kebairia/tenantbackup/internal/audit"
	"github.com/kebairia/tenantbackup/internal/backup"
	"github.com/kebairia/tenantbackup/internal/database"
	"github.com/kebairia/tenantbackup/internal/envelope"
	"github.com/kebairia/tenantbackup/internal/logger"
	"github.com/kebairia/tenantbackup/internal/objectstore"
)

// ExportFull dumps the whole live store, compresses it into a local
// staging file and uploads it once the dump has completed. The returned
// artifact is terminal; on failure it carries the error, which is also
// returned.
func (m *Manager) ExportFull(ctx context.Context) (*backup.Artifact, error) {
	art := backup.NewFullArtifact(m.clock(), m.codec.Format().Extension())
	art.Run()
	log := m.log.With("artifact", art.ID, "path", art.StoragePath)

	log.Info("full backup started", "timeout", m.timeout.String())
	start := time.Now()

	size, err := m.exportFull(ctx, art.StoragePath)
	return art, m.settle(ctx, art, audit.ActionFullBackup, size, err, log, start)
}

func (m *Manager) exportFull(ctx context.Context, path string) (int64, error) {
	if m.dumper == nil {
		return 0, fmt.Errorf("%w: no dump utility configured", backup.ErrConfiguration)
	}
	ctx, cancel := context.WithTimeoutCause(ctx, m.timeout, database.ErrTimeout)
	defer cancel()

	tmp, err := os.CreateTemp(m.tempDir, "full-backup-*"+m.codec.Format().Extension())
	if err != nil {
		return 0, fmt.Errorf("%w: create staging file: %v", backup.ErrStorage, err)
	}
	defer func() {
		tmp.Close()
		if err := os.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
			m.log.Warn("staging file not removed", "file", tmp.Name(), "error", err.Error())
		}
	}()

	zw, err := m.codec.NewWriter(tmp)
	if err != nil {
		return 0, err
	}
	if err := m.dumper.Dump(ctx, zw); err != nil {
		zw.Close()
		return 0, err
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("%w: finish staging file: %v", backup.ErrStorage, err)
	}

	info, err := tmp.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat staging file: %v", backup.ErrStorage, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("%w: rewind staging file: %v", backup.ErrStorage, err)
	}

	err = m.objects.Upload(ctx, path, tmp, info.Size(), objectstore.UploadOptions{
		ContentType: m.codec.Format().ContentType(),
	})
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ExportTenant writes one tenant's records as a compressed envelope under
// the tenant prefix. It holds the tenant's lease for the whole export.
// Collections are read by independent queries, so the envelope is not a
// single consistent snapshot across kinds.
func (m *Manager) ExportTenant(ctx context.Context, tenantID string) (*backup.Artifact, error) {
	if err := backup.ValidateTenantID(tenantID); err != nil {
		m.log.Warn("tenant backup rejected", "tenant", tenantID, "error", err.Error())
		m.audit.Log(ctx, audit.Event{
			TenantID:   tenantID,
			Action:     audit.ActionTenantBackup,
			EntityKind: audit.EntityKindArtifact,
			Metadata: map[string]any{
				"scope":   string(backup.ScopeTenant),
				"outcome": audit.OutcomeFailed,
				"error":   err.Error(),
			},
			OccurredAt: m.clock(),
		})
		return nil, err
	}
	art := backup.NewTenantArtifact(tenantID, m.clock(), m.codec.Format().Extension())
	art.Run()
	log := m.log.With("artifact", art.ID, "tenant", tenantID, "path", art.StoragePath)

	log.Info("tenant backup started")
	start := time.Now()

	size, err := m.exportTenant(ctx, art)
	return art, m.settle(ctx, art, audit.ActionTenantBackup, size, err, log, start)
}

func (m *Manager) exportTenant(ctx context.Context, art *backup.Artifact) (int64, error) {
	release, err := m.leases.Acquire(ctx, art.TenantID)
	if err != nil {
		return 0, err
	}
	defer release()

	payload, err := m.collect(ctx, art.TenantID, art.StartedAt)
	if err != nil {
		return 0, err
	}
	data, err := envelope.Encode(payload)
	if err != nil {
		return 0, err
	}
	compressed, err := m.codec.Compress(data)
	if err != nil {
		return 0, err
	}

	size := int64(len(compressed))
	err = m.objects.Upload(ctx, art.StoragePath, bytes.NewReader(compressed), size, objectstore.UploadOptions{
		ContentType: m.codec.Format().ContentType(),
	})
	if err != nil {
		return 0, err
	}
	return size, nil
}

// collect reads every registered kind for tenantID concurrently. The first
// failure cancels the remaining reads.
func (m *Manager) collect(ctx context.Context, tenantID string, at time.Time) (*envelope.Payload, error) {
	kinds := envelope.Kinds()
	results := make([][]envelope.Entity, len(kinds))

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			records, err := m.live.ListTenant(gctx, kind, tenantID)
			if err != nil {
				return fmt.Errorf("%w: %w", backup.ErrStorage, err)
			}
			results[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	payload := envelope.New(tenantID, at)
	for i, kind := range kinds {
		if len(results[i]) > 0 {
			payload.Collections[kind] = results[i]
		}
	}
	return payload, nil
}

// settle moves art to its terminal state, logs and audits the outcome.
// It returns err unchanged.
func (m *Manager) settle(
	ctx context.Context,
	art *backup.Artifact,
	action string,
	size int64,
	err error,
	log logger.Logger,
	start time.Time,
) error {
	at := m.clock()
	meta := map[string]any{
		"scope": string(art.Scope),
		"path":  art.StoragePath,
	}
	if err != nil {
		_ = art.Fail(err, at)
		meta["outcome"] = audit.OutcomeFailed
		meta["error"] = err.Error()
		log.Error("backup failed",
			"scope", string(art.Scope),
			"duration", time.Since(start).String(),
			"error", err.Error(),
		)
	} else {
		_ = art.Complete(size, at)
		meta["outcome"] = audit.OutcomeSucceeded
		meta["size_bytes"] = size
		log.Info("backup completed",
			"scope", string(art.Scope),
			"size_bytes", size,
			"duration", time.Since(start).String(),
		)
	}
	m.audit.Log(ctx, audit.Event{
		TenantID:   art.TenantID,
		Action:     action,
		EntityKind: audit.EntityKindArtifact,
		EntityID:   art.ID,
		Metadata:   meta,
		OccurredAt: at,
	})
	return err
}
