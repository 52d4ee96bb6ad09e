package operations

import (
	"context"
	"fmt"
	"slices"

	"github.com/kebairia/tenantbackup/internal/audit"
	"github.com/kebairia/tenantbackup/internal/backup"
	"github.com/kebairia/tenantbackup/internal/objectstore"
)

// Caller is the identity the API layer resolved for a request. Admin
// callers act on any tenant.
type Caller struct {
	TenantID string
	Admin    bool
}

func (c Caller) owns(tenantID string) bool {
	return c.Admin || (tenantID != "" && c.TenantID == tenantID)
}

// ListBackups returns stored artifact summaries, newest first. An empty
// tenantID lists full-instance dumps, which every caller may see.
func (m *Manager) ListBackups(ctx context.Context, caller Caller, tenantID string, limit int) ([]backup.Summary, error) {
	prefix := backup.FullPrefix
	if tenantID != "" {
		if !caller.owns(tenantID) {
			return nil, fmt.Errorf("%w: cannot list backups of tenant %q", backup.ErrAccessDenied, tenantID)
		}
		if err := backup.ValidateTenantID(tenantID); err != nil {
			return nil, err
		}
		prefix = backup.TenantListPrefix(tenantID)
	}

	objs, err := m.objects.List(ctx, prefix, objectstore.ListOptions{
		SortBy:     objectstore.SortByCreatedAt,
		Descending: true,
	})
	if err != nil {
		return nil, err
	}

	out := make([]backup.Summary, 0, len(objs))
	for _, o := range objs {
		s, ok := backup.Describe(o.Name, o.Size)
		if !ok || s.TenantID != tenantID {
			continue
		}
		out = append(out, s)
	}
	slices.SortStableFunc(out, func(a, b backup.Summary) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateTenantBackup exports tenantID on behalf of caller.
func (m *Manager) CreateTenantBackup(ctx context.Context, caller Caller, tenantID string) (*backup.Artifact, error) {
	if !caller.owns(tenantID) {
		err := fmt.Errorf("%w: cannot back up tenant %q", backup.ErrAccessDenied, tenantID)
		m.deny(ctx, caller, audit.ActionTenantBackup, tenantID, err)
		return nil, err
	}
	return m.ExportTenant(ctx, tenantID)
}

// DownloadURL signs a time-limited GET for path. Callers may download
// their own tenant artifacts and any full dump.
func (m *Manager) DownloadURL(ctx context.Context, caller Caller, path string) (string, error) {
	if !caller.Admin && !backup.IsFullPath(path) {
		owner, ok := backup.TenantOf(path)
		if !ok || owner != caller.TenantID {
			err := fmt.Errorf("%w: %q is not downloadable by tenant %q", backup.ErrAccessDenied, path, caller.TenantID)
			m.deny(ctx, caller, audit.ActionDownloadURL, path, err)
			return "", err
		}
	}

	url, err := m.objects.SignedURL(ctx, path, m.urlTTL)
	if err != nil {
		return "", err
	}
	m.log.Info("download url issued", "tenant", caller.TenantID, "path", path, "ttl", m.urlTTL.String())
	m.audit.Log(ctx, audit.Event{
		TenantID:   caller.TenantID,
		Action:     audit.ActionDownloadURL,
		EntityKind: audit.EntityKindArtifact,
		EntityID:   path,
		Metadata:   map[string]any{"outcome": audit.OutcomeSucceeded, "ttl_seconds": int(m.urlTTL.Seconds())},
	})
	return url, nil
}

// RestoreTenantBackup restores path into tenantID on behalf of caller.
// Full dumps are never restorable through this path.
func (m *Manager) RestoreTenantBackup(ctx context.Context, caller Caller, tenantID, path string) (RestoreResult, error) {
	if !caller.owns(tenantID) {
		err := fmt.Errorf("%w: cannot restore tenant %q", backup.ErrAccessDenied, tenantID)
		m.deny(ctx, caller, audit.ActionRestore, path, err)
		return RestoreResult{State: StateAccessDenied}, err
	}
	return m.Restore(ctx, RestoreRequest{TenantID: tenantID, StoragePath: path})
}

func (m *Manager) deny(ctx context.Context, caller Caller, action, entityID string, err error) {
	m.log.Warn("request denied", "tenant", caller.TenantID, "action", action, "error", err.Error())
	m.audit.Log(ctx, audit.Event{
		TenantID:   caller.TenantID,
		Action:     action,
		EntityKind: audit.EntityKindArtifact,
		EntityID:   entityID,
		Metadata:   map[string]any{"outcome": audit.OutcomeAccessDenied},
	})
}
