package backup

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Scope tells whether an artifact covers the whole store or one tenant.
type Scope string

const (
	ScopeFull   Scope = "full"
	ScopeTenant Scope = "tenant"
)

// Status is the lifecycle state of an Artifact.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Artifact is the record of one snapshot job. It is created pending,
// moves to running, and transitions exactly once to a terminal state.
type Artifact struct {
	ID          string     `json:"id"`
	Scope       Scope      `json:"scope"`
	TenantID    string     `json:"tenant_id,omitempty"`
	Status      Status     `json:"status"`
	SizeBytes   int64      `json:"size_bytes"`
	StoragePath string     `json:"storage_path"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// NewFullArtifact returns a pending artifact for a full-instance dump.
func NewFullArtifact(now time.Time, ext string) *Artifact {
	return &Artifact{
		ID:          uuid.NewString(),
		Scope:       ScopeFull,
		Status:      StatusPending,
		StoragePath: FullPath(now, ext),
		StartedAt:   now,
	}
}

// NewTenantArtifact returns a pending artifact for a tenant export.
func NewTenantArtifact(tenantID string, now time.Time, ext string) *Artifact {
	return &Artifact{
		ID:          uuid.NewString(),
		Scope:       ScopeTenant,
		TenantID:    tenantID,
		Status:      StatusPending,
		StoragePath: TenantPath(tenantID, now, ext),
		StartedAt:   now,
	}
}

// Run moves a pending artifact to running.
func (a *Artifact) Run() {
	if a.Status == StatusPending {
		a.Status = StatusRunning
	}
}

// Complete marks the artifact as completed with its stored size.
func (a *Artifact) Complete(size int64, at time.Time) error {
	if a.Status.Terminal() {
		return fmt.Errorf("artifact %s already %s", a.ID, a.Status)
	}
	a.Status = StatusCompleted
	a.SizeBytes = size
	a.CompletedAt = &at
	return nil
}

// Fail marks the artifact as failed and records cause.
func (a *Artifact) Fail(cause error, at time.Time) error {
	if a.Status.Terminal() {
		return fmt.Errorf("artifact %s already %s", a.ID, a.Status)
	}
	a.Status = StatusFailed
	if cause != nil {
		a.Error = cause.Error()
	}
	a.CompletedAt = &at
	return nil
}

// Summary describes a stored artifact as seen through the object store.
type Summary struct {
	Path      string    `json:"path"`
	Scope     Scope     `json:"scope"`
	TenantID  string    `json:"tenant_id,omitempty"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}
