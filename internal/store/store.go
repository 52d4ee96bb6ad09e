// Package store is the live data boundary: tenant-scoped reads for export
// and transactional upserts for restore.
package store

import (
	"context"
	"errors"

	"github.com/kebairia/tenantbackup/internal/envelope"
)

// ErrForeignKey reports an upsert whose primary key already belongs to a
// different tenant.
var ErrForeignKey = errors.New("primary key owned by another tenant")

// Store is injected into the exporter and the restore engine.
type Store interface {
	// ListTenant returns every record of kind owned by tenantID, ordered by
	// primary key.
	ListTenant(ctx context.Context, kind envelope.Kind, tenantID string) ([]envelope.Entity, error)
	// InTx runs fn inside one transaction. If fn returns an error nothing
	// it did is kept.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the write side available inside InTx.
type Tx interface {
	// Upsert inserts e or overwrites the row with the same primary key.
	Upsert(ctx context.Context, e envelope.Entity) error
}
