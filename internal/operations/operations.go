// Package operations runs snapshot exports, restores and retention sweeps
// against the object store and the live store.
package operations

import (
	"os"
	"time"

	"github.com/kebairia/tenantbackup/internal/archive"
	"github.com/kebairia/tenantbackup/internal/audit"
	"github.com/kebairia/tenantbackup/internal/database"
	"github.com/kebairia/tenantbackup/internal/lease"
	"github.com/kebairia/tenantbackup/internal/logger"
	"github.com/kebairia/tenantbackup/internal/objectstore"
	"github.com/kebairia/tenantbackup/internal/store"
)

const (
	// DefaultTimeout bounds a full export end to end.
	DefaultTimeout = 10 * time.Minute
	// DefaultSignedURLTTL is how long a download link stays valid.
	DefaultSignedURLTTL = time.Hour
)

// Manager is the backup/restore subsystem. Every collaborator is injected;
// there is no process-wide client.
type Manager struct {
	objects objectstore.Store
	live    store.Store
	dumper  database.Dumper
	leases  lease.Locker
	audit   *audit.Logger
	codec   *archive.Codec
	log     logger.Logger
	now     func() time.Time

	tempDir string
	timeout time.Duration
	urlTTL  time.Duration
}

// Option lets you override default settings on a Manager.
type Option func(*Manager)

// NewManager returns a Manager over objects and live. Without WithDumper
// full exports fail with backup.ErrConfiguration.
func NewManager(objects objectstore.Store, live store.Store, opts ...Option) *Manager {
	m := &Manager{
		objects: objects,
		live:    live,
		leases:  lease.NewLocal(),
		codec:   archive.New(archive.Gzip),
		log:     logger.Global(),
		now:     time.Now,
		tempDir: os.TempDir(),
		timeout: DefaultTimeout,
		urlTTL:  DefaultSignedURLTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func WithDumper(d database.Dumper) Option {
	return func(m *Manager) { m.dumper = d }
}

func WithLocker(l lease.Locker) Option {
	return func(m *Manager) {
		if l != nil {
			m.leases = l
		}
	}
}

func WithAudit(a *audit.Logger) Option {
	return func(m *Manager) { m.audit = a }
}

func WithCodec(c *archive.Codec) Option {
	return func(m *Manager) {
		if c != nil {
			m.codec = c
		}
	}
}

func WithLogger(log logger.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithClock overrides the time source used for artifact names and
// retention cutoffs.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithTempDir sets where full dumps are staged before upload.
func WithTempDir(dir string) Option {
	return func(m *Manager) {
		if dir != "" {
			m.tempDir = dir
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithSignedURLTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.urlTTL = d
		}
	}
}

func (m *Manager) clock() time.Time {
	return m.now().UTC()
}
