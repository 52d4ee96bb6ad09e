package operations

import (
	"context"
	"fmt"

	"github.com/kebairia/tenantbackup/internal/archive"
	"github.com/kebairia/tenantbackup/internal/audit"
	"github.com/kebairia/tenantbackup/internal/backup"
	"github.com/kebairia/tenantbackup/internal/config"
	"github.com/kebairia/tenantbackup/internal/database"
	"github.com/kebairia/tenantbackup/internal/lease"
	"github.com/kebairia/tenantbackup/internal/logger"
	"github.com/kebairia/tenantbackup/internal/objectstore"
	"github.com/kebairia/tenantbackup/internal/store"
	"github.com/kebairia/tenantbackup/internal/vault"
)

// Lease backends accepted in lease.backend.
const (
	LeaseLocal    = "local"
	LeasePostgres = "postgres"
)

// Bootstrap wires a Manager against the real collaborators described by
// cfg. The returned close function releases the store pool.
func Bootstrap(ctx context.Context, cfg config.Config, log logger.Logger) (*Manager, func(), error) {
	var creds *vault.Client
	if cfg.Vault.Address != "" {
		vc, err := vault.NewClient(ctx,
			vault.WithAddress(cfg.Vault.Address),
			vault.WithAppRole(cfg.Vault.RoleID, cfg.Vault.ApproleName),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: vault: %v", backup.ErrConfiguration, err)
		}
		creds = vc
	}

	var source database.CredentialSource
	if creds != nil {
		source = creds
	}
	conn, err := database.ResolveConnection(ctx, cfg, source)
	if err != nil {
		return nil, nil, err
	}

	objects, err := newObjectStore(ctx, cfg.ObjectStore, creds, log)
	if err != nil {
		return nil, nil, err
	}

	codecFormat, err := archive.ParseFormat(cfg.Backup.Compression)
	if err != nil {
		return nil, nil, err
	}

	dumper, err := database.NewPostgres(conn,
		database.WithPostgresBinary(cfg.Backup.DumpBinary),
		database.WithPostgresTimeout(cfg.Backup.Timeout),
		database.WithPostgresLogger(log),
	)
	if err != nil {
		return nil, nil, err
	}

	pool, err := store.NewPool(ctx, conn.URL(), cfg.Store.MaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", backup.ErrConfiguration, err)
	}

	var locker lease.Locker
	switch cfg.Lease.Backend {
	case "", LeaseLocal:
		locker = lease.NewLocal()
	case LeasePostgres:
		locker = lease.NewAdvisory(pool, log)
	default:
		pool.Close()
		return nil, nil, fmt.Errorf("%w: unknown lease backend %q", backup.ErrConfiguration, cfg.Lease.Backend)
	}

	m := NewManager(objects, store.NewPostgres(pool),
		WithDumper(dumper),
		WithLocker(locker),
		WithAudit(audit.NewLogger(audit.NewPostgresSink(pool), log)),
		WithCodec(archive.New(codecFormat)),
		WithLogger(log),
		WithTempDir(cfg.Backup.TempDirectory),
		WithTimeout(cfg.Backup.Timeout),
		WithSignedURLTTL(cfg.ObjectStore.SignedURLTTL),
	)
	return m, pool.Close, nil
}

func newObjectStore(
	ctx context.Context,
	cfg config.ObjectStoreConfig,
	creds *vault.Client,
	log logger.Logger,
) (*objectstore.S3, error) {
	s3cfg := objectstore.S3Config{
		Endpoint:     cfg.Endpoint,
		Region:       cfg.Region,
		Bucket:       cfg.Bucket,
		AccessKey:    cfg.AccessKey,
		SecretKey:    cfg.SecretKey,
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.VaultPath != "" {
		if creds == nil {
			return nil, fmt.Errorf("%w: object_store.vault_path set but vault is not configured", backup.ErrConfiguration)
		}
		keys, err := creds.GetObjectStoreCredentials(ctx, cfg.VaultPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", backup.ErrConfiguration, err)
		}
		s3cfg.AccessKey = keys.AccessKey
		s3cfg.SecretKey = keys.SecretKey
	}
	return objectstore.NewS3(s3cfg, log)
}

// RetentionPolicyFrom returns the configured retention policy.
func RetentionPolicyFrom(cfg config.Config) RetentionPolicy {
	return RetentionPolicy{Window: cfg.Retention.Window, Prefix: cfg.Retention.Prefix}
}
