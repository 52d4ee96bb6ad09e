package database

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"github.com/kebairia/tenantbackup/internal/backup"
	"github.com/kebairia/tenantbackup/internal/config"
	"github.com/kebairia/tenantbackup/internal/vault"
)

// Connection identifies the live store for both pgx and pg_dump.
type Connection struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string
}

// Validate reports missing connection info as backup.ErrConfiguration.
func (c Connection) Validate() error {
	switch {
	case c.Host == "":
		return fmt.Errorf("%w: store host is not set", backup.ErrConfiguration)
	case c.Database == "":
		return fmt.Errorf("%w: store database is not set", backup.ErrConfiguration)
	case c.Username == "":
		return fmt.Errorf("%w: store username is not set", backup.ErrConfiguration)
	}
	return nil
}

// URL renders a postgres:// connection string.
func (c Connection) URL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   net.JoinHostPort(c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}

// CredentialSource issues dynamic database logins; *vault.Client is one.
type CredentialSource interface {
	GetDynamicCredentials(ctx context.Context, role string) (vault.DynamicCredentials, error)
}

// ResolveConnection builds the store connection from cfg. When the store
// has a Vault role path and creds is non-nil, the username and password
// come from Vault instead of the file.
func ResolveConnection(ctx context.Context, cfg config.Config, creds CredentialSource) (Connection, error) {
	conn := Connection{
		Host:     cfg.Store.Host,
		Port:     cfg.Store.Port,
		Database: cfg.Store.Database,
		Username: cfg.Store.Username,
		Password: cfg.Store.Password,
		SSLMode:  cfg.Store.SSLMode,
	}
	if conn.Port == "" {
		conn.Port = "5432"
	}
	if cfg.Store.RolePath != "" {
		if creds == nil {
			return Connection{}, fmt.Errorf("%w: store.role_path set but vault is not configured", backup.ErrConfiguration)
		}
		dyn, err := creds.GetDynamicCredentials(ctx, cfg.Store.RolePath)
		if err != nil {
			return Connection{}, fmt.Errorf("%w: vault read %s: %v", backup.ErrConfiguration, cfg.Store.RolePath, err)
		}
		conn.Username = dyn.Username
		conn.Password = dyn.Password
	}
	if err := conn.Validate(); err != nil {
		return Connection{}, err
	}
	return conn, nil
}
