package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrLoadConfig indicates a failure to read or parse the YAML configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

// EnvPrefix prefixes environment overrides, e.g. BACLI_STORE_PASSWORD.
const EnvPrefix = "BACLI"

// Config represents the top-level YAML configuration file.
type Config struct {
	Include     []string          `mapstructure:"include"      yaml:"include,omitempty"`
	Store       StoreConfig       `mapstructure:"store"        yaml:"store"`
	Vault       VaultConfig       `mapstructure:"vault"        yaml:"vault"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store" yaml:"object_store"`
	Backup      BackupConfig      `mapstructure:"backup"       yaml:"backup"`
	Retention   RetentionConfig   `mapstructure:"retention"    yaml:"retention"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"     yaml:"schedule"`
	Lease       LeaseConfig       `mapstructure:"lease"        yaml:"lease"`
	Log         LogConfig         `mapstructure:"log"          yaml:"log"`
}

// VaultConfig holds connection settings for HashiCorp Vault. Vault is
// optional; with no address every credential comes from this file or the
// environment.
type VaultConfig struct {
	Address     string `mapstructure:"address"      yaml:"address"`
	RoleID      string `mapstructure:"role_id"      yaml:"role_id,omitempty"`
	ApproleName string `mapstructure:"approle_name" yaml:"approle_name,omitempty"`
}

// StoreConfig points at the live PostgreSQL store.
type StoreConfig struct {
	Host     string `mapstructure:"host"      yaml:"host"`
	Port     string `mapstructure:"port"      yaml:"port"`
	Database string `mapstructure:"database"  yaml:"database"`
	Username string `mapstructure:"username"  yaml:"username,omitempty"`
	Password string `mapstructure:"password"  yaml:"password,omitempty"`
	SSLMode  string `mapstructure:"sslmode"   yaml:"sslmode,omitempty"`
	MaxConns int32  `mapstructure:"max_conns" yaml:"max_conns,omitempty"`
	// RolePath is a Vault database secrets path issuing dynamic credentials,
	// e.g. "database/creds/backup".
	RolePath string `mapstructure:"role_path" yaml:"role_path,omitempty"`
}

// ObjectStoreConfig points at the S3-compatible artifact bucket.
type ObjectStoreConfig struct {
	Endpoint     string        `mapstructure:"endpoint"       yaml:"endpoint,omitempty"`
	Region       string        `mapstructure:"region"         yaml:"region,omitempty"`
	Bucket       string        `mapstructure:"bucket"         yaml:"bucket"`
	AccessKey    string        `mapstructure:"access_key"     yaml:"access_key,omitempty"`
	SecretKey    string        `mapstructure:"secret_key"     yaml:"secret_key,omitempty"`
	UsePathStyle bool          `mapstructure:"use_path_style" yaml:"use_path_style"`
	SignedURLTTL time.Duration `mapstructure:"signed_url_ttl" yaml:"signed_url_ttl"`
	// VaultPath is a KV path holding access_key/secret_key.
	VaultPath string `mapstructure:"vault_path" yaml:"vault_path,omitempty"`
}

// BackupConfig contains global backup options.
type BackupConfig struct {
	TempDirectory string        `mapstructure:"temp_directory" yaml:"temp_directory,omitempty"`
	Compression   string        `mapstructure:"compression"    yaml:"compression"`
	Timeout       time.Duration `mapstructure:"timeout"        yaml:"timeout"`
	DumpBinary    string        `mapstructure:"dump_binary"    yaml:"dump_binary"`
}

// RetentionConfig specifies how long artifacts are kept.
type RetentionConfig struct {
	Window time.Duration `mapstructure:"window" yaml:"window"`
	Prefix string        `mapstructure:"prefix" yaml:"prefix,omitempty"`
}

// ScheduleConfig holds cron expressions for the scheduled jobs.
type ScheduleConfig struct {
	FullBackup string `mapstructure:"full_backup" yaml:"full_backup"`
	Retention  string `mapstructure:"retention"   yaml:"retention"`
}

// LeaseConfig selects the per-tenant lease backend: "local" or "postgres".
type LeaseConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"       yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.port", "5432")
	v.SetDefault("store.sslmode", "prefer")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("object_store.region", "us-east-1")
	v.SetDefault("object_store.signed_url_ttl", time.Hour)
	v.SetDefault("backup.compression", "gzip")
	v.SetDefault("backup.timeout", 10*time.Minute)
	v.SetDefault("backup.dump_binary", "pg_dump")
	v.SetDefault("retention.window", 30*24*time.Hour)
	v.SetDefault("schedule.full_backup", "@daily")
	v.SetDefault("schedule.retention", "@weekly")
	v.SetDefault("lease.backend", "local")
	v.SetDefault("log.level", "info")

	// Registered so that AutomaticEnv can override them.
	for _, key := range []string{
		"store.host", "store.database", "store.username", "store.password", "store.role_path",
		"vault.address", "vault.role_id", "vault.approle_name",
		"object_store.endpoint", "object_store.bucket", "object_store.access_key",
		"object_store.secret_key", "object_store.use_path_style", "object_store.vault_path",
		"backup.temp_directory", "retention.prefix", "log.development",
	} {
		v.SetDefault(key, nil)
	}
}

// Load reads the configuration from the given YAML file using Viper,
// merges any included files, applies BACLI_* environment overrides and
// unmarshals into the Config struct.
func (c *Config) Load(path string) error {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read base configuration
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read base config %s: %v", ErrLoadConfig, path, err)
	}

	// Merge include files (if any)
	for _, inc := range v.GetStringSlice("include") {
		data, err := os.ReadFile(inc)
		if err != nil {
			return fmt.Errorf("%w: read include %s: %v", ErrLoadConfig, inc, err)
		}
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("%w: merge include %s: %v", ErrLoadConfig, inc, err)
		}
	}

	// Unmarshal into the Config struct
	if err := v.UnmarshalExact(c); err != nil {
		return fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}

	return c.Validate()
}

// Validate checks the fields every command needs.
func (c *Config) Validate() error {
	var problems []string
	if c.Store.Host == "" {
		problems = append(problems, "store.host is required")
	}
	if c.Store.Database == "" {
		problems = append(problems, "store.database is required")
	}
	if c.ObjectStore.Bucket == "" {
		problems = append(problems, "object_store.bucket is required")
	}
	if c.Backup.Timeout <= 0 {
		problems = append(problems, "backup.timeout must be positive")
	}
	if c.Retention.Window <= 0 {
		problems = append(problems, "retention.window must be positive")
	}
	switch c.Backup.Compression {
	case "gzip", "zstd":
	default:
		problems = append(problems, fmt.Sprintf("backup.compression %q is not gzip or zstd", c.Backup.Compression))
	}
	switch c.Lease.Backend {
	case "local", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("lease.backend %q is not local or postgres", c.Lease.Backend))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidateConfig, strings.Join(problems, "; "))
	}
	return nil
}
