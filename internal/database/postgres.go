package database

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/kebairia/tenantbackup/internal/backup"
	"github.com/kebairia/tenantbackup/internal/logger"
)

const EnginePostgres = "postgres"

// stderrTail bounds how much pg_dump diagnostics end up in an error.
const stderrTail = 4 << 10

// PostgresOption lets you override default settings on a Postgres.
type PostgresOption func(*Postgres)

// Postgres dumps the live store with pg_dump in plain SQL format, streaming
// the dump to the caller's writer.
type Postgres struct {
	Conn    Connection
	Binary  string
	Timeout time.Duration
	Logger  logger.Logger
}

var _ Dumper = (*Postgres)(nil)

// NewPostgres returns a Postgres dumper for conn plus any overrides.
func NewPostgres(conn Connection, opts ...PostgresOption) (*Postgres, error) {
	if err := conn.Validate(); err != nil {
		return nil, err
	}
	p := &Postgres{
		Conn:    conn,
		Binary:  "pg_dump",
		Timeout: 10 * time.Minute,
		Logger:  logger.Global(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// WithPostgresBinary overrides the pg_dump executable.
func WithPostgresBinary(binary string) PostgresOption {
	return func(p *Postgres) {
		if binary != "" {
			p.Binary = binary
		}
	}
}

// WithPostgresTimeout overrides the hard timeout.
func WithPostgresTimeout(timeout time.Duration) PostgresOption {
	return func(p *Postgres) {
		if timeout > 0 {
			p.Timeout = timeout
		}
	}
}

// WithPostgresLogger overrides the logger.
func WithPostgresLogger(log logger.Logger) PostgresOption {
	return func(p *Postgres) {
		if log != nil {
			p.Logger = log
		}
	}
}

// Dump runs pg_dump and copies its standard output to w. The process is
// killed when ctx ends or the timeout elapses, whichever comes first.
func (p *Postgres) Dump(ctx context.Context, w io.Writer) error {
	log := p.Logger
	ctx, cancel := context.WithTimeoutCause(ctx, p.Timeout, ErrTimeout)
	defer cancel()

	args := []string{
		"-h", p.Conn.Host,
		"-p", p.Conn.Port,
		"-U", p.Conn.Username,
		"-d", p.Conn.Database,
		"--format=plain",
		"--no-owner",
		"--no-privileges",
	}

	cmd := exec.CommandContext(ctx, p.Binary, args...)
	// Pass PGPASSWORD for non-interactive auth
	cmd.Env = append(os.Environ(), "PGPASSWORD="+p.Conn.Password)
	if p.Conn.SSLMode != "" {
		cmd.Env = append(cmd.Env, "PGSSLMODE="+p.Conn.SSLMode)
	}
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stdout = w
	cmd.Stderr = stderr
	// Do not wait forever on pipes held open by orphaned children.
	cmd.WaitDelay = 5 * time.Second

	log.Info("dump started",
		"database", p.Conn.Database,
		"engine", EnginePostgres,
		"timeout", p.Timeout.String(),
	)

	startTime := time.Now()
	if err := cmd.Run(); err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return fmt.Errorf("%w: %s: %w", backup.ErrExternalTool, p.Binary, cause)
		}
		return fmt.Errorf("%w: %s: %v: %s", backup.ErrExternalTool, p.Binary, err, stderr.String())
	}

	log.Info("dump completed",
		"database", p.Conn.Database,
		"engine", EnginePostgres,
		"duration", time.Since(startTime).String(),
	)
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.buf = append(t.buf, b...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(b), nil
}

func (t *tailBuffer) String() string { return string(t.buf) }
