package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kebairia/tenantbackup/internal/backup"
	"github.com/kebairia/tenantbackup/internal/logger"
)

// keyspace namespaces advisory lock keys so they do not collide with
// other users of pg_advisory_lock on the same database.
const keyspace = "tenantbackup:"

// Advisory is a Locker backed by PostgreSQL session advisory locks, for
// deployments running more than one instance against the same store.
// Each lease pins one pooled connection until released.
type Advisory struct {
	connect func(ctx context.Context) (session, error)
	log     logger.Logger
}

var _ Locker = (*Advisory)(nil)

// session is the part of a pooled connection a lease uses.
type session interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close(ctx context.Context) error
	Release()
}

type poolSession struct {
	conn *pgxpool.Conn
}

func (s poolSession) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return s.conn.Exec(ctx, sql, args...)
}

func (s poolSession) Close(ctx context.Context) error { return s.conn.Conn().Close(ctx) }
func (s poolSession) Release()                        { s.conn.Release() }

func NewAdvisory(pool *pgxpool.Pool, log logger.Logger) *Advisory {
	return &Advisory{
		connect: func(ctx context.Context) (session, error) {
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return nil, err
			}
			return poolSession{conn: conn}, nil
		},
		log: log,
	}
}

func (a *Advisory) Acquire(ctx context.Context, key string) (func(), error) {
	conn, err := a.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: acquire connection: %v", backup.ErrLeaseUnavailable, key, err)
	}
	// Cancelling ctx cancels the blocking pg_advisory_lock call.
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock(hashtext($1))", keyspace+key); err != nil {
		conn.Release()
		return nil, fmt.Errorf("%w: %s: %v", backup.ErrLeaseUnavailable, key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := conn.Exec(unlockCtx, "SELECT pg_advisory_unlock(hashtext($1))", keyspace+key); err != nil {
				// A session lock dies with its connection; drop it rather
				// than return a connection that may still hold the lock.
				a.log.Warn("advisory unlock failed, closing connection", "key", key, "error", err.Error())
				_ = conn.Close(unlockCtx)
			}
			conn.Release()
		})
	}, nil
}
