package store

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kebairia/tenantbackup/internal/envelope"
)

// table holds the statements for one entity kind, derived from the db tags
// of its struct.
type table struct {
	columns   []string
	fields    []int
	selectSQL string
	upsertSQL string
	read      func(ctx context.Context, q querier, sql, tenantID string) ([]envelope.Entity, error)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var tables = map[envelope.Kind]*table{
	envelope.KindPatients:      tableFor[envelope.Patient](envelope.KindPatients),
	envelope.KindConsultations: tableFor[envelope.Consultation](envelope.KindConsultations),
	envelope.KindPrescriptions: tableFor[envelope.Prescription](envelope.KindPrescriptions),
	envelope.KindAppointments:  tableFor[envelope.Appointment](envelope.KindAppointments),
	envelope.KindInvoices:      tableFor[envelope.Invoice](envelope.KindInvoices),
}

func tableFor[T envelope.Entity](kind envelope.Kind) *table {
	typ := reflect.TypeFor[T]()
	t := &table{read: readRows[T]}
	for i := range typ.NumField() {
		col := typ.Field(i).Tag.Get("db")
		if col == "" || col == "-" {
			continue
		}
		t.columns = append(t.columns, col)
		t.fields = append(t.fields, i)
	}

	name := pgx.Identifier{string(kind)}.Sanitize()
	quoted := make([]string, len(t.columns))
	params := make([]string, len(t.columns))
	var updates []string
	for i, col := range t.columns {
		quoted[i] = pgx.Identifier{col}.Sanitize()
		params[i] = fmt.Sprintf("$%d", i+1)
		if col != "id" {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", quoted[i], quoted[i]))
		}
	}
	cols := strings.Join(quoted, ", ")

	t.selectSQL = fmt.Sprintf(`SELECT %s FROM %s WHERE "tenant_id" = $1 ORDER BY "id"`, cols, name)
	// The WHERE clause turns a conflict on another tenant's row into a
	// no-op, which Upsert reports as ErrForeignKey.
	t.upsertSQL = fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT ("id") DO UPDATE SET %s WHERE %s."tenant_id" = EXCLUDED."tenant_id"`,
		name, cols, strings.Join(params, ", "), strings.Join(updates, ", "), name,
	)
	return t
}

func readRows[T envelope.Entity](ctx context.Context, q querier, sql, tenantID string) ([]envelope.Entity, error) {
	rows, err := q.Query(ctx, sql, tenantID)
	if err != nil {
		return nil, err
	}
	items, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, err
	}
	out := make([]envelope.Entity, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out, nil
}

func (t *table) values(e envelope.Entity) []any {
	v := reflect.ValueOf(e)
	args := make([]any, len(t.fields))
	for i, f := range t.fields {
		args[i] = v.Field(f).Interface()
	}
	return args
}

func lookup(kind envelope.Kind) (*table, error) {
	t, ok := tables[kind]
	if !ok {
		return nil, fmt.Errorf("no table for kind %s", kind)
	}
	return t, nil
}

// Postgres implements Store on a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// NewPool opens and pings a pool for connString.
func NewPool(ctx context.Context, connString string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse store config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create store pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}

	return pool, nil
}

func (p *Postgres) ListTenant(ctx context.Context, kind envelope.Kind, tenantID string) ([]envelope.Entity, error) {
	t, err := lookup(kind)
	if err != nil {
		return nil, err
	}
	records, err := t.read(ctx, p.pool, t.selectSQL, tenantID)
	if err != nil {
		return nil, fmt.Errorf("read %s for tenant %s: %w", kind, tenantID, err)
	}
	return records, nil
}

func (p *Postgres) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Upsert(ctx context.Context, e envelope.Entity) error {
	tbl, err := lookup(e.Kind())
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, tbl.upsertSQL, tbl.values(e)...)
	if err != nil {
		return fmt.Errorf("upsert %s %s: %w", e.Kind(), e.Key(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upsert %s %s: %w", e.Kind(), e.Key(), ErrForeignKey)
	}
	return nil
}
