package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/kebairia/tenantbackup/internal/envelope"
)

// Memory is an in-process Store. Transactions work on a copy of the data
// and swap it in on success, so a failed InTx leaves nothing behind.
type Memory struct {
	mu      sync.Mutex
	rows    map[envelope.Kind]map[string]envelope.Entity
	reads   int
	upserts int

	// FailUpsertAt makes the n-th upsert (1-based, counted across the
	// Memory's lifetime) fail. Zero disables it.
	FailUpsertAt int
	// ReadErrs fails ListTenant for individual kinds.
	ReadErrs map[envelope.Kind]error
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{rows: make(map[envelope.Kind]map[string]envelope.Entity)}
}

// Seed stores records directly, bypassing transactions and counters.
func (m *Memory) Seed(records ...envelope.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range records {
		put(m.rows, e)
	}
}

// Snapshot returns every record grouped by kind and sorted by key.
func (m *Memory) Snapshot() map[envelope.Kind][]envelope.Entity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[envelope.Kind][]envelope.Entity, len(m.rows))
	for kind, byKey := range m.rows {
		keys := slices.Sorted(maps.Keys(byKey))
		records := make([]envelope.Entity, 0, len(keys))
		for _, k := range keys {
			records = append(records, byKey[k])
		}
		out[kind] = records
	}
	return out
}

// Count returns the number of stored records.
func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, byKey := range m.rows {
		n += len(byKey)
	}
	return n
}

// Reads returns how many ListTenant calls were made.
func (m *Memory) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Upserts returns how many upserts were attempted.
func (m *Memory) Upserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}

func (m *Memory) ListTenant(ctx context.Context, kind envelope.Kind, tenantID string) ([]envelope.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if err := m.ReadErrs[kind]; err != nil {
		return nil, fmt.Errorf("read %s for tenant %s: %w", kind, tenantID, err)
	}
	var out []envelope.Entity
	for _, e := range m.rows[kind] {
		if e.Tenant() == tenantID {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b envelope.Entity) int {
		return strings.Compare(a.Key(), b.Key())
	})
	return out, nil
}

func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := make(map[envelope.Kind]map[string]envelope.Entity, len(m.rows))
	for kind, byKey := range m.rows {
		work[kind] = maps.Clone(byKey)
	}
	if err := fn(ctx, &memTx{m: m, rows: work}); err != nil {
		return err
	}
	m.rows = work
	return nil
}

type memTx struct {
	m    *Memory
	rows map[envelope.Kind]map[string]envelope.Entity
}

func (t *memTx) Upsert(ctx context.Context, e envelope.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.m.upserts++
	if t.m.FailUpsertAt > 0 && t.m.upserts == t.m.FailUpsertAt {
		return fmt.Errorf("upsert %s %s: injected failure", e.Kind(), e.Key())
	}
	if cur, ok := t.rows[e.Kind()][e.Key()]; ok && cur.Tenant() != e.Tenant() {
		return fmt.Errorf("upsert %s %s: %w", e.Kind(), e.Key(), ErrForeignKey)
	}
	put(t.rows, e)
	return nil
}

func put(rows map[envelope.Kind]map[string]envelope.Entity, e envelope.Entity) {
	byKey, ok := rows[e.Kind()]
	if !ok {
		byKey = make(map[string]envelope.Entity)
		rows[e.Kind()] = byKey
	}
	byKey[e.Key()] = e
}
