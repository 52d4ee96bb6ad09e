package operations

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kebairia/tenantbackup/internal/archive"
	"github.com/kebairia/tenantbackup/internal/audit"
	"github.com/kebairia/tenantbackup/internal/backup"
	"github.com/kebairia/tenantbackup/internal/envelope"
	"github.com/kebairia/tenantbackup/internal/logger"
	"github.com/kebairia/tenantbackup/internal/store"
)

// exportT1 seeds the clinic and exports tenant t1, returning the path.
func exportT1(t *testing.T, f *fixture) string {
	t.Helper()
	seedClinic(f.live)
	art, err := f.m.ExportTenant(context.Background(), "t1")
	require.NoError(t, err)
	return art.StoragePath
}

func TestRestoreAccessDeniedPerformsNoIO(t *testing.T) {
	cases := map[string]string{
		"other tenant": backup.TenantPath("t2", t0, ".gz"),
		"prefix clash": backup.TenantPath("t1-evil", t0, ".gz"),
		"full dump":    backup.FullPath(t0, ".gz"),
		"foreign":      "tenants/../t1.json.gz",
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)

			res, err := f.m.Restore(context.Background(), RestoreRequest{TenantID: "t1", StoragePath: path})
			require.ErrorIs(t, err, backup.ErrAccessDenied)
			assert.Equal(t, StateAccessDenied, res.State)
			assert.Zero(t, f.objects.Calls())
			assert.Zero(t, f.live.Reads())
			assert.Zero(t, f.live.Upserts())

			ev := f.lastEvent(t)
			assert.Equal(t, audit.ActionRestore, ev.Action)
			assert.Equal(t, audit.OutcomeAccessDenied, ev.Metadata["outcome"])
		})
	}
}

func TestRestoreIsIdempotent(t *testing.T) {
	f := newFixture(t)
	path := exportT1(t, f)
	m, live := f.restorer()
	req := RestoreRequest{TenantID: "t1", StoragePath: path}

	_, err := m.Restore(context.Background(), req)
	require.NoError(t, err)
	once := live.Snapshot()

	res, err := m.Restore(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, res.State)
	assert.Equal(t, once, live.Snapshot())
}

func TestRestoreIsAtomic(t *testing.T) {
	f := newFixture(t)
	path := exportT1(t, f)

	for n := 1; n <= 3; n++ {
		live := store.NewMemory()
		live.Seed(
			patient("t1", "p-1", "Stale"),
			patient("t1", "p-7", "Untouched"),
			patient("t2", "p-9", "Hopper"),
		)
		before := live.Snapshot()
		live.FailUpsertAt = n

		m := NewManager(f.objects, live, WithLogger(logger.Nop()))
		res, err := m.Restore(context.Background(), RestoreRequest{TenantID: "t1", StoragePath: path})
		require.ErrorIs(t, err, backup.ErrTransaction, "failing upsert %d", n)
		assert.Equal(t, StateRolledBack, res.State)
		assert.Nil(t, res.Applied)
		assert.Equal(t, before, live.Snapshot(), "failing upsert %d", n)
	}
}

func TestRestoreIsAdditive(t *testing.T) {
	f := newFixture(t)
	path := exportT1(t, f)
	m, live := f.restorer()
	live.Seed(patient("t1", "p-7", "Extra"), patient("t1", "p-1", "Stale"))

	res, err := m.Restore(context.Background(), RestoreRequest{TenantID: "t1", StoragePath: path})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total())

	patients := live.Snapshot()[envelope.KindPatients]
	require.Len(t, patients, 3)
	assert.Equal(t, "Byron", patients[0].(envelope.Patient).LastName)
	assert.Equal(t, "p-7", patients[2].Key())
}

func TestRestoreAppliesInDependencyOrder(t *testing.T) {
	f := newFixture(t)
	p := envelope.New("t1", t0)
	p.Collections[envelope.KindConsultations] = []envelope.Entity{consultation("t1", "c-1", "p-1")}
	p.Collections[envelope.KindAppointments] = []envelope.Entity{appointment("t1", "a-1", "p-1")}
	p.Collections[envelope.KindPatients] = []envelope.Entity{patient("t1", "p-1", "Byron")}
	path := backup.TenantPath("t1", t0, ".gz")
	f.putEnvelope(t, path, p)

	rec := &recordingStore{}
	m := NewManager(f.objects, rec, WithLogger(logger.Nop()))
	_, err := m.Restore(context.Background(), RestoreRequest{TenantID: "t1", StoragePath: path})
	require.NoError(t, err)

	assert.Equal(t, []envelope.Kind{
		envelope.KindPatients,
		envelope.KindAppointments,
		envelope.KindConsultations,
	}, rec.kinds)
}

func TestRestoreRejectsBadArtifacts(t *testing.T) {
	valid := func() *envelope.Payload {
		p := envelope.New("t1", t0)
		p.Collections[envelope.KindPatients] = []envelope.Entity{patient("t1", "p-1", "Byron")}
		return p
	}
	encoded, err := envelope.Encode(valid())
	require.NoError(t, err)

	cases := []struct {
		name  string
		store func(f *fixture, path string)
		want  error
	}{
		{"not compressed", func(f *fixture, path string) {
			f.objects.Put(path, []byte("plain text"), t0)
		}, backup.ErrCorruptArchive},
		{"not json", func(f *fixture, path string) {
			f.putRaw(t, path, []byte("{{{"))
		}, backup.ErrCorruptArchive},
		{"future schema", func(f *fixture, path string) {
			f.putRaw(t, path, bytes.Replace(encoded, []byte(`"schema_version":1`), []byte(`"schema_version":2`), 1))
		}, backup.ErrSchemaMismatch},
		{"other tenant inside", func(f *fixture, path string) {
			p := envelope.New("t2", t0)
			p.Collections[envelope.KindPatients] = []envelope.Entity{patient("t2", "p-1", "Byron")}
			f.putEnvelope(t, path, p)
		}, backup.ErrCorruptArchive},
		{"missing", func(f *fixture, path string) {}, backup.ErrStorage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			path := backup.TenantPath("t1", t0, ".gz")
			tc.store(f, path)

			res, err := f.m.Restore(context.Background(), RestoreRequest{TenantID: "t1", StoragePath: path})
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, StateFailed, res.State)
			assert.Zero(t, f.live.Upserts())
			assert.Equal(t, audit.OutcomeFailed, f.lastEvent(t).Metadata["outcome"])
		})
	}
}

func TestRestoreCommittedEventCarriesCount(t *testing.T) {
	f := newFixture(t)
	path := exportT1(t, f)

	res, err := f.m.Restore(context.Background(), RestoreRequest{TenantID: "t1", StoragePath: path})
	require.NoError(t, err)
	assert.Equal(t, t0, res.ExportedAt)

	ev := f.lastEvent(t)
	assert.Equal(t, "t1", ev.TenantID)
	assert.Equal(t, path, ev.EntityID)
	assert.Equal(t, audit.OutcomeSucceeded, ev.Metadata["outcome"])
	assert.Equal(t, 3, ev.Metadata["records"])
}

func TestRestoreLogsDownloadedRecordCount(t *testing.T) {
	f := newFixture(t)
	path := exportT1(t, f)

	core, logs := observer.New(zap.InfoLevel)
	m := NewManager(f.objects, store.NewMemory(),
		WithCodec(archive.New(archive.Zstd)),
		WithLogger(logger.New(zap.New(core))),
		WithClock(func() time.Time { return t0 }),
	)

	_, err := m.Restore(context.Background(), RestoreRequest{TenantID: "t1", StoragePath: path})
	require.NoError(t, err)

	downloaded := logs.FilterMessage("restore downloaded").All()
	require.Len(t, downloaded, 1)
	fields := downloaded[0].ContextMap()
	assert.EqualValues(t, 3, fields["records"])
	assert.Equal(t, "t1", fields["tenant"])
	assert.Equal(t, t0.Format(time.RFC3339), fields["exported_at"])
}

// recordingStore records the kind of every upsert.
type recordingStore struct {
	kinds []envelope.Kind
}

func (r *recordingStore) ListTenant(context.Context, envelope.Kind, string) ([]envelope.Entity, error) {
	return nil, nil
}

func (r *recordingStore) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return fn(ctx, r)
}

func (r *recordingStore) Upsert(_ context.Context, e envelope.Entity) error {
	r.kinds = append(r.kinds, e.Kind())
	return nil
}
