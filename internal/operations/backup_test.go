package operations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/tenantbackup/internal/archive"
	"github.com/kebairia/tenantbackup/internal/audit"
	"github.com/kebairia/tenantbackup/internal/backup"
	"github.com/kebairia/tenantbackup/internal/database"
	"github.com/kebairia/tenantbackup/internal/envelope"
	"github.com/kebairia/tenantbackup/internal/lease"
)

func TestExportFullUploadsCompressedDump(t *testing.T) {
	dump := []byte("CREATE TABLE patients (id text primary key);\n")
	f := newFixture(t, WithDumper(&fakeDumper{data: dump}))

	art, err := f.m.ExportFull(context.Background())
	require.NoError(t, err)

	assert.Equal(t, backup.StatusCompleted, art.Status)
	assert.Equal(t, backup.ScopeFull, art.Scope)
	assert.Equal(t, backup.FullPath(t0, ".gz"), art.StoragePath)
	require.NotNil(t, art.CompletedAt)

	raw, err := f.objects.Download(context.Background(), art.StoragePath)
	require.NoError(t, err)
	assert.EqualValues(t, len(raw), art.SizeBytes)
	data, err := archive.Decompress(raw)
	require.NoError(t, err)
	assert.Equal(t, dump, data)

	assert.Empty(t, f.tempFiles(t))

	ev := f.lastEvent(t)
	assert.Equal(t, audit.ActionFullBackup, ev.Action)
	assert.Equal(t, art.ID, ev.EntityID)
	assert.Equal(t, audit.OutcomeSucceeded, ev.Metadata["outcome"])
}

func TestExportFullUploadFailureRemovesStagingFile(t *testing.T) {
	f := newFixture(t, WithDumper(&fakeDumper{data: []byte("SELECT 1;\n")}))
	f.objects.UploadErr = errors.New("bucket unavailable")

	art, err := f.m.ExportFull(context.Background())
	require.ErrorIs(t, err, backup.ErrStorage)

	assert.Equal(t, backup.StatusFailed, art.Status)
	assert.Contains(t, art.Error, "bucket unavailable")
	assert.Empty(t, f.tempFiles(t))
	assert.Empty(t, f.objects.Names())

	ev := f.lastEvent(t)
	assert.Equal(t, audit.OutcomeFailed, ev.Metadata["outcome"])
	assert.Equal(t, art.Error, ev.Metadata["error"])
}

func TestExportFullDumpFailureUploadsNothing(t *testing.T) {
	dumper := &fakeDumper{
		data: []byte("partial output"),
		err:  errors.Join(backup.ErrExternalTool, errors.New("exit status 1")),
	}
	f := newFixture(t, WithDumper(dumper))

	art, err := f.m.ExportFull(context.Background())
	require.ErrorIs(t, err, backup.ErrExternalTool)

	assert.Equal(t, backup.StatusFailed, art.Status)
	assert.Empty(t, f.objects.Names())
	assert.Empty(t, f.tempFiles(t))
}

func TestExportFullTimeoutKillsDump(t *testing.T) {
	f := newFixture(t,
		WithDumper(&fakeDumper{block: true}),
		WithTimeout(50*time.Millisecond),
	)

	art, err := f.m.ExportFull(context.Background())
	require.ErrorIs(t, err, database.ErrTimeout)
	assert.ErrorIs(t, err, backup.ErrExternalTool)
	assert.Equal(t, backup.StatusFailed, art.Status)
	assert.Empty(t, f.objects.Names())
	assert.Empty(t, f.tempFiles(t))
}

func TestExportFullCancelled(t *testing.T) {
	f := newFixture(t, WithDumper(&fakeDumper{block: true}))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := f.m.ExportFull(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.objects.Names())
	// the outcome is still audited after cancellation
	assert.Equal(t, audit.OutcomeFailed, f.lastEvent(t).Metadata["outcome"])
}

func TestExportFullWithoutDumper(t *testing.T) {
	f := newFixture(t)

	art, err := f.m.ExportFull(context.Background())
	require.ErrorIs(t, err, backup.ErrConfiguration)
	assert.Equal(t, backup.StatusFailed, art.Status)
}

func TestExportFullZstd(t *testing.T) {
	dump := []byte("-- zstd dump\n")
	f := newFixture(t,
		WithDumper(&fakeDumper{data: dump}),
		WithCodec(archive.New(archive.Zstd)),
	)

	art, err := f.m.ExportFull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, backup.FullPath(t0, ".zst"), art.StoragePath)

	raw, err := f.objects.Download(context.Background(), art.StoragePath)
	require.NoError(t, err)
	data, err := archive.Decompress(raw)
	require.NoError(t, err)
	assert.Equal(t, dump, data)
}

func TestExportTenantScenario(t *testing.T) {
	f := newFixture(t)
	seedClinic(f.live)

	art, err := f.m.ExportTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, backup.StatusCompleted, art.Status)
	assert.Equal(t, backup.TenantPath("t1", t0, ".gz"), art.StoragePath)

	p := f.payloadAt(t, art.StoragePath)
	assert.Equal(t, "t1", p.TenantID)
	assert.Len(t, p.Collections[envelope.KindPatients], 2)
	assert.Len(t, p.Collections[envelope.KindConsultations], 1)
	assert.Len(t, p.Collections[envelope.KindAppointments], 0)
	for kind, records := range p.Collections {
		for _, rec := range records {
			assert.Equal(t, "t1", rec.Tenant(), "%s %s", kind, rec.Key())
		}
	}

	m, live := f.restorer()
	res, err := m.Restore(context.Background(), RestoreRequest{TenantID: "t1", StoragePath: art.StoragePath})
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, res.State)
	assert.Equal(t, 3, res.Total())
	assert.Equal(t, 3, live.Count())
	assert.Equal(t, 3, live.Upserts())
}

func TestExportTenantReadFailureUploadsNothing(t *testing.T) {
	f := newFixture(t)
	seedClinic(f.live)
	f.live.ReadErrs = map[envelope.Kind]error{envelope.KindInvoices: errors.New("connection reset")}

	art, err := f.m.ExportTenant(context.Background(), "t1")
	require.ErrorIs(t, err, backup.ErrStorage)
	assert.Equal(t, backup.StatusFailed, art.Status)
	assert.Empty(t, f.objects.Names())
}

func TestExportTenantUploadFailure(t *testing.T) {
	f := newFixture(t)
	seedClinic(f.live)
	f.objects.UploadErr = errors.New("quota exceeded")

	art, err := f.m.ExportTenant(context.Background(), "t1")
	require.ErrorIs(t, err, backup.ErrStorage)
	assert.Equal(t, backup.StatusFailed, art.Status)
	assert.Empty(t, f.objects.Names())
	assert.Equal(t, "t1", f.lastEvent(t).TenantID)
}

func TestExportTenantRejectsInvalidID(t *testing.T) {
	f := newFixture(t)

	_, err := f.m.ExportTenant(context.Background(), "../t1")
	require.ErrorIs(t, err, backup.ErrConfiguration)
	assert.Zero(t, f.objects.Calls())
	assert.Zero(t, f.live.Reads())

	ev := f.lastEvent(t)
	assert.Equal(t, audit.ActionTenantBackup, ev.Action)
	assert.Equal(t, "../t1", ev.TenantID)
	assert.Equal(t, audit.OutcomeFailed, ev.Metadata["outcome"])
	assert.Equal(t, err.Error(), ev.Metadata["error"])
	assert.Equal(t, t0, ev.OccurredAt)
}

func TestExportTenantWaitsForLease(t *testing.T) {
	locker := lease.NewLocal()
	f := newFixture(t, WithLocker(locker))
	seedClinic(f.live)

	release, err := locker.Acquire(context.Background(), "t1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	art, err := f.m.ExportTenant(ctx, "t1")
	require.ErrorIs(t, err, backup.ErrLeaseUnavailable)
	assert.Equal(t, backup.StatusFailed, art.Status)
	assert.Zero(t, f.live.Reads())
	assert.Empty(t, f.objects.Names())
}

func TestExportSurvivesAuditOutage(t *testing.T) {
	f := newFixture(t)
	seedClinic(f.live)
	f.sink.Err = errors.New("audit table locked")

	art, err := f.m.ExportTenant(context.Background(), "t2")
	require.NoError(t, err)
	assert.Equal(t, backup.StatusCompleted, art.Status)
	assert.True(t, f.objects.Has(art.StoragePath))
}
