package operations

import (
	"context"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kebairia/tenantbackup/internal/archive"
	"github.com/kebairia/tenantbackup/internal/audit"
	"github.com/kebairia/tenantbackup/internal/backup"
	"github.com/kebairia/tenantbackup/internal/envelope"
	"github.com/kebairia/tenantbackup/internal/logger"
	"github.com/kebairia/tenantbackup/internal/objectstore"
	"github.com/kebairia/tenantbackup/internal/store"
)

var t0 = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type fixture struct {
	m       *Manager
	objects *objectstore.Memory
	live    *store.Memory
	sink    *audit.Memory
	tmp     string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		objects: objectstore.NewMemory(),
		live:    store.NewMemory(),
		sink:    &audit.Memory{},
		tmp:     t.TempDir(),
	}
	f.objects.Now = func() time.Time { return t0 }
	base := []Option{
		WithAudit(audit.NewLogger(f.sink, logger.Nop())),
		WithLogger(logger.Nop()),
		WithClock(func() time.Time { return t0 }),
		WithTempDir(f.tmp),
	}
	f.m = NewManager(f.objects, f.live, append(base, opts...)...)
	return f
}

// restorer returns a Manager sharing f's object store but writing into a
// fresh live store.
func (f *fixture) restorer() (*Manager, *store.Memory) {
	live := store.NewMemory()
	return NewManager(f.objects, live,
		WithLogger(logger.Nop()),
		WithClock(func() time.Time { return t0 }),
	), live
}

func (f *fixture) lastEvent(t *testing.T) audit.Event {
	t.Helper()
	events := f.sink.Events()
	require.NotEmpty(t, events)
	return events[len(events)-1]
}

func (f *fixture) tempFiles(t *testing.T) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(f.tmp)
	require.NoError(t, err)
	return entries
}

// payloadAt downloads and decodes the envelope stored at path.
func (f *fixture) payloadAt(t *testing.T, path string) *envelope.Payload {
	t.Helper()
	raw, err := f.objects.Download(context.Background(), path)
	require.NoError(t, err)
	data, err := archive.Decompress(raw)
	require.NoError(t, err)
	p, err := envelope.Decode(data)
	require.NoError(t, err)
	return p
}

// putEnvelope stores p compressed at path.
func (f *fixture) putEnvelope(t *testing.T, path string, p *envelope.Payload) {
	t.Helper()
	data, err := envelope.Encode(p)
	require.NoError(t, err)
	f.putRaw(t, path, data)
}

func (f *fixture) putRaw(t *testing.T, path string, data []byte) {
	t.Helper()
	compressed, err := archive.New(archive.Gzip).Compress(data)
	require.NoError(t, err)
	f.objects.Put(path, compressed, t0)
}

func patient(tenant, id, lastName string) envelope.Patient {
	return envelope.Patient{
		ID:        id,
		TenantID:  tenant,
		FirstName: "Ada",
		LastName:  lastName,
		CreatedAt: t0.Add(-48 * time.Hour),
		UpdatedAt: t0.Add(-24 * time.Hour),
	}
}

func consultation(tenant, id, patientID string) envelope.Consultation {
	return envelope.Consultation{
		ID:           id,
		TenantID:     tenant,
		PatientID:    patientID,
		Practitioner: "dr-lovelace",
		OccurredAt:   t0.Add(-6 * time.Hour),
		CreatedAt:    t0.Add(-6 * time.Hour),
		UpdatedAt:    t0.Add(-6 * time.Hour),
	}
}

func appointment(tenant, id, patientID string) envelope.Appointment {
	return envelope.Appointment{
		ID:              id,
		TenantID:        tenant,
		PatientID:       patientID,
		ScheduledAt:     t0.Add(72 * time.Hour),
		DurationMinutes: 30,
		Status:          "scheduled",
		CreatedAt:       t0,
		UpdatedAt:       t0,
	}
}

// seedClinic gives t1 two patients and one consultation, and t2 one
// patient with an appointment.
func seedClinic(live *store.Memory) {
	live.Seed(
		patient("t1", "p-1", "Byron"),
		patient("t1", "p-2", "King"),
		consultation("t1", "c-1", "p-1"),
		patient("t2", "p-9", "Hopper"),
		appointment("t2", "a-9", "p-9"),
	)
}

type fakeDumper struct {
	data  []byte
	err   error
	block bool
}

func (d *fakeDumper) Dump(ctx context.Context, w io.Writer) error {
	if d.block {
		<-ctx.Done()
		return fmt.Errorf("%w: pg_dump: %w", backup.ErrExternalTool, context.Cause(ctx))
	}
	if _, err := w.Write(d.data); err != nil {
		return err
	}
	return d.err
}
