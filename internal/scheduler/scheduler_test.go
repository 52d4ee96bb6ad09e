package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kebairia/tenantbackup/internal/backup"
	"github.com/kebairia/tenantbackup/internal/logger"
	"github.com/kebairia/tenantbackup/internal/operations"
)

type fakeJobs struct {
	mu       sync.Mutex
	full     atomic.Int32
	sweeps   atomic.Int32
	fullErr  error
	sweepErr error
	policy   operations.RetentionPolicy
	started  chan struct{}
	release  chan struct{}
}

func (f *fakeJobs) ExportFull(ctx context.Context) (*backup.Artifact, error) {
	f.full.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	if f.fullErr != nil {
		return nil, f.fullErr
	}
	return &backup.Artifact{StoragePath: "full-backup-x.sql.gz", Status: backup.StatusCompleted}, nil
}

func (f *fakeJobs) Sweep(ctx context.Context, policy operations.RetentionPolicy) (operations.SweepReport, error) {
	f.sweeps.Add(1)
	f.mu.Lock()
	f.policy = policy
	f.mu.Unlock()
	return operations.SweepReport{Deleted: []string{"a"}, Failed: []string{"b"}}, f.sweepErr
}

func observed() (logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return logger.New(zap.New(core)), logs
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := New(&fakeJobs{}, operations.RetentionPolicy{}, WithFullBackupSchedule("every tuesday"), WithLogger(logger.Nop()))

	err := s.Start(context.Background())
	require.ErrorIs(t, err, backup.ErrConfiguration)
	assert.Contains(t, err.Error(), "every tuesday")
}

func TestStartRegistersBothCadences(t *testing.T) {
	loc := time.FixedZone("clinic", 2*3600)
	s := New(&fakeJobs{}, operations.RetentionPolicy{Window: time.Hour},
		WithFullBackupSchedule("0 2 * * *"),
		WithRetentionSchedule("0 3 * * 0"),
		WithLocation(loc),
		WithLogger(logger.Nop()),
	)
	require.NoError(t, s.Start(context.Background()))
	defer func() { require.NoError(t, s.Stop(context.Background())) }()

	assert.Len(t, s.cron.Entries(), 2)
	full, sweep := s.Next()
	assert.Equal(t, 2, full.In(loc).Hour())
	assert.Equal(t, 3, sweep.In(loc).Hour())
	assert.Equal(t, time.Sunday, sweep.In(loc).Weekday())
}

func TestNextBeforeStart(t *testing.T) {
	full, sweep := New(&fakeJobs{}, operations.RetentionPolicy{}).Next()
	assert.True(t, full.IsZero())
	assert.True(t, sweep.IsZero())
}

func TestOverlappingFullBackupIsSkipped(t *testing.T) {
	jobs := &fakeJobs{started: make(chan struct{}), release: make(chan struct{})}
	s := New(jobs, operations.RetentionPolicy{}, WithLogger(logger.Nop()))
	require.NoError(t, s.Start(context.Background()))
	defer func() { require.NoError(t, s.Stop(context.Background())) }()

	job := s.cron.Entry(s.fullID).WrappedJob
	done := make(chan struct{})
	go func() {
		defer close(done)
		job.Run()
	}()
	<-jobs.started

	// the second tick returns at once while the first run is in flight
	job.Run()
	assert.EqualValues(t, 1, jobs.full.Load())

	close(jobs.release)
	<-done
}

func TestRunFullBackupLogsFailure(t *testing.T) {
	log, logs := observed()
	jobs := &fakeJobs{fullErr: errors.New("pg_dump: exit status 1")}
	s := New(jobs, operations.RetentionPolicy{}, WithLogger(log))

	s.RunFullBackup(context.Background())

	entries := logs.FilterMessage("scheduled full backup failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "pg_dump: exit status 1", entries[0].ContextMap()["error"])
	assert.EqualValues(t, 1, jobs.full.Load())
}

func TestRunSweepPassesPolicyAndSwallowsFailure(t *testing.T) {
	log, logs := observed()
	policy := operations.RetentionPolicy{Window: 30 * 24 * time.Hour, Prefix: backup.TenantPrefix}
	jobs := &fakeJobs{sweepErr: errors.New("throttled")}
	s := New(jobs, policy, WithLogger(log))

	s.RunSweep(context.Background())

	assert.Equal(t, policy, jobs.policy)
	entries := logs.FilterMessage("scheduled retention sweep failed").All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, 1, entries[0].ContextMap()["deleted"])
	assert.EqualValues(t, 1, entries[0].ContextMap()["failed"])
}

func TestStopCancelsRunningJobs(t *testing.T) {
	s := New(&fakeJobs{}, operations.RetentionPolicy{}, WithLogger(logger.Nop()))
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Stop(context.Background()))
	assert.ErrorIs(t, s.ctx.Err(), context.Canceled)
}
