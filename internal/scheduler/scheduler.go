// Package scheduler triggers full backups and retention sweeps on cron
// cadences.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kebairia/tenantbackup/internal/backup"
	"github.com/kebairia/tenantbackup/internal/logger"
	"github.com/kebairia/tenantbackup/internal/operations"
)

const (
	DefaultFullBackupSchedule = "@daily"
	DefaultRetentionSchedule  = "@weekly"
)

// Jobs is the work the scheduler triggers. *operations.Manager is one.
type Jobs interface {
	ExportFull(ctx context.Context) (*backup.Artifact, error)
	Sweep(ctx context.Context, policy operations.RetentionPolicy) (operations.SweepReport, error)
}

// Option lets you override default settings on a Scheduler.
type Option func(*Scheduler)

// Scheduler runs each job on its own cadence. A job still running when
// its next tick fires is skipped, never queued. Failed runs are not
// retried; they wait for the next tick.
type Scheduler struct {
	jobs      Jobs
	policy    operations.RetentionPolicy
	fullSpec  string
	sweepSpec string
	location  *time.Location
	log       logger.Logger

	cron    *cron.Cron
	fullID  cron.EntryID
	sweepID cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(jobs Jobs, policy operations.RetentionPolicy, opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:      jobs,
		policy:    policy,
		fullSpec:  DefaultFullBackupSchedule,
		sweepSpec: DefaultRetentionSchedule,
		location:  time.UTC,
		log:       logger.Global(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func WithFullBackupSchedule(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.fullSpec = spec
		}
	}
}

func WithRetentionSchedule(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.sweepSpec = spec
		}
	}
}

func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

func WithLogger(log logger.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// Start registers both jobs and starts ticking. Jobs run with a context
// derived from ctx that Stop cancels.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	adapter := cronLogger{log: s.log.With("component", "scheduler")}
	s.cron = cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(adapter),
		cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
	)

	var err error
	if s.fullID, err = s.cron.AddFunc(s.fullSpec, func() { s.RunFullBackup(s.ctx) }); err != nil {
		s.cancel()
		return fmt.Errorf("%w: full backup schedule %q: %v", backup.ErrConfiguration, s.fullSpec, err)
	}
	if s.sweepID, err = s.cron.AddFunc(s.sweepSpec, func() { s.RunSweep(s.ctx) }); err != nil {
		s.cancel()
		return fmt.Errorf("%w: retention schedule %q: %v", backup.ErrConfiguration, s.sweepSpec, err)
	}

	s.cron.Start()
	s.log.Info("scheduler started",
		"full_backup", s.fullSpec,
		"retention", s.sweepSpec,
		"window", s.policy.Window.String(),
	)
	return nil
}

// Next reports when the full backup and the sweep fire next.
func (s *Scheduler) Next() (fullBackup, sweep time.Time) {
	if s.cron == nil {
		return time.Time{}, time.Time{}
	}
	return s.cron.Entry(s.fullID).Next, s.cron.Entry(s.sweepID).Next
}

// Stop cancels running jobs and waits until they return or ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// RunFullBackup runs one full export. The outcome is already audited by
// the exporter, so failures are only logged here.
func (s *Scheduler) RunFullBackup(ctx context.Context) {
	art, err := s.jobs.ExportFull(ctx)
	if err != nil {
		s.log.Error("scheduled full backup failed", "error", err.Error())
		return
	}
	s.log.Info("scheduled full backup completed", "path", art.StoragePath, "size_bytes", art.SizeBytes)
}

// RunSweep runs one retention pass. Sweep failures are never returned to
// the scheduler.
func (s *Scheduler) RunSweep(ctx context.Context) {
	report, err := s.jobs.Sweep(ctx, s.policy)
	if err != nil {
		s.log.Error("scheduled retention sweep failed",
			"deleted", len(report.Deleted),
			"failed", len(report.Failed),
			"error", err.Error(),
		)
		return
	}
	s.log.Info("scheduled retention sweep completed",
		"expired", report.Expired,
		"retained", report.Retained,
	)
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.log.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.log.Error(msg, append(keysAndValues, "error", err.Error())...)
}
