package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mikey/email-agent/internal/config"
	"github.com/mikey/email-agent/internal/core"
	cronv3 "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job names
const (
	JobSync     = "sync"
	JobClassify = "classify"
	JobPurge    = "purge"
)

// AccountSyncer pulls new mail from every account
type AccountSyncer interface {
	SyncAll(ctx context.Context) ([]*core.SyncResult, error)
}

// PendingClassifier classifies stored PENDING emails
type PendingClassifier interface {
	ClassifyPending(ctx context.Context, limit int) *core.BatchResult
}

// Purger removes soft-deleted emails past retention
type Purger interface {
	PurgeDeleted(ctx context.Context, before time.Time) (int64, error)
}

// Scheduler runs the periodic pipeline jobs
type Scheduler struct {
	syncer     AccountSyncer
	classifier PendingClassifier
	purger     Purger
	schedule   config.ScheduleConfig
	retention  time.Duration
	logger     *zap.Logger
	now        func() time.Time

	// pipeline serialises sync and classify so a batch never races a sync
	pipeline sync.Mutex

	cron   *cronv3.Cron
	ctx    context.Context
	cancel context.CancelFunc
	jobIDs map[string]cronv3.EntryID
}

// NewScheduler creates a new scheduler
func NewScheduler(
	syncer AccountSyncer,
	classifier PendingClassifier,
	purger Purger,
	schedule config.ScheduleConfig,
	maintenance config.MaintenanceConfig,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		syncer:     syncer,
		classifier: classifier,
		purger:     purger,
		schedule:   schedule,
		retention:  time.Duration(maintenance.QuarantineDays) * 24 * time.Hour,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		jobIDs:     make(map[string]cronv3.EntryID),
	}
}

// Start registers the configured jobs and starts the cron loop. Jobs run
// with a context derived from ctx and cancelled by Stop. A job with an
// empty schedule is disabled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	cronLog := cronLogger{s.logger.Sugar()}
	c := cronv3.New(cronv3.WithChain(
		cronv3.SkipIfStillRunning(cronLog),
		cronv3.Recover(cronLog),
	))

	jobs := []struct {
		name string
		spec string
		run  func(context.Context)
	}{
		{JobSync, s.schedule.Sync, s.RunSync},
		{JobClassify, s.schedule.Classify, s.RunClassify},
		{JobPurge, s.schedule.Purge, s.RunPurge},
	}

	for _, job := range jobs {
		if job.spec == "" {
			s.logger.Info("Job disabled", zap.String("job", job.name))
			continue
		}
		run := job.run
		id, err := c.AddFunc(job.spec, func() { run(s.ctx) })
		if err != nil {
			s.cancel()
			return fmt.Errorf("invalid schedule for %s job %q: %w", job.name, job.spec, err)
		}
		s.jobIDs[job.name] = id
		s.logger.Info("Registered job", zap.String("job", job.name), zap.String("schedule", job.spec))
	}

	c.Start()
	s.cron = c
	return nil
}

// Stop cancels running jobs and waits for them to return
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	s.logger.Info("Stopping scheduler")
	s.cancel()
	<-s.cron.Stop().Done()
}

// Jobs returns the names of the registered jobs
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobIDs))
	for _, name := range []string{JobSync, JobClassify, JobPurge} {
		if _, ok := s.jobIDs[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// RunSync synchronises every account and then classifies what arrived
func (s *Scheduler) RunSync(ctx context.Context) {
	s.pipeline.Lock()
	defer s.pipeline.Unlock()

	results, err := s.syncer.SyncAll(ctx)
	if err != nil {
		s.logger.Error("Account sync failed", zap.Error(err))
		return
	}

	inserted := 0
	for _, r := range results {
		inserted += r.Inserted
		if r.Status == core.ResultError {
			s.logger.Warn("Account sync error",
				zap.Int64("account_id", r.AccountID),
				zap.String("error", r.Error))
		}
	}
	s.logger.Info("Account sync completed",
		zap.Int("accounts", len(results)),
		zap.Int("inserted", inserted))

	if inserted > 0 {
		s.classify(ctx)
	}
}

// RunClassify classifies a batch of pending emails
func (s *Scheduler) RunClassify(ctx context.Context) {
	s.pipeline.Lock()
	defer s.pipeline.Unlock()
	s.classify(ctx)
}

func (s *Scheduler) classify(ctx context.Context) {
	result := s.classifier.ClassifyPending(ctx, s.schedule.ClassifyLimit)
	fields := []zap.Field{
		zap.String("batch_id", result.BatchID),
		zap.String("status", string(result.Status)),
		zap.Int("processed", result.Processed),
		zap.Int("classified", result.Classified),
		zap.Int("errors", result.Errors),
	}
	if result.Status == core.ResultError {
		s.logger.Error("Classification batch failed", append(fields, zap.String("error", result.Error))...)
		return
	}
	s.logger.Info("Classification batch completed", fields...)
}

// RunPurge removes soft-deleted emails older than the quarantine window
func (s *Scheduler) RunPurge(ctx context.Context) {
	if s.retention <= 0 {
		return
	}

	cutoff := s.now().Add(-s.retention)
	purged, err := s.purger.PurgeDeleted(ctx, cutoff)
	if err != nil {
		s.logger.Error("Quarantine purge failed", zap.Error(err))
		return
	}
	s.logger.Info("Quarantine purge completed",
		zap.Int64("purged", purged),
		zap.Time("cutoff", cutoff))
}

// cronLogger adapts zap to the cron logger interface
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
