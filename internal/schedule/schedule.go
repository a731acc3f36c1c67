// Package schedule repeats a batch run on a cron schedule, writing each run
// into a dated snapshot file.
package schedule

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job processes the tag list into output.
type Job func(ctx context.Context, output string) error

// Scheduler runs a Job into dir/stats-YYYY-MM-DD.csv on every cron tick.
// Ticks that arrive while a run is still going are skipped. Because each
// day has its own file, a run interrupted by shutdown resumes on the next
// tick of the same day.
type Scheduler struct {
	cron     *cron.Cron
	dir      string
	job      Job
	logger   *zap.Logger
	location *time.Location
	now      func() time.Time

	mu  sync.Mutex
	ctx context.Context
}

// New creates a scheduler for spec, a standard five-field cron expression
// or a descriptor such as "@daily" or "@every 6h".
func New(spec, dir string, job Job, loc *time.Location, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	s := &Scheduler{
		dir:      dir,
		job:      job,
		logger:   logger,
		location: loc,
		now:      time.Now,
		ctx:      context.Background(),
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// SnapshotPath returns the output file for a run at t.
func SnapshotPath(dir string, t time.Time) string {
	return filepath.Join(dir, "stats-"+t.Format("2006-01-02")+".csv")
}

// Next returns the time of the next scheduled run.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	if !entries[0].Next.IsZero() {
		return entries[0].Next
	}
	return entries[0].Schedule.Next(s.now().In(s.location))
}

// RunOnce runs the job immediately into today's snapshot.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	out := SnapshotPath(s.dir, s.now().In(s.location))
	s.logger.Info("scheduled run starting", zap.String("path", out))
	if err := s.job(ctx, out); err != nil {
		s.logger.Error("scheduled run failed", zap.String("path", out), zap.Error(err))
		return err
	}
	s.logger.Info("scheduled run finished", zap.String("path", out))
	return nil
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	_ = s.RunOnce(ctx)
	s.logger.Info("next run", zap.Time("at", s.Next()))
}

// Run blocks, running the job on schedule until ctx is cancelled. It waits
// for an in-flight run to return before it does.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("dir", s.dir), zap.Time("next", s.Next()))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
