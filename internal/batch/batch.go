// Package batch drives a list of tags through fetch, aggregate and append,
// skipping tags whose rows are already in the output file.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TobiSchelling/shipstats/internal/aggregate"
	"github.com/TobiSchelling/shipstats/internal/fetch"
	"github.com/TobiSchelling/shipstats/internal/metrics"
	"github.com/TobiSchelling/shipstats/internal/store"
	"github.com/TobiSchelling/shipstats/internal/works"
)

// Policy decides what happens to the run when a tag cannot be fetched.
type Policy string

const (
	// PolicyAbort stops the run at the first failed tag.
	PolicyAbort Policy = "abort"
	// PolicySkip logs the failed tag and moves on. The tag gets no row, so the
	// next run retries it.
	PolicySkip Policy = "skip"
)

// ParsePolicy validates a policy name. Empty means abort.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyAbort:
		return PolicyAbort, nil
	case PolicySkip:
		return PolicySkip, nil
	}
	return "", fmt.Errorf("unknown failure policy %q (want abort or skip)", s)
}

// TagFetcher returns the works listed under a tag.
type TagFetcher interface {
	Fetch(ctx context.Context, tag string, pages int, dr fetch.DateRange) ([]works.Record, error)
}

// Outcome is what happened to one tag in a run.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Result is handed to every Recorder once per tag.
type Result struct {
	RunID   string
	Tag     string
	Outcome Outcome
	Summary *aggregate.Summary
	Err     error
	At      time.Time
}

// Recorder observes tag results after they are durable in the output file.
// Recorder errors are logged and never change the run.
type Recorder interface {
	RecordResult(ctx context.Context, r Result) error
}

// RunRecorder is a Recorder that also tracks run boundaries.
type RunRecorder interface {
	Recorder
	StartRun(ctx context.Context, runID, output string, total int) error
	FinishRun(ctx context.Context, report *Report, runErr error) error
}

// Options configures a run.
type Options struct {
	Pages     int
	DateRange fetch.DateRange
	Policy    Policy
	LockTTL   time.Duration
}

// Failure is a tag that could not be fetched under the skip policy.
type Failure struct {
	Tag string
	Err error
}

// Report summarizes a run.
type Report struct {
	RunID     string
	Total     int
	Completed []aggregate.Summary
	Skipped   []string
	Failed    []Failure
}

// TagError is returned under the abort policy.
type TagError struct {
	Tag string
	Err error
}

func (e *TagError) Error() string {
	return fmt.Sprintf("tag %q: %v", e.Tag, e.Err)
}

func (e *TagError) Unwrap() error {
	return e.Err
}

// Runner processes tags strictly one at a time.
type Runner struct {
	fetcher   TagFetcher
	opts      Options
	recorders []Recorder
	logger    *zap.Logger
	now       func() time.Time
}

// NewRunner creates a runner.
func NewRunner(fetcher TagFetcher, opts Options, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Pages < 1 {
		opts.Pages = 1
	}
	if opts.Policy == "" {
		opts.Policy = PolicyAbort
	}
	return &Runner{fetcher: fetcher, opts: opts, logger: logger, now: time.Now}
}

// WithRecorder adds recorders notified of every tag result.
func (r *Runner) WithRecorder(recs ...Recorder) *Runner {
	for _, rec := range recs {
		if rec != nil {
			r.recorders = append(r.recorders, rec)
		}
	}
	return r
}

// Run reads the tag list at input and processes it into output.
func (r *Runner) Run(ctx context.Context, input, output string) (*Report, error) {
	tags, err := ReadTags(input)
	if err != nil {
		return nil, err
	}
	return r.RunTags(ctx, tags, output)
}

// RunTags processes tags into the output file at output. Tags that already
// have a row are skipped. A row is appended, synced, and only then is the tag
// marked done, so a crash at any point loses at most the tag in flight.
func (r *Runner) RunTags(ctx context.Context, tags []string, output string) (*Report, error) {
	report, err := r.runTags(ctx, tags, output)
	if report != nil {
		r.finish(ctx, report, err)
	}
	return report, err
}

func (r *Runner) runTags(ctx context.Context, tags []string, output string) (*Report, error) {
	// The lock file lives next to the output, so its directory must exist first.
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	lock, err := store.AcquireLock(output, r.opts.LockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			r.logger.Warn("releasing lock", zap.String("path", lock.Path()), zap.Error(err))
		}
	}()
	hbCtx, stop := context.WithCancel(ctx)
	defer stop()
	go lock.KeepAlive(hbCtx, store.Heartbeat(r.opts.LockTTL))

	dropped, err := store.Repair(output)
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		r.logger.Warn("dropped incomplete trailing row", zap.String("path", output), zap.Int64("bytes", dropped))
	}

	completed, err := store.ReadCompleted(output)
	if err != nil {
		return nil, err
	}

	tags = unique(tags)
	report := &Report{RunID: uuid.NewString(), Total: len(tags)}
	r.begin(ctx, report, output)
	if len(completed) > 0 {
		r.logger.Info("resuming run",
			zap.String("path", output),
			zap.Int("done", len(completed)),
			zap.Int("tags", len(tags)),
		)
	}

	for _, tag := range tags {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if completed.Has(tag) {
			metrics.TagsResumed.Inc()
			report.Skipped = append(report.Skipped, tag)
			r.record(ctx, Result{RunID: report.RunID, Tag: tag, Outcome: OutcomeSkipped})
			continue
		}

		summary, err := r.process(ctx, tag)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			if abort := r.fail(ctx, report, tag, err); abort != nil {
				return report, abort
			}
			continue
		}

		if err := store.Append(output, summary); err != nil {
			return report, fmt.Errorf("recording %q: %w", tag, err)
		}
		completed.Add(tag)
		r.complete(ctx, report, summary)
	}
	return report, nil
}

// Scrape fetches and aggregates tags without an output file.
func (r *Runner) Scrape(ctx context.Context, tags []string) (report *Report, err error) {
	tags = unique(tags)
	report = &Report{RunID: uuid.NewString(), Total: len(tags)}
	r.begin(ctx, report, "")
	defer func() { r.finish(ctx, report, err) }()
	for _, tag := range tags {
		summary, err := r.process(ctx, tag)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			if abort := r.fail(ctx, report, tag, err); abort != nil {
				return report, abort
			}
			continue
		}
		r.complete(ctx, report, summary)
	}
	return report, nil
}

func (r *Runner) process(ctx context.Context, tag string) (aggregate.Summary, error) {
	r.logger.Info("processing tag", zap.String("tag", tag))
	records, err := r.fetcher.Fetch(ctx, tag, r.opts.Pages, r.opts.DateRange)
	if err != nil {
		return aggregate.Summary{}, err
	}
	return aggregate.Aggregate(tag, records), nil
}

func (r *Runner) complete(ctx context.Context, report *Report, s aggregate.Summary) {
	metrics.TagsCompleted.Inc()
	report.Completed = append(report.Completed, s)
	r.logger.Info("tag done",
		zap.String("tag", s.Tag),
		zap.Int("works", s.WorkCount),
		zap.Int("kudos", s.TotalKudos),
	)
	r.record(ctx, Result{RunID: report.RunID, Tag: s.Tag, Outcome: OutcomeCompleted, Summary: &s})
}

// fail applies the failure policy. It returns the error that ends the run,
// or nil to continue.
func (r *Runner) fail(ctx context.Context, report *Report, tag string, err error) error {
	metrics.TagsFailed.Inc()
	r.record(ctx, Result{RunID: report.RunID, Tag: tag, Outcome: OutcomeFailed, Err: err})
	if r.opts.Policy == PolicySkip {
		r.logger.Error("tag failed, skipping", zap.String("tag", tag), zap.Error(err))
		report.Failed = append(report.Failed, Failure{Tag: tag, Err: err})
		return nil
	}
	return &TagError{Tag: tag, Err: err}
}

func (r *Runner) record(ctx context.Context, res Result) {
	if len(r.recorders) == 0 {
		return
	}
	res.At = r.now().UTC()
	for _, rec := range r.recorders {
		if err := rec.RecordResult(ctx, res); err != nil {
			r.logger.Warn("recording result", zap.String("tag", res.Tag), zap.Error(err))
		}
	}
}

func (r *Runner) begin(ctx context.Context, report *Report, output string) {
	for _, rec := range r.recorders {
		if rr, ok := rec.(RunRecorder); ok {
			if err := rr.StartRun(ctx, report.RunID, output, report.Total); err != nil {
				r.logger.Warn("recording run start", zap.String("run", report.RunID), zap.Error(err))
			}
		}
	}
}

func (r *Runner) finish(ctx context.Context, report *Report, runErr error) {
	ctx = context.WithoutCancel(ctx)
	for _, rec := range r.recorders {
		if rr, ok := rec.(RunRecorder); ok {
			if err := rr.FinishRun(ctx, report, runErr); err != nil {
				r.logger.Warn("recording run end", zap.String("run", report.RunID), zap.Error(err))
			}
		}
	}
}
