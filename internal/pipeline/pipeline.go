// Package pipeline builds a batch runner from configuration: the archive
// source, the shared throttle, the optional page cache and the run history
// recorders.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/TobiSchelling/shipstats/internal/batch"
	"github.com/TobiSchelling/shipstats/internal/cache"
	"github.com/TobiSchelling/shipstats/internal/config"
	"github.com/TobiSchelling/shipstats/internal/database"
	"github.com/TobiSchelling/shipstats/internal/fetch"
	"github.com/TobiSchelling/shipstats/internal/pgsink"
	"github.com/TobiSchelling/shipstats/internal/store"
)

// Options selects the optional collaborators.
type Options struct {
	// History records runs in the local SQLite database.
	History bool
	// Mirror copies completed summaries to Postgres when a DSN is configured.
	Mirror bool
}

// Pipeline owns everything a run needs. One Pipeline shares its throttle
// across every run it performs.
type Pipeline struct {
	cfg     *config.Config
	logger  *zap.Logger
	fetcher *fetch.Fetcher
	cache   *cache.PageCache
	db      *database.DB
	sink    *pgsink.Sink
}

// New creates a pipeline. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	source := fetch.NewHTTPSource(cfg.Archive.BaseURL,
		fetch.WithTimeout(cfg.Archive.Timeout),
		fetch.WithUserAgent(cfg.Archive.UserAgent),
	)
	p := &Pipeline{
		cfg:     cfg,
		logger:  logger,
		fetcher: fetch.NewFetcher(source, fetch.NewThrottle(cfg.DelayDuration()), logger.Named("fetch")),
	}

	if cfg.Cache.Enabled {
		c, err := cache.Open(cfg.GetCacheDir(), cfg.Cache.TTL)
		if err != nil {
			return nil, err
		}
		p.cache = c
		p.fetcher.WithCache(c)
		logger.Debug("page cache enabled", zap.String("path", cfg.GetCacheDir()))
	}

	if opts.History {
		db, err := database.Open(cfg.DatabasePath(), logger.Named("db"))
		if err != nil {
			p.Close()
			return nil, err
		}
		p.db = db
	}

	if opts.Mirror && cfg.Postgres.DSN != "" {
		sink, err := pgsink.Connect(ctx, cfg.Postgres.DSN, cfg.Postgres.Schema)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.sink = sink
	}

	return p, nil
}

// Runner returns a batch runner over the pipeline's fetcher and recorders.
func (p *Pipeline) Runner(dr fetch.DateRange) (*batch.Runner, error) {
	policy, err := batch.ParsePolicy(p.cfg.Batch.OnError)
	if err != nil {
		return nil, err
	}
	r := batch.NewRunner(p.fetcher, batch.Options{
		Pages:     p.cfg.Archive.Pages,
		DateRange: dr,
		Policy:    policy,
		LockTTL:   p.cfg.Batch.LockTTL,
	}, p.logger.Named("batch"))

	if p.db != nil {
		r.WithRecorder(p.db)
	}
	if p.sink != nil {
		r.WithRecorder(p.sink)
	}
	return r, nil
}

// Batch processes the tag list at input into output, resuming if output
// already holds rows.
func (p *Pipeline) Batch(ctx context.Context, input, output string, dr fetch.DateRange) (*batch.Report, error) {
	r, err := p.Runner(dr)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, input, output)
}

// Scrape fetches and aggregates tags without an output file.
func (p *Pipeline) Scrape(ctx context.Context, tags []string, dr fetch.DateRange) (*batch.Report, error) {
	r, err := p.Runner(dr)
	if err != nil {
		return nil, err
	}
	return r.Scrape(ctx, tags)
}

// Plan describes what a batch run would do without fetching anything.
type Plan struct {
	Total   int
	Done    int
	Pending []string
	Lock    *store.LockInfo
}

// DryRun reads the tag list and the output file and reports what is left.
func DryRun(input, output string) (*Plan, error) {
	tags, err := batch.ReadTags(input)
	if err != nil {
		return nil, err
	}
	done, err := store.ReadCompleted(output)
	if err != nil {
		return nil, err
	}
	lock, err := store.InspectLock(output)
	if err != nil {
		return nil, fmt.Errorf("inspecting lock: %w", err)
	}

	plan := &Plan{Lock: lock}
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		plan.Total++
		if done.Has(t) {
			plan.Done++
		} else {
			plan.Pending = append(plan.Pending, t)
		}
	}
	return plan, nil
}

// DB returns the history database, or nil when history is off.
func (p *Pipeline) DB() *database.DB {
	return p.db
}

// Close releases the cache, database and Postgres pool.
func (p *Pipeline) Close() error {
	var errs []error
	if p.cache != nil {
		errs = append(errs, p.cache.Close())
	}
	if p.db != nil {
		errs = append(errs, p.db.Close())
	}
	if p.sink != nil {
		p.sink.Close()
	}
	return errors.Join(errs...)
}
