// Package fetch pages through a tag's work listings and returns the parsed works.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/shipstats/internal/metrics"
	"github.com/TobiSchelling/shipstats/internal/works"
)

// PageCache stores raw listing pages between runs.
type PageCache interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, page []byte) error
}

// DateRange limits works to those posted within [From, To]. Nil bounds are open.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// ParseDateRange builds a range from YYYY-MM-DD bounds. Empty strings leave
// that side open. Both bounds are inclusive.
func ParseDateRange(from, to string) (DateRange, error) {
	var r DateRange
	for _, b := range []struct {
		name, value string
		dst         **time.Time
	}{{"start", from, &r.From}, {"end", to, &r.To}} {
		if b.value == "" {
			continue
		}
		t, err := time.Parse("2006-01-02", b.value)
		if err != nil {
			return DateRange{}, fmt.Errorf("invalid %s date %q (want YYYY-MM-DD)", b.name, b.value)
		}
		*b.dst = &t
	}
	if r.From != nil && r.To != nil && r.From.After(*r.To) {
		return DateRange{}, fmt.Errorf("start date %s is after end date %s", from, to)
	}
	return r, nil
}

// Active reports whether any bound is set.
func (r DateRange) Active() bool {
	return r.From != nil || r.To != nil
}

// Contains reports whether rec passes the filter. With an active range, a work
// without a posted date never passes.
func (r DateRange) Contains(rec works.Record) bool {
	if !r.Active() {
		return true
	}
	if rec.Posted == nil {
		return false
	}
	if r.From != nil && rec.Posted.Before(*r.From) {
		return false
	}
	if r.To != nil && rec.Posted.After(*r.To) {
		return false
	}
	return true
}

// Fetcher fetches and parses listing pages one at a time.
type Fetcher struct {
	source   PageSource
	throttle *Throttle
	cache    PageCache
	logger   *zap.Logger
}

// NewFetcher creates a Fetcher. The throttle is shared by every request the
// fetcher makes, across tags.
func NewFetcher(source PageSource, throttle *Throttle, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{source: source, throttle: throttle, logger: logger}
}

// WithCache makes the fetcher consult cache before requesting a page.
func (f *Fetcher) WithCache(cache PageCache) *Fetcher {
	f.cache = cache
	return f
}

// Fetch returns the works on pages 1..pages of tag that fall within dr. It
// stops after a page without a next link, or at the first page without
// works. A failed request aborts the tag with an *Error.
func (f *Fetcher) Fetch(ctx context.Context, tag string, pages int, dr DateRange) ([]works.Record, error) {
	var out []works.Record
	for page := 1; page <= pages; page++ {
		body, err := f.page(ctx, tag, page)
		if err != nil {
			return nil, err
		}
		parsed, err := works.ParsePage(bytes.NewReader(body))
		if err != nil {
			return nil, &Error{Tag: tag, Page: page, Err: err}
		}
		records := parsed.Works
		metrics.WorksParsed.Add(float64(len(records)))
		if len(records) == 0 {
			f.logger.Debug("no works on page, stopping", zap.String("tag", tag), zap.Int("page", page))
			break
		}

		kept := 0
		for _, rec := range records {
			if dr.Contains(rec) {
				out = append(out, rec)
				kept++
			}
		}
		f.logger.Debug("parsed page",
			zap.String("tag", tag),
			zap.Int("page", page),
			zap.Int("works", len(records)),
			zap.Int("kept", kept),
		)
		if !parsed.HasNext {
			break
		}
	}
	return out, nil
}

func (f *Fetcher) page(ctx context.Context, tag string, page int) ([]byte, error) {
	key := cacheKey(tag, page)
	if f.cache != nil {
		body, ok, err := f.cache.Get(key)
		if err != nil {
			f.logger.Warn("page cache read failed", zap.String("tag", tag), zap.Int("page", page), zap.Error(err))
		} else if ok {
			metrics.PageCacheHits.Inc()
			return body, nil
		}
	}

	if err := f.throttle.Wait(ctx); err != nil {
		return nil, &Error{Tag: tag, Page: page, Err: err}
	}
	f.logger.Info("fetching page", zap.String("tag", tag), zap.Int("page", page))
	body, err := f.source.FetchPage(ctx, tag, page)
	if err != nil {
		metrics.FetchErrors.Inc()
		return nil, err
	}
	metrics.PagesFetched.Inc()

	if f.cache != nil {
		if err := f.cache.Put(key, body); err != nil {
			f.logger.Warn("page cache write failed", zap.String("tag", tag), zap.Int("page", page), zap.Error(err))
		}
	}
	return body, nil
}

func cacheKey(tag string, page int) string {
	return "page:" + strconv.Itoa(page) + ":" + tag
}
