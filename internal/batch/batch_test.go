package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/shipstats/internal/aggregate"
	"github.com/TobiSchelling/shipstats/internal/fetch"
	"github.com/TobiSchelling/shipstats/internal/store"
	"github.com/TobiSchelling/shipstats/internal/works"
)

// fakeFetcher serves fixed records per tag and fails the tags in fail.
type fakeFetcher struct {
	mu      sync.Mutex
	records map[string][]works.Record
	fail    map[string]error
	calls   []string
	onFetch func(tag string)
}

func (f *fakeFetcher) Fetch(_ context.Context, tag string, _ int, _ fetch.DateRange) ([]works.Record, error) {
	f.mu.Lock()
	f.calls = append(f.calls, tag)
	f.mu.Unlock()
	if f.onFetch != nil {
		f.onFetch(tag)
	}
	if err := f.fail[tag]; err != nil {
		return nil, err
	}
	return f.records[tag], nil
}

func rec(kudos, hits, words int) works.Record {
	return works.Record{Kudos: kudos, Hits: hits, Words: words}
}

var fourTags = map[string][]works.Record{
	"A/B": {rec(10, 100, 2000), rec(5, 0, 500)},
	"C/D": {rec(1, 1, 1)},
	"E/F": {rec(7, 70, 700)},
	"G/H": {rec(3, 30, 300), rec(4, 40, 400)},
}

type recorderFunc func(ctx context.Context, r Result) error

func (f recorderFunc) RecordResult(ctx context.Context, r Result) error { return f(ctx, r) }

func TestRunTagsWritesOneRowPerTag(t *testing.T) {
	out := filepath.Join(t.TempDir(), "stats.csv")
	f := &fakeFetcher{records: map[string][]works.Record{
		"X/Y": {rec(10, 100, 2000), rec(5, 0, 500)},
	}}

	report, err := NewRunner(f, Options{}, nil).RunTags(context.Background(), []string{"X/Y"}, out)
	require.NoError(t, err)
	require.Len(t, report.Completed, 1)
	require.Equal(t, 15, report.Completed[0].TotalKudos)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t,
		"tag,total_kudos,total_hits,total_bookmarks,total_comments,total_words,work_count\n"+
			"X/Y,15,100,0,0,2500,2\n",
		string(data))

	_, err = os.Stat(store.LockPath(out))
	require.True(t, errors.Is(err, os.ErrNotExist), "lock must be released")
}

func TestRunTagsSkipsCompletedTags(t *testing.T) {
	out := filepath.Join(t.TempDir(), "stats.csv")
	existing := aggregate.Summary{Tag: "C/D", TotalKudos: 99, WorkCount: 1}
	require.NoError(t, store.Append(out, existing))
	before, err := os.ReadFile(out)
	require.NoError(t, err)

	f := &fakeFetcher{records: fourTags}
	report, err := NewRunner(f, Options{}, nil).RunTags(context.Background(), []string{"A/B", "C/D", "E/F"}, out)
	require.NoError(t, err)
	require.Equal(t, []string{"A/B", "E/F"}, f.calls)
	require.Equal(t, []string{"C/D"}, report.Skipped)

	after, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(after), "\n"), "\n")
	require.Len(t, lines, 4)
	require.True(t, strings.HasPrefix(string(after), string(before)), "existing row must be untouched")
	require.Equal(t, "C/D,99,0,0,0,0,1", lines[1])
	require.True(t, strings.HasPrefix(lines[2], "A/B,"))
	require.True(t, strings.HasPrefix(lines[3], "E/F,"))
}

func TestRunTagsResumeMatchesUninterruptedRun(t *testing.T) {
	dir := t.TempDir()
	tags := []string{"A/B", "C/D", "E/F", "G/H"}

	clean := filepath.Join(dir, "clean.csv")
	_, err := NewRunner(&fakeFetcher{records: fourTags}, Options{}, nil).RunTags(context.Background(), tags, clean)
	require.NoError(t, err)

	// First attempt dies while fetching the third tag.
	out := filepath.Join(dir, "resumed.csv")
	ctx, cancel := context.WithCancel(context.Background())
	crashing := &fakeFetcher{records: fourTags, onFetch: func(tag string) {
		if tag == "E/F" {
			cancel()
		}
	}}
	crashing.fail = map[string]error{"E/F": context.Canceled}
	_, err = NewRunner(crashing, Options{}, nil).RunTags(ctx, tags, out)
	require.ErrorIs(t, err, context.Canceled)

	done, err := store.ReadCompleted(out)
	require.NoError(t, err)
	require.Len(t, done, 2)

	resumed := &fakeFetcher{records: fourTags}
	report, err := NewRunner(resumed, Options{}, nil).RunTags(context.Background(), tags, out)
	require.NoError(t, err)
	require.Equal(t, []string{"E/F", "G/H"}, resumed.calls)
	require.Equal(t, []string{"A/B", "C/D"}, report.Skipped)

	want, err := os.ReadFile(clean)
	require.NoError(t, err)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, string(want), string(got))
}

func TestRunTagsRecoversFromTornRow(t *testing.T) {
	out := filepath.Join(t.TempDir(), "stats.csv")
	require.NoError(t, store.Append(out, aggregate.Aggregate("A/B", fourTags["A/B"])))
	fh, err := os.OpenFile(out, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = fh.WriteString("C/D,1,1")
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	f := &fakeFetcher{records: fourTags}
	_, err = NewRunner(f, Options{}, nil).RunTags(context.Background(), []string{"A/B", "C/D"}, out)
	require.NoError(t, err)
	require.Equal(t, []string{"C/D"}, f.calls)

	rows, err := store.ReadSummaries(out)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "C/D", rows[1].Tag)
}

func TestRunTagsKeepsCompleteRowWithoutNewline(t *testing.T) {
	out := filepath.Join(t.TempDir(), "stats.csv")
	require.NoError(t, store.Append(out, aggregate.Aggregate("A/B", fourTags["A/B"])))
	fh, err := os.OpenFile(out, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = fh.WriteString("C/D,99,0,0,0,0,1")
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	f := &fakeFetcher{records: fourTags}
	_, err = NewRunner(f, Options{}, nil).RunTags(context.Background(), []string{"A/B", "C/D", "E/F"}, out)
	require.NoError(t, err)
	require.Equal(t, []string{"E/F"}, f.calls)

	rows, err := store.ReadSummaries(out)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "C/D", rows[1].Tag)
	require.Equal(t, 99, rows[1].TotalKudos)
	require.Equal(t, "E/F", rows[2].Tag)
}

func TestAbortPolicyStopsWithoutWriting(t *testing.T) {
	out := filepath.Join(t.TempDir(), "stats.csv")
	fetchErr := &fetch.Error{Tag: "C/D", Page: 1, StatusCode: 503}
	f := &fakeFetcher{records: fourTags, fail: map[string]error{"C/D": fetchErr}}

	report, err := NewRunner(f, Options{Policy: PolicyAbort}, nil).RunTags(context.Background(), []string{"A/B", "C/D", "E/F"}, out)
	require.Error(t, err)

	var tagErr *TagError
	require.True(t, errors.As(err, &tagErr))
	require.Equal(t, "C/D", tagErr.Tag)
	var fe *fetch.Error
	require.True(t, errors.As(err, &fe))
	require.Equal(t, 503, fe.StatusCode)

	require.Len(t, report.Completed, 1)
	require.Equal(t, []string{"A/B", "C/D"}, f.calls)

	done, err := store.ReadCompleted(out)
	require.NoError(t, err)
	require.True(t, done.Has("A/B"))
	require.False(t, done.Has("C/D"))
}

func TestSkipPolicyContinuesAndRetriesNextRun(t *testing.T) {
	out := filepath.Join(t.TempDir(), "stats.csv")
	f := &fakeFetcher{records: fourTags, fail: map[string]error{"C/D": errors.New("boom")}}

	report, err := NewRunner(f, Options{Policy: PolicySkip}, nil).RunTags(context.Background(), []string{"A/B", "C/D", "E/F"}, out)
	require.NoError(t, err)
	require.Len(t, report.Completed, 2)
	require.Len(t, report.Failed, 1)
	require.Equal(t, "C/D", report.Failed[0].Tag)

	done, err := store.ReadCompleted(out)
	require.NoError(t, err)
	require.False(t, done.Has("C/D"), "failed tag must not get a row")

	retry := &fakeFetcher{records: fourTags}
	_, err = NewRunner(retry, Options{Policy: PolicySkip}, nil).RunTags(context.Background(), []string{"A/B", "C/D", "E/F"}, out)
	require.NoError(t, err)
	require.Equal(t, []string{"C/D"}, retry.calls)
}

func TestEmptyTagGetsZeroRow(t *testing.T) {
	out := filepath.Join(t.TempDir(), "stats.csv")
	f := &fakeFetcher{records: map[string][]works.Record{}}

	_, err := NewRunner(f, Options{}, nil).RunTags(context.Background(), []string{"Nobody/Ever"}, out)
	require.NoError(t, err)

	rows, err := store.ReadSummaries(out)
	require.NoError(t, err)
	require.Equal(t, []aggregate.Summary{{Tag: "Nobody/Ever"}}, rows)
}

func TestDuplicateTagsProcessedOnce(t *testing.T) {
	out := filepath.Join(t.TempDir(), "stats.csv")
	f := &fakeFetcher{records: fourTags}

	report, err := NewRunner(f, Options{}, nil).RunTags(context.Background(), []string{"A/B", "A/B", "C/D"}, out)
	require.NoError(t, err)
	require.Equal(t, 2, report.Total)
	require.Equal(t, []string{"A/B", "C/D"}, f.calls)
}

func TestLockedOutputIsRefused(t *testing.T) {
	out := filepath.Join(t.TempDir(), "stats.csv")
	lock, err := store.AcquireLock(out, 0)
	require.NoError(t, err)
	defer lock.Release()

	f := &fakeFetcher{records: fourTags}
	_, err = NewRunner(f, Options{}, nil).RunTags(context.Background(), []string{"A/B"}, out)
	require.ErrorIs(t, err, store.ErrLocked)
	require.Empty(t, f.calls)
}

func TestCorruptOutputIsRefused(t *testing.T) {
	out := filepath.Join(t.TempDir(), "stats.csv")
	require.NoError(t, os.WriteFile(out, []byte("something,else\n"), 0o644))

	f := &fakeFetcher{records: fourTags}
	_, err := NewRunner(f, Options{}, nil).RunTags(context.Background(), []string{"A/B"}, out)
	require.ErrorIs(t, err, store.ErrCorrupt)
	require.Empty(t, f.calls)
}

func TestForeignOutputIsLeftUntouched(t *testing.T) {
	out := filepath.Join(t.TempDir(), "stats.csv")
	require.NoError(t, os.WriteFile(out, []byte("my,precious,data"), 0o644))

	f := &fakeFetcher{records: fourTags}
	_, err := NewRunner(f, Options{}, nil).RunTags(context.Background(), []string{"A/B"}, out)
	require.ErrorIs(t, err, store.ErrCorrupt)
	require.Empty(t, f.calls)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "my,precious,data", string(data))
}

func TestRunTagsCreatesOutputDirectory(t *testing.T) {
	out := filepath.Join(t.TempDir(), "snapshots", "stats.csv")

	f := &fakeFetcher{records: fourTags}
	report, err := NewRunner(f, Options{}, nil).RunTags(context.Background(), []string{"A/B"}, out)
	require.NoError(t, err)
	require.Len(t, report.Completed, 1)

	rows, err := store.ReadSummaries(out)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "A/B", rows[0].Tag)
}

type runLog struct {
	results  []Result
	started  int
	finished int
	lastErr  error
}

func (l *runLog) RecordResult(_ context.Context, r Result) error {
	l.results = append(l.results, r)
	return nil
}

func (l *runLog) StartRun(context.Context, string, string, int) error {
	l.started++
	return nil
}

func (l *runLog) FinishRun(_ context.Context, _ *Report, err error) error {
	l.finished++
	l.lastErr = err
	return nil
}

func TestRecordersSeeEveryOutcome(t *testing.T) {
	out := filepath.Join(t.TempDir(), "stats.csv")
	require.NoError(t, store.Append(out, aggregate.Summary{Tag: "A/B"}))

	log := &runLog{}
	failing := recorderFunc(func(context.Context, Result) error { return errors.New("db down") })
	f := &fakeFetcher{records: fourTags, fail: map[string]error{"E/F": errors.New("boom")}}

	_, err := NewRunner(f, Options{Policy: PolicySkip}, nil).
		WithRecorder(log, failing).
		RunTags(context.Background(), []string{"A/B", "C/D", "E/F"}, out)
	require.NoError(t, err, "recorder errors must not fail the run")

	require.Equal(t, 1, log.started)
	require.Equal(t, 1, log.finished)
	require.NoError(t, log.lastErr)
	require.Len(t, log.results, 3)
	require.Equal(t, OutcomeSkipped, log.results[0].Outcome)
	require.Equal(t, OutcomeCompleted, log.results[1].Outcome)
	require.NotNil(t, log.results[1].Summary)
	require.Equal(t, 1, log.results[1].Summary.TotalKudos)
	require.Equal(t, OutcomeFailed, log.results[2].Outcome)
	require.Error(t, log.results[2].Err)
	require.False(t, log.results[1].At.IsZero())
}

func TestScrapeDoesNotTouchDisk(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	f := &fakeFetcher{records: fourTags}
	report, err := NewRunner(f, Options{}, nil).Scrape(context.Background(), []string{"A/B", "G/H"})
	require.NoError(t, err)
	require.Len(t, report.Completed, 2)
	require.Equal(t, 7, report.Completed[1].TotalKudos)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	require.Equal(t, PolicyAbort, p)

	p, err = ParsePolicy("skip")
	require.NoError(t, err)
	require.Equal(t, PolicySkip, p)

	_, err = ParsePolicy("ignore")
	require.Error(t, err)
}
