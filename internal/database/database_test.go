package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/TobiSchelling/shipstats/internal/aggregate"
	"github.com/TobiSchelling/shipstats/internal/batch"
	"github.com/TobiSchelling/shipstats/internal/fetch"
	"github.com/TobiSchelling/shipstats/internal/works"
)

type staticFetcher struct{}

func (staticFetcher) Fetch(context.Context, string, int, fetch.DateRange) ([]works.Record, error) {
	return []works.Record{{Kudos: 1, Hits: 10}}, nil
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.StartRun(ctx, "run-1", "out.csv", 3); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	run, err := db.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run == nil || run.Status != "running" {
		t.Fatalf("expected running run, got %+v", run)
	}
	if run.Output == nil || *run.Output != "out.csv" {
		t.Errorf("expected output out.csv, got %v", run.Output)
	}

	report := &batch.Report{
		RunID:     "run-1",
		Total:     3,
		Completed: []aggregate.Summary{{Tag: "A/B"}},
		Skipped:   []string{"C/D"},
		Failed:    []batch.Failure{{Tag: "E/F", Err: errors.New("boom")}},
	}
	if err := db.FinishRun(ctx, report, nil); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	run, _ = db.GetRun("run-1")
	if run.Status != "succeeded" {
		t.Errorf("expected succeeded, got %q", run.Status)
	}
	if run.Completed != 1 || run.Skipped != 1 || run.Failed != 1 {
		t.Errorf("unexpected counts %+v", run)
	}
	if run.FinishedAt == nil {
		t.Error("expected finished_at to be set")
	}
}

func TestFinishRunStatus(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	tests := []struct {
		id   string
		err  error
		want string
	}{
		{"ok", nil, "succeeded"},
		{"bad", &batch.TagError{Tag: "A/B", Err: errors.New("503")}, "failed"},
		{"cancelled", context.Canceled, "interrupted"},
	}
	for _, tt := range tests {
		if err := db.StartRun(ctx, tt.id, "", 1); err != nil {
			t.Fatalf("StartRun: %v", err)
		}
		if err := db.FinishRun(ctx, &batch.Report{RunID: tt.id}, tt.err); err != nil {
			t.Fatalf("FinishRun: %v", err)
		}
		run, _ := db.GetRun(tt.id)
		if run.Status != tt.want {
			t.Errorf("%s: expected status %q, got %q", tt.id, tt.want, run.Status)
		}
		if (tt.err != nil) != (run.Error != nil) {
			t.Errorf("%s: error text mismatch: %v", tt.id, run.Error)
		}
	}
}

func TestGetRunUnknown(t *testing.T) {
	db := openTestDB(t)
	run, err := db.GetRun("nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run != nil {
		t.Error("expected nil for unknown run")
	}
}

func TestRecordResults(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	db.StartRun(ctx, "run-1", "out.csv", 2)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	summary := &aggregate.Summary{
		Tag: "X/Y", TotalKudos: 15, TotalHits: 100, TotalWords: 2500, WorkCount: 2,
		TotalChapters: 4, UniqueAuthors: 2,
	}
	if err := db.RecordResult(ctx, batch.Result{RunID: "run-1", Tag: "X/Y", Outcome: batch.OutcomeCompleted, Summary: summary, At: at}); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}
	if err := db.RecordResult(ctx, batch.Result{RunID: "run-1", Tag: "A/B", Outcome: batch.OutcomeFailed, Err: errors.New("429"), At: at}); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}

	results, err := db.GetRunResults("run-1")
	if err != nil {
		t.Fatalf("GetRunResults: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	got := results[0]
	if got.Tag != "X/Y" || got.TotalKudos != 15 || got.WorkCount != 2 || got.UniqueAuthors != 2 {
		t.Errorf("unexpected completed result %+v", got)
	}
	if got.RecordedAt != "2026-03-01T12:00:00Z" {
		t.Errorf("unexpected recorded_at %q", got.RecordedAt)
	}
	if results[1].Error == nil || *results[1].Error != "429" {
		t.Errorf("expected failure text, got %v", results[1].Error)
	}

	recent, _ := db.GetRecentTagResults(1)
	if len(recent) != 1 || recent[0].Tag != "A/B" {
		t.Errorf("expected newest result first, got %+v", recent)
	}
}

func TestRecordResultRequiresRun(t *testing.T) {
	db := openTestDB(t)
	err := db.RecordResult(context.Background(), batch.Result{RunID: "missing", Tag: "A/B", Outcome: batch.OutcomeCompleted})
	if err == nil {
		t.Fatal("expected foreign key error for unknown run")
	}
}

func TestTagHistoryAndStats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i, id := range []string{"r1", "r2"} {
		db.StartRun(ctx, id, "out.csv", 1)
		db.RecordResult(ctx, batch.Result{
			RunID: id, Tag: "X/Y", Outcome: batch.OutcomeCompleted,
			Summary: &aggregate.Summary{Tag: "X/Y", TotalKudos: 10 * (i + 1)},
		})
	}
	db.RecordResult(ctx, batch.Result{RunID: "r2", Tag: "A/B", Outcome: batch.OutcomeFailed, Err: errors.New("x")})

	history, err := db.GetTagHistory("X/Y")
	if err != nil {
		t.Fatalf("GetTagHistory: %v", err)
	}
	if len(history) != 2 || history[0].TotalKudos != 10 || history[1].TotalKudos != 20 {
		t.Errorf("unexpected history %+v", history)
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Runs != 2 {
		t.Errorf("expected 2 runs, got %d", stats.Runs)
	}
	if stats.TagsCompleted != 2 || stats.TagsFailed != 1 || stats.DistinctTags != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.LastRunAt == nil {
		t.Error("expected last run time")
	}

	runs, err := db.GetRecentRuns(10)
	if err != nil {
		t.Fatalf("GetRecentRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("expected 2 runs, got %d", len(runs))
	}
}

func TestRunnerRecordsIntoDatabase(t *testing.T) {
	db := openTestDB(t)
	out := filepath.Join(t.TempDir(), "stats.csv")

	runner := batch.NewRunner(staticFetcher{}, batch.Options{}, nil).WithRecorder(db)
	report, err := runner.RunTags(context.Background(), []string{"A/B", "C/D"}, out)
	if err != nil {
		t.Fatalf("RunTags: %v", err)
	}

	run, err := db.GetRun(report.RunID)
	if err != nil || run == nil {
		t.Fatalf("expected run row, got %v, %v", run, err)
	}
	if run.Status != "succeeded" || run.Completed != 2 {
		t.Errorf("unexpected run %+v", run)
	}
	results, _ := db.GetRunResults(report.RunID)
	if len(results) != 2 {
		t.Errorf("expected 2 results, got %d", len(results))
	}
}
