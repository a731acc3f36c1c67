package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/TobiSchelling/shipstats/internal/batch"
)

const timeLayout = "2006-01-02T15:04:05Z"

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

// StartRun records the start of a run.
func (db *DB) StartRun(ctx context.Context, runID, output string, total int) error {
	var out *string
	if output != "" {
		out = &output
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO runs (id, output, total, started_at) VALUES (?, ?, ?, ?)`,
		runID, out, total, now(),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// FinishRun stores a run's final counts and status.
func (db *DB) FinishRun(ctx context.Context, report *batch.Report, runErr error) error {
	status := "succeeded"
	var errText *string
	if runErr != nil {
		status = "failed"
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			status = "interrupted"
		}
		s := runErr.Error()
		errText = &s
	}
	_, err := db.conn.ExecContext(ctx,
		`UPDATE runs SET completed = ?, skipped = ?, failed = ?, status = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		len(report.Completed), len(report.Skipped), len(report.Failed), status, errText, now(), report.RunID,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	return nil
}

// RecordResult stores one tag outcome.
func (db *DB) RecordResult(ctx context.Context, r batch.Result) error {
	var errText *string
	if r.Err != nil {
		s := r.Err.Error()
		errText = &s
	}
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}

	var kudos, hits, bookmarks, comments, words, count, chapters, collections, authors int
	if s := r.Summary; s != nil {
		kudos, hits, bookmarks, comments, words, count = s.TotalKudos, s.TotalHits, s.TotalBookmarks, s.TotalComments, s.TotalWords, s.WorkCount
		chapters, collections, authors = s.TotalChapters, s.TotalCollections, s.UniqueAuthors
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO tag_results
		(run_id, tag, outcome, total_kudos, total_hits, total_bookmarks, total_comments, total_words,
		 work_count, total_chapters, total_collections, unique_authors, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Tag, string(r.Outcome), kudos, hits, bookmarks, comments, words,
		count, chapters, collections, authors, errText, at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting result for %q: %w", r.Tag, err)
	}
	return nil
}

// GetRun returns a run by id, or nil when unknown.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.conn.QueryRow(
		`SELECT id, output, total, completed, skipped, failed, status, error, started_at, finished_at
		FROM runs WHERE id = ?`, id,
	)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// GetRecentRuns returns the latest runs, newest first.
func (db *DB) GetRecentRuns(limit int) ([]Run, error) {
	rows, err := db.conn.Query(
		`SELECT id, output, total, completed, skipped, failed, status, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRecentTagResults returns the latest tag outcomes, newest first.
func (db *DB) GetRecentTagResults(limit int) ([]TagResult, error) {
	return db.queryTagResults(
		`SELECT `+tagResultColumns+` FROM tag_results ORDER BY id DESC LIMIT ?`, limit,
	)
}

// GetTagHistory returns every completed result for tag, oldest first.
func (db *DB) GetTagHistory(tag string) ([]TagResult, error) {
	return db.queryTagResults(
		`SELECT `+tagResultColumns+` FROM tag_results
		WHERE tag = ? AND outcome = 'completed' ORDER BY id`, tag,
	)
}

// GetRunResults returns the tag outcomes of one run in processing order.
func (db *DB) GetRunResults(runID string) ([]TagResult, error) {
	return db.queryTagResults(
		`SELECT `+tagResultColumns+` FROM tag_results WHERE run_id = ? ORDER BY id`, runID,
	)
}

// GetStats returns aggregate counts over the whole history.
func (db *DB) GetStats() (*Stats, error) {
	var s Stats
	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM runs", &s.Runs},
		{"SELECT COUNT(*) FROM tag_results WHERE outcome = 'completed'", &s.TagsCompleted},
		{"SELECT COUNT(*) FROM tag_results WHERE outcome = 'failed'", &s.TagsFailed},
		{"SELECT COUNT(DISTINCT tag) FROM tag_results WHERE outcome = 'completed'", &s.DistinctTags},
	}
	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}
	if err := db.conn.QueryRow("SELECT MAX(started_at) FROM runs").Scan(&s.LastRunAt); err != nil {
		return nil, err
	}
	return &s, nil
}

const tagResultColumns = `id, run_id, tag, outcome, total_kudos, total_hits, total_bookmarks,
	total_comments, total_words, work_count, total_chapters, total_collections, unique_authors,
	error, recorded_at`

func (db *DB) queryTagResults(query string, args ...any) ([]TagResult, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []TagResult
	for rows.Next() {
		var r TagResult
		if err := rows.Scan(&r.ID, &r.RunID, &r.Tag, &r.Outcome, &r.TotalKudos, &r.TotalHits,
			&r.TotalBookmarks, &r.TotalComments, &r.TotalWords, &r.WorkCount, &r.TotalChapters,
			&r.TotalCollections, &r.UniqueAuthors, &r.Error, &r.RecordedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	if err := s.Scan(&r.ID, &r.Output, &r.Total, &r.Completed, &r.Skipped, &r.Failed,
		&r.Status, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

var _ batch.RunRecorder = (*DB)(nil)
