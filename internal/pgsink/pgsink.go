// Package pgsink mirrors completed tag summaries into Postgres so they can be
// queried alongside other data. The CSV output file stays authoritative.
package pgsink

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TobiSchelling/shipstats/internal/batch"
)

// Sink writes one row per completed tag per run.
type Sink struct {
	pool   *pgxpool.Pool
	table  string
	insert string
}

// Connect opens a pool for dsn and makes sure the summaries table exists in
// schema.
func Connect(ctx context.Context, dsn, schema string) (*Sink, error) {
	conf, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	conf.MaxConns = 2
	conf.MinConns = 0
	conf.MaxConnIdleTime = 5 * time.Minute
	conf.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := newSink(pool, schema)
	if err := s.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func newSink(pool *pgxpool.Pool, schema string) *Sink {
	if schema == "" {
		schema = "public"
	}
	table := pgx.Identifier{schema, "tag_summaries"}.Sanitize()
	return &Sink{
		pool:   pool,
		table:  table,
		insert: insertSQL(table),
	}
}

func createSQL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
    run_id          text        NOT NULL,
    tag             text        NOT NULL,
    total_kudos     bigint      NOT NULL,
    total_hits      bigint      NOT NULL,
    total_bookmarks bigint      NOT NULL,
    total_comments  bigint      NOT NULL,
    total_words     bigint      NOT NULL,
    work_count      integer     NOT NULL,
    recorded_at     timestamptz NOT NULL,
    PRIMARY KEY (run_id, tag)
)`
}

func insertSQL(table string) string {
	return `INSERT INTO ` + table + ` (
    run_id, tag, total_kudos, total_hits, total_bookmarks, total_comments, total_words, work_count, recorded_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (run_id, tag) DO NOTHING`
}

func (s *Sink) ensureTable(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createSQL(s.table)); err != nil {
		return fmt.Errorf("creating %s: %w", s.table, err)
	}
	return nil
}

// RecordResult mirrors completed tags and ignores every other outcome.
func (s *Sink) RecordResult(ctx context.Context, r batch.Result) error {
	if r.Outcome != batch.OutcomeCompleted || r.Summary == nil {
		return nil
	}
	at := r.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	sum := r.Summary
	_, err := s.pool.Exec(ctx, s.insert,
		r.RunID, sum.Tag,
		sum.TotalKudos, sum.TotalHits, sum.TotalBookmarks, sum.TotalComments, sum.TotalWords,
		sum.WorkCount, at,
	)
	if err != nil {
		return fmt.Errorf("mirroring %q: %w", sum.Tag, err)
	}
	return nil
}

// Count returns the number of mirrored rows for a run.
func (s *Sink) Count(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM `+s.table+` WHERE run_id = $1`, runID).Scan(&n)
	return n, err
}

// Close closes the pool.
func (s *Sink) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

var _ batch.Recorder = (*Sink)(nil)
