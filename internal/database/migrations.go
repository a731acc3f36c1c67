package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    output TEXT,
    total INTEGER DEFAULT 0,
    completed INTEGER DEFAULT 0,
    skipped INTEGER DEFAULT 0,
    failed INTEGER DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'running'
        CHECK(status IN ('running', 'succeeded', 'failed', 'interrupted')),
    error TEXT,
    started_at TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
    finished_at TEXT
);

CREATE TABLE IF NOT EXISTS tag_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    tag TEXT NOT NULL,
    outcome TEXT NOT NULL CHECK(outcome IN ('completed', 'skipped', 'failed')),
    total_kudos INTEGER DEFAULT 0,
    total_hits INTEGER DEFAULT 0,
    total_bookmarks INTEGER DEFAULT 0,
    total_comments INTEGER DEFAULT 0,
    total_words INTEGER DEFAULT 0,
    work_count INTEGER DEFAULT 0,
    error TEXT,
    recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tag_results_run ON tag_results(run_id);
CREATE INDEX IF NOT EXISTS idx_tag_results_tag ON tag_results(tag);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "chapter and author totals",
		Up: func(tx *sql.Tx) error {
			for _, col := range []string{"total_chapters", "total_collections", "unique_authors"} {
				exists, err := hasColumn(tx, "tag_results", col)
				if err != nil {
					return err
				}
				if exists {
					continue
				}
				if _, err := tx.Exec("ALTER TABLE tag_results ADD COLUMN " + col + " INTEGER DEFAULT 0"); err != nil {
					return err
				}
			}
			return nil
		},
	},
}

// hasColumn keeps ADD COLUMN migrations safe to re-run.
func hasColumn(tx *sql.Tx, table, column string) (bool, error) {
	var n int
	err := tx.QueryRow(
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column,
	).Scan(&n)
	return n > 0, err
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
