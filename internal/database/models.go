package database

// Run is one batch or scrape invocation.
type Run struct {
	ID         string  `json:"id"`
	Output     *string `json:"output,omitempty"`
	Total      int     `json:"total"`
	Completed  int     `json:"completed"`
	Skipped    int     `json:"skipped"`
	Failed     int     `json:"failed"`
	Status     string  `json:"status"` // running, succeeded, failed or interrupted
	Error      *string `json:"error,omitempty"`
	StartedAt  string  `json:"started_at"`
	FinishedAt *string `json:"finished_at,omitempty"`
}

// TagResult is the outcome of one tag within a run.
type TagResult struct {
	ID               int64   `json:"id"`
	RunID            string  `json:"run_id"`
	Tag              string  `json:"tag"`
	Outcome          string  `json:"outcome"` // completed, skipped or failed
	TotalKudos       int     `json:"total_kudos"`
	TotalHits        int     `json:"total_hits"`
	TotalBookmarks   int     `json:"total_bookmarks"`
	TotalComments    int     `json:"total_comments"`
	TotalWords       int     `json:"total_words"`
	WorkCount        int     `json:"work_count"`
	TotalChapters    int     `json:"total_chapters"`
	TotalCollections int     `json:"total_collections"`
	UniqueAuthors    int     `json:"unique_authors"`
	Error            *string `json:"error,omitempty"`
	RecordedAt       string  `json:"recorded_at"`
}

// Stats contains aggregate database statistics.
type Stats struct {
	Runs          int
	TagsCompleted int
	TagsFailed    int
	DistinctTags  int
	LastRunAt     *string
}
