// Package aggregate reduces per-work records into per-tag totals.
package aggregate

import "github.com/TobiSchelling/shipstats/internal/works"

// Summary holds the totals for one tag.
type Summary struct {
	Tag            string `json:"tag"`
	TotalKudos     int    `json:"total_kudos"`
	TotalHits      int    `json:"total_hits"`
	TotalBookmarks int    `json:"total_bookmarks"`
	TotalComments  int    `json:"total_comments"`
	TotalWords     int    `json:"total_words"`
	WorkCount      int    `json:"work_count"`

	// Not part of the output store schema.
	TotalChapters    int `json:"total_chapters"`
	TotalCollections int `json:"total_collections"`
	UniqueAuthors    int `json:"unique_authors"`
}

// Aggregate sums the metrics of records. It does no I/O and returns the same
// Summary for the same input.
func Aggregate(tag string, records []works.Record) Summary {
	s := Summary{Tag: tag, WorkCount: len(records)}
	authors := make(map[string]struct{})
	for _, r := range records {
		s.TotalKudos += r.Kudos
		s.TotalHits += r.Hits
		s.TotalBookmarks += r.Bookmarks
		s.TotalComments += r.Comments
		s.TotalWords += r.Words
		s.TotalChapters += r.Chapters.Current
		s.TotalCollections += r.Collections
		for _, a := range r.Authors {
			authors[a] = struct{}{}
		}
	}
	s.UniqueAuthors = len(authors)
	return s
}
