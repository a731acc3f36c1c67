package works

import (
	"strconv"
	"time"
)

// Record holds the metadata of one work as shown in a listing blurb.
type Record struct {
	ID          string
	Title       string
	Authors     []string
	Language    string
	Kudos       int
	Hits        int
	Bookmarks   int
	Comments    int
	Words       int
	Collections int
	Chapters    Chapters
	Posted      *time.Time // date only, UTC midnight
}

// Chapters is a work's chapter progress. A nil Total means the author has not
// declared a final chapter count ("?").
type Chapters struct {
	Current int
	Total   *int
}

// Complete reports whether the posted chapters reach the declared total.
func (c Chapters) Complete() bool {
	return c.Total != nil && c.Current >= *c.Total
}

func (c Chapters) String() string {
	total := "?"
	if c.Total != nil {
		total = strconv.Itoa(*c.Total)
	}
	return strconv.Itoa(c.Current) + "/" + total
}
