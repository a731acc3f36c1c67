// Package works extracts per-work metadata from archive listing pages.
//
// Parsing is tolerant: every field is extracted on its own and falls back to
// its zero value when the markup is missing or malformed. Only the kudos
// counter is mandatory; a blurb without a readable kudos count is dropped.
package works

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
)

const (
	blurbSelector = "li.work.blurb.group"
	// Older and bookmark listings mark blurbs without the full class set.
	fallbackSelector = "li.work, li.bookmark"
	nextSelector     = "li.next a"
)

// listingDateLayout is the format of the date shown in a blurb header.
const listingDateLayout = "2 Jan 2006"

// Page is one parsed listing page.
type Page struct {
	Works []Record
	// HasNext is set when the page links to a following page.
	HasNext bool
}

// ParsePage reads one listing page: its works in page order and whether the
// archive offers a next page.
func ParsePage(r io.Reader) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Page{}, fmt.Errorf("reading listing page: %w", err)
	}
	return Page{
		Works:   ParseDocument(doc),
		HasNext: doc.Find(nextSelector).Length() > 0,
	}, nil
}

// Parse reads one listing page and returns its works in page order. A page
// without any work blurbs yields an empty slice and no error.
func Parse(r io.Reader) ([]Record, error) {
	page, err := ParsePage(r)
	if err != nil {
		return nil, err
	}
	return page.Works, nil
}

// ParseDocument extracts works from an already parsed listing page.
func ParseDocument(doc *goquery.Document) []Record {
	records := []Record{}
	blurbs := doc.Find(blurbSelector)
	if blurbs.Length() == 0 {
		blurbs = doc.Find(fallbackSelector)
	}
	blurbs.Each(func(_ int, blurb *goquery.Selection) {
		if rec, ok := parseBlurb(blurb); ok {
			records = append(records, rec)
		}
	})
	return records
}

func parseBlurb(blurb *goquery.Selection) (Record, bool) {
	kudos, ok := parseCount(stat(blurb, "kudos"))
	if !ok {
		return Record{}, false
	}

	rec := Record{
		ID:       strings.TrimPrefix(blurb.AttrOr("id", ""), "work_"),
		Title:    cleanText(blurb.Find(`h4.heading a[href^="/works/"]`).First().Text()),
		Language: stat(blurb, "language"),
		Kudos:    kudos,
		Chapters: parseChapters(stat(blurb, "chapters")),
		Posted:   parseDate(cleanText(blurb.Find("p.datetime").First().Text())),
	}
	rec.Hits, _ = parseCount(stat(blurb, "hits"))
	rec.Bookmarks, _ = parseCount(stat(blurb, "bookmarks"))
	rec.Comments, _ = parseCount(stat(blurb, "comments"))
	rec.Words, _ = parseCount(stat(blurb, "words"))
	rec.Collections, _ = parseCount(stat(blurb, "collections"))

	blurb.Find(`a[rel="author"]`).Each(func(_ int, a *goquery.Selection) {
		if name := cleanText(a.Text()); name != "" {
			rec.Authors = append(rec.Authors, name)
		}
	})
	return rec, true
}

// stat returns the text of the blurb's labelled counter, e.g. <dd class="hits">.
func stat(blurb *goquery.Selection, name string) string {
	return cleanText(blurb.Find("dd." + name).First().Text())
}

// parseCount reads a comma-formatted counter. The second result is false when
// the text holds no digits at all.
func parseCount(text string) (int, bool) {
	switch text {
	case "", "-", "—", "?":
		return 0, false
	}
	var digits strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseChapters(text string) Chapters {
	current, total, found := strings.Cut(strings.ReplaceAll(text, " ", ""), "/")
	if !found {
		n, _ := parseCount(current)
		return Chapters{Current: n}
	}
	var ch Chapters
	ch.Current, _ = parseCount(current)
	if n, ok := parseCount(total); ok {
		ch.Total = &n
	}
	return ch
}

func parseDate(text string) *time.Time {
	if text == "" {
		return nil
	}
	t, err := time.Parse(listingDateLayout, text)
	if err != nil {
		t, err = dateparse.ParseIn(text, time.UTC)
		if err != nil {
			return nil
		}
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
