// Package report renders tag summaries for people and for other programs.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/shipstats/internal/aggregate"
)

// Format is an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ParseFormat validates a format name. Empty means table.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatMarkdown, FormatHTML:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown format %q (want table, json, markdown or html)", s)
}

// Options controls rendering.
type Options struct {
	Title string
	// Extended adds the chapter, collection and author columns, which are
	// only known for freshly scraped tags.
	Extended bool
	// Totals appends a row summing every column.
	Totals bool
}

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Render writes summaries to w in format f.
func Render(w io.Writer, f Format, summaries []aggregate.Summary, opts Options) error {
	switch f {
	case FormatTable, "":
		return Table(w, summaries, opts)
	case FormatJSON:
		return JSON(w, summaries)
	case FormatMarkdown:
		_, err := io.WriteString(w, Markdown(summaries, opts))
		return err
	case FormatHTML:
		return HTML(w, summaries, opts)
	}
	return fmt.Errorf("unknown format %q", f)
}

type column struct {
	header string
	value  func(aggregate.Summary) int
}

func columns(extended bool) []column {
	cols := []column{
		{"Kudos", func(s aggregate.Summary) int { return s.TotalKudos }},
		{"Hits", func(s aggregate.Summary) int { return s.TotalHits }},
		{"Bookmarks", func(s aggregate.Summary) int { return s.TotalBookmarks }},
		{"Comments", func(s aggregate.Summary) int { return s.TotalComments }},
		{"Words", func(s aggregate.Summary) int { return s.TotalWords }},
		{"Works", func(s aggregate.Summary) int { return s.WorkCount }},
	}
	if extended {
		cols = append(cols,
			column{"Chapters", func(s aggregate.Summary) int { return s.TotalChapters }},
			column{"Collections", func(s aggregate.Summary) int { return s.TotalCollections }},
			column{"Authors", func(s aggregate.Summary) int { return s.UniqueAuthors }},
		)
	}
	return cols
}

// Table writes a boxed, human-readable table.
func Table(w io.Writer, summaries []aggregate.Summary, opts Options) error {
	cols := columns(opts.Extended)

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	if opts.Title != "" {
		t.SetTitle(opts.Title)
	}

	header := table.Row{"Tag"}
	configs := make([]table.ColumnConfig, 0, len(cols))
	for i, c := range cols {
		header = append(header, c.header)
		configs = append(configs, table.ColumnConfig{Number: i + 2, Align: text.AlignRight, AlignFooter: text.AlignRight})
	}
	t.AppendHeader(header)
	t.SetColumnConfigs(configs)

	for _, s := range summaries {
		row := table.Row{s.Tag}
		for _, c := range cols {
			row = append(row, humanize.Comma(int64(c.value(s))))
		}
		t.AppendRow(row)
	}
	if opts.Totals && len(summaries) > 1 {
		total := Totals(summaries)
		footer := table.Row{fmt.Sprintf("%d tags", len(summaries))}
		for _, c := range cols {
			footer = append(footer, humanize.Comma(int64(c.value(total))))
		}
		t.AppendFooter(footer)
	}

	_, err := io.WriteString(w, t.Render()+"\n")
	return err
}

// JSON writes summaries as an indented JSON array.
func JSON(w io.Writer, summaries []aggregate.Summary) error {
	if summaries == nil {
		summaries = []aggregate.Summary{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summaries)
}

// Markdown returns summaries as a GitHub-style table.
func Markdown(summaries []aggregate.Summary, opts Options) string {
	cols := columns(opts.Extended)

	var b strings.Builder
	if opts.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", opts.Title)
	}
	b.WriteString("| Tag |")
	for _, c := range cols {
		b.WriteString(" " + c.header + " |")
	}
	b.WriteString("\n| --- |")
	for range cols {
		b.WriteString(" ---: |")
	}
	b.WriteString("\n")

	writeRow := func(label string, s aggregate.Summary) {
		b.WriteString("| " + label + " |")
		for _, c := range cols {
			b.WriteString(" " + strconv.Itoa(c.value(s)) + " |")
		}
		b.WriteString("\n")
	}
	for _, s := range summaries {
		writeRow(escapeCell(s.Tag), s)
	}
	if opts.Totals && len(summaries) > 1 {
		writeRow("**Total**", Totals(summaries))
	}
	return b.String()
}

// HTML writes a standalone HTML page built from the Markdown rendering.
func HTML(w io.Writer, summaries []aggregate.Summary, opts Options) error {
	body, err := RenderMarkdown(Markdown(summaries, opts))
	if err != nil {
		return err
	}
	title := opts.Title
	if title == "" {
		title = "shipstats"
	}
	_, err = fmt.Fprintf(w, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>%s</title></head>\n<body>\n%s</body></html>\n",
		html.EscapeString(title), body)
	return err
}

// RenderMarkdown converts Markdown to an HTML fragment.
func RenderMarkdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.String(), nil
}

// escapeCell keeps tag text from breaking out of a table cell or being read
// as markup.
func escapeCell(s string) string {
	return markdownEscaper.Replace(s)
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"|", `\|`,
	"*", `\*`,
	"_", `\_`,
	"`", "\\`",
	"<", "&lt;",
	">", "&gt;",
)

// Totals sums every column of summaries.
func Totals(summaries []aggregate.Summary) aggregate.Summary {
	t := aggregate.Summary{Tag: "Total"}
	for _, s := range summaries {
		t.TotalKudos += s.TotalKudos
		t.TotalHits += s.TotalHits
		t.TotalBookmarks += s.TotalBookmarks
		t.TotalComments += s.TotalComments
		t.TotalWords += s.TotalWords
		t.WorkCount += s.WorkCount
		t.TotalChapters += s.TotalChapters
		t.TotalCollections += s.TotalCollections
		t.UniqueAuthors += s.UniqueAuthors
	}
	return t
}

var sortKeys = map[string]func(aggregate.Summary) int{
	"kudos":     func(s aggregate.Summary) int { return s.TotalKudos },
	"hits":      func(s aggregate.Summary) int { return s.TotalHits },
	"bookmarks": func(s aggregate.Summary) int { return s.TotalBookmarks },
	"comments":  func(s aggregate.Summary) int { return s.TotalComments },
	"words":     func(s aggregate.Summary) int { return s.TotalWords },
	"works":     func(s aggregate.Summary) int { return s.WorkCount },
}

// Sort returns a copy of summaries ordered by key: "tag" sorts
// alphabetically, metric names sort descending, "" keeps file order.
func Sort(summaries []aggregate.Summary, key string) ([]aggregate.Summary, error) {
	out := append([]aggregate.Summary(nil), summaries...)
	switch key {
	case "":
		return out, nil
	case "tag":
		sort.SliceStable(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
		return out, nil
	}
	value, ok := sortKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown sort key %q", key)
	}
	sort.SliceStable(out, func(i, j int) bool { return value(out[i]) > value(out[j]) })
	return out, nil
}
