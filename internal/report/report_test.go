package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/shipstats/internal/aggregate"
)

var sample = []aggregate.Summary{
	{Tag: "X/Y", TotalKudos: 15, TotalHits: 100, TotalWords: 2500, WorkCount: 2},
	{Tag: "A & B|C", TotalKudos: 1200, TotalHits: 40000, TotalBookmarks: 7, TotalComments: 3, TotalWords: 1234567, WorkCount: 20},
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Table(&buf, sample, Options{Totals: true}))
	out := buf.String()

	require.Contains(t, out, "TAG")
	require.Contains(t, out, "X/Y")
	require.Contains(t, out, "1,234,567")
	require.Contains(t, out, "40,000")
	require.Contains(t, strings.ToLower(out), "2 tags")
	require.Contains(t, out, "1,215") // kudos total
	require.NotContains(t, out, "AUTHORS")
}

func TestTableExtended(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Table(&buf, sample[:1], Options{Extended: true, Title: "Scrape"}))
	require.Contains(t, buf.String(), "AUTHORS")
	require.Contains(t, buf.String(), "Scrape")
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON(&buf, sample[:1]))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, "X/Y", got[0]["tag"])
	require.EqualValues(t, 15, got[0]["total_kudos"])
	require.EqualValues(t, 2, got[0]["work_count"])

	buf.Reset()
	require.NoError(t, JSON(&buf, nil))
	require.Equal(t, "[]\n", buf.String())
}

func TestMarkdown(t *testing.T) {
	got := Markdown(sample, Options{Title: "Stats", Totals: true})
	want := "# Stats\n\n" +
		"| Tag | Kudos | Hits | Bookmarks | Comments | Words | Works |\n" +
		"| --- | ---: | ---: | ---: | ---: | ---: | ---: |\n" +
		"| X/Y | 15 | 100 | 0 | 0 | 2500 | 2 |\n" +
		"| A & B\\|C | 1200 | 40000 | 7 | 3 | 1234567 | 20 |\n" +
		"| **Total** | 1215 | 40100 | 7 | 3 | 1237067 | 22 |\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Markdown mismatch (-want +got):\n%s", diff)
	}
}

func TestHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, HTML(&buf, sample, Options{Title: "Ships <3"}))
	out := buf.String()

	require.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	require.Contains(t, out, "<title>Ships &lt;3</title>")
	require.Contains(t, out, "<table>")
	require.Contains(t, out, "<td>X/Y</td>")
	require.Contains(t, out, "A &amp; B|C")
}

func TestSort(t *testing.T) {
	sorted, err := Sort(sample, "kudos")
	require.NoError(t, err)
	require.Equal(t, "A & B|C", sorted[0].Tag)
	require.Equal(t, "X/Y", sample[0].Tag, "input must not be reordered")

	sorted, err = Sort(sample, "tag")
	require.NoError(t, err)
	require.Equal(t, "A & B|C", sorted[0].Tag)

	sorted, err = Sort(sample, "")
	require.NoError(t, err)
	require.Equal(t, sample, sorted)

	_, err = Sort(sample, "popularity")
	require.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"":         FormatTable,
		"JSON":     FormatJSON,
		"md":       FormatMarkdown,
		"markdown": FormatMarkdown,
		"html":     FormatHTML,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseFormat("xml")
	require.Error(t, err)
}

func TestRenderDispatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, FormatMarkdown, sample[:1], Options{}))
	require.True(t, strings.HasPrefix(buf.String(), "| Tag |"))
}
