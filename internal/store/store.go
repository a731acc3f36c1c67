// Package store is the append-only CSV output file of a batch run. Each
// completed tag is one row, and the set of rows doubles as the progress
// ledger used to resume an interrupted run.
package store

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/TobiSchelling/shipstats/internal/aggregate"
)

// Header is the fixed column order of the output file.
var Header = []string{
	"tag",
	"total_kudos",
	"total_hits",
	"total_bookmarks",
	"total_comments",
	"total_words",
	"work_count",
}

// ErrCorrupt marks an output file whose contents cannot be trusted for resume.
var ErrCorrupt = errors.New("output file is corrupt")

const bom = "\ufeff"

// Completed is the set of tags already present in an output file.
type Completed map[string]struct{}

// Has reports whether tag has a row.
func (c Completed) Has(tag string) bool {
	_, ok := c[tag]
	return ok
}

// Add marks tag as done.
func (c Completed) Add(tag string) {
	c[tag] = struct{}{}
}

// ReadCompleted returns the tags already written to path. A missing or
// empty file yields an empty set.
func ReadCompleted(path string) (Completed, error) {
	done := Completed{}
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		done.Add(row[0])
	}
	return done, nil
}

// ReadSummaries parses every row of path back into summaries, in file order.
func ReadSummaries(path string) ([]aggregate.Summary, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}
	out := make([]aggregate.Summary, 0, len(rows))
	for i, row := range rows {
		s, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("%w: %s row %d: %v", ErrCorrupt, path, i+2, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// readRows returns the data rows of path after checking the header.
func readRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening output: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(Header)
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], bom)
	}
	if !equalHeader(header) {
		return nil, fmt.Errorf("%w: %s: unexpected header %q", ErrCorrupt, path, strings.Join(header, ","))
	}

	var rows [][]string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func equalHeader(got []string) bool {
	if len(got) != len(Header) {
		return false
	}
	for i := range Header {
		if strings.TrimSpace(got[i]) != Header[i] {
			return false
		}
	}
	return true
}

// Append writes one summary row to path, creating the file and header first
// when needed. The row is written with a single write and synced before
// Append returns, so a reader never sees a partial row from a finished call.
func Append(path string, s aggregate.Summary) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening output: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat output: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if info.Size() == 0 {
		if err := w.Write(Header); err != nil {
			return err
		}
	}
	if err := w.Write(formatRow(s)); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encoding row: %w", err)
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing row for %q: %w", s.Tag, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing output: %w", err)
	}
	return nil
}

// Repair prepares path for appending after a crash. A trailing line that is
// a complete row missing only its newline gets the newline; anything else
// after the last newline is a torn write and is cut off. It returns the
// number of bytes dropped. A file whose header is not ours is left untouched
// and reported as ErrCorrupt.
func Repair(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading output: %w", err)
	}
	if len(data) == 0 {
		return 0, nil
	}

	first := bytes.IndexByte(data, '\n')
	if first < 0 {
		// A torn first write leaves a prefix of the header line and nothing else.
		if !strings.HasPrefix(headerLine, strings.TrimPrefix(string(data), bom)) {
			return 0, fmt.Errorf("%w: %s: unexpected header %q", ErrCorrupt, path, data)
		}
		return truncate(path, data, 0)
	}
	if !isHeaderLine(data[:first]) {
		return 0, fmt.Errorf("%w: %s: unexpected header %q", ErrCorrupt, path, data[:first])
	}
	if data[len(data)-1] == '\n' {
		return 0, nil
	}

	keep := bytes.LastIndexByte(data, '\n') + 1
	if isCompleteRow(data[keep:]) {
		return 0, terminate(path)
	}
	return truncate(path, data, keep)
}

var headerLine = strings.Join(Header, ",") + "\n"

func isHeaderLine(line []byte) bool {
	r := csv.NewReader(bytes.NewReader(bytes.TrimSuffix(line, []byte("\r"))))
	header, err := r.Read()
	if err != nil || len(header) == 0 {
		return false
	}
	header[0] = strings.TrimPrefix(header[0], bom)
	return equalHeader(header)
}

func isCompleteRow(line []byte) bool {
	r := csv.NewReader(bytes.NewReader(line))
	r.FieldsPerRecord = len(Header)
	row, err := r.Read()
	if err != nil {
		return false
	}
	_, err = parseRow(row)
	return err == nil
}

func truncate(path string, data []byte, keep int) (int64, error) {
	if err := os.Truncate(path, int64(keep)); err != nil {
		return 0, fmt.Errorf("truncating output: %w", err)
	}
	return int64(len(data) - keep), nil
}

// terminate appends the missing newline after a complete last row.
func terminate(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening output: %w", err)
	}
	defer f.Close()
	if _, err := f.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("terminating last row: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing output: %w", err)
	}
	return nil
}

func formatRow(s aggregate.Summary) []string {
	return []string{
		s.Tag,
		strconv.Itoa(s.TotalKudos),
		strconv.Itoa(s.TotalHits),
		strconv.Itoa(s.TotalBookmarks),
		strconv.Itoa(s.TotalComments),
		strconv.Itoa(s.TotalWords),
		strconv.Itoa(s.WorkCount),
	}
}

func parseRow(row []string) (aggregate.Summary, error) {
	nums := make([]int, len(row)-1)
	for i, field := range row[1:] {
		n, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return aggregate.Summary{}, fmt.Errorf("column %s: %w", Header[i+1], err)
		}
		nums[i] = n
	}
	return aggregate.Summary{
		Tag:            row[0],
		TotalKudos:     nums[0],
		TotalHits:      nums[1],
		TotalBookmarks: nums[2],
		TotalComments:  nums[3],
		TotalWords:     nums[4],
		WorkCount:      nums[5],
	}, nil
}
