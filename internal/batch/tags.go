package batch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// TagColumn is the input column holding relationship tags.
const TagColumn = "relationship"

// ReadTags returns the tags listed in the relationship column of the CSV at
// path, in file order. Values are trimmed and blank rows skipped. Duplicates
// are kept; the runner processes each tag once.
func ReadTags(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening tag list: %w", err)
	}
	defer f.Close()
	return readTags(f, path)
}

func readTags(r io.Reader, name string) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: tag list is empty", name)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: reading header: %w", name, err)
	}
	col := -1
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if strings.EqualFold(h, TagColumn) {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("%s: no %q column in header", name, TagColumn)
	}

	var tags []string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if col >= len(row) {
			continue
		}
		if tag := strings.TrimSpace(row[col]); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags, nil
}

// unique drops repeated tags, keeping first occurrences in order.
func unique(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := tags[:0:0]
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
