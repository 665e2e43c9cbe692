package ioformats

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// keywordColumns are the accepted CSV headers and NDJSON object fields.
var keywordColumns = []string{"keyword", "q", "query"}

// ReadKeywords reads search keywords from a CSV (header with "keyword", "q"
// or "query") or NDJSON file. If ext cannot be determined, tries CSV first
// then NDJSON.
func ReadKeywords(path string) ([]string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".csv":
		return readCSV(path)
	case ".ndjson", ".jsonl":
		return readNDJSON(path)
	default:
		if kws, err := readCSV(path); err == nil && len(kws) > 0 {
			return kws, nil
		}
		return readNDJSON(path)
	}
}

func isKeywordColumn(h string) bool {
	h = strings.ToLower(strings.TrimSpace(h))
	for _, c := range keywordColumns {
		if h == c {
			return true
		}
	}
	return false
}

func readCSV(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("empty csv")
	}
	col := -1
	for i, h := range rows[0] {
		if isKeywordColumn(h) {
			col = i
			break
		}
	}
	if col == -1 {
		return nil, errors.New("csv must contain a 'keyword' header column")
	}
	var out []string
	for _, row := range rows[1:] {
		if col < len(row) {
			kw := strings.TrimSpace(row[col])
			if kw != "" {
				out = append(out, kw)
			}
		}
	}
	return out, nil
}

func readNDJSON(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		// allow a raw keyword or {"keyword": "..."}
		if strings.HasPrefix(line, "{") {
			if kw, ok := keywordField(line); ok {
				out = append(out, kw)
				continue
			}
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("no keywords found in ndjson")
	}
	return out, nil
}

func keywordField(line string) (string, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		return "", false
	}
	for _, c := range keywordColumns {
		if s, ok := obj[c].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), true
		}
	}
	return "", false
}

// WriteNDJSON writes any JSON-marshalable items as NDJSON to w.
func WriteNDJSON[T any](w io.Writer, items []T) error {
	enc := json.NewEncoder(w)
	for _, it := range items {
		if err := enc.Encode(it); err != nil {
			return err
		}
	}
	return nil
}
