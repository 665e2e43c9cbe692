package models

import (
	"errors"
	"strings"
)

const (
	MinScrolls     = 1
	MaxScrolls     = 10
	DefaultScrolls = 3
)

var ErrEmptyQuery = errors.New("missing q")

// QueryParams identifies one harvest. The struct is comparable and is used
// directly as the cache key, so no delimiter encoding is involved.
type QueryParams struct {
	Query       string
	ScrollCount int
	UseLogin    bool
}

// NewQueryParams trims the query, rejects a blank one and clamps the scroll
// count to [MinScrolls, MaxScrolls].
func NewQueryParams(query string, scrolls int, useLogin bool) (QueryParams, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return QueryParams{}, ErrEmptyQuery
	}
	return QueryParams{Query: q, ScrollCount: ClampScrolls(scrolls), UseLogin: useLogin}, nil
}

func ClampScrolls(n int) int {
	if n < MinScrolls {
		return MinScrolls
	}
	if n > MaxScrolls {
		return MaxScrolls
	}
	return n
}

// Record is one pin card extracted from a results page.
type Record struct {
	PinID     string `json:"pinId"`
	SourceURL string `json:"url"`
	ImageURL  string `json:"image"`
	Title     string `json:"title"`
	Saves     int    `json:"saves"`
}

type SearchResult struct {
	Query            string   `json:"query"`
	LoadedCount      int      `json:"loadedPins"`
	DifficultyScore  int      `json:"keywordDifficulty"`
	IsLowCompetition bool     `json:"lowCompetition"`
	Sample           []Record `json:"sample"`
}
