package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQueryParams(t *testing.T) {
	p, err := NewQueryParams("  ceramic mugs ", 2, true)
	require.NoError(t, err)
	assert.Equal(t, QueryParams{Query: "ceramic mugs", ScrollCount: 2, UseLogin: true}, p)

	_, err = NewQueryParams("   ", 3, false)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestClampScrolls(t *testing.T) {
	for in, want := range map[int]int{-4: 1, 0: 1, 1: 1, 7: 7, 10: 10, 15: 10} {
		assert.Equal(t, want, ClampScrolls(in), "scrolls=%d", in)
	}
}

func TestQueryParamsKeyIsValueSensitive(t *testing.T) {
	a, _ := NewQueryParams("mugs|2", 3, false)
	b, _ := NewQueryParams("mugs", 2, false)
	assert.NotEqual(t, a, b)

	c, _ := NewQueryParams("mugs", 2, true)
	assert.NotEqual(t, b, c)
}
