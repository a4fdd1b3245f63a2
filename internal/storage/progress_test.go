package storage

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgress_NonDecreasingAcrossReplays(t *testing.T) {
	var seen []float64

	p := NewProgress(10, func(f float64) { seen = append(seen, f) })

	// First attempt reads everything, the retry reads it again from zero.
	for range 2 {
		_, err := io.Copy(io.Discard, p.Reader(io.LimitReader(strings.NewReader("0123456789"), 10)))
		require.NoError(t, err)
	}

	p.Done()

	require.NotEmpty(t, seen)
	assert.InDelta(t, 1.0, seen[len(seen)-1], 1e-9)

	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}

	for _, f := range seen[:len(seen)-1] {
		assert.LessOrEqual(t, f, inFlightCeiling)
	}
}

func TestProgress_ZeroTotal(t *testing.T) {
	var seen []float64

	p := NewProgress(0, func(f float64) { seen = append(seen, f) })
	_, _ = io.Copy(io.Discard, p.Reader(strings.NewReader("")))
	p.Done()
	p.Done()

	assert.Equal(t, []float64{1}, seen)
}
