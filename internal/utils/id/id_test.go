package id

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRunIDShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		runID := NewRunID()
		require.Len(t, runID, 8)
		for _, r := range runID {
			require.Contains(t, "0123456789abcdef", string(r))
		}
		seen[runID] = true
	}
	// Not a uniqueness guarantee, but 100 collisions would mean a broken generator.
	require.Greater(t, len(seen), 90)
}
