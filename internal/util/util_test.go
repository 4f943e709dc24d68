package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLocalID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewLocalID()
		assert.True(t, strings.HasPrefix(id, IDPrefix), id)
		assert.Len(t, id, len(IDPrefix)+7)
		assert.Equal(t, strings.ToUpper(id), id)
		assert.NotContains(t, id[len(IDPrefix):], "-")
		seen[id] = true
	}
	assert.Greater(t, len(seen), 95)
}

func TestFormatStats(t *testing.T) {
	prev := snapshot{signalsSent: 1, chatRecv: 2}
	cur := snapshot{signalsSent: 4, signalsRecv: 2, fallbacks: 1, chatSent: 3, chatRecv: 7}

	assert.Equal(t, "Signal:  3↑  2↓ | Chat:  3↑  5↓ | Fallback:  1", formatStats(prev, cur))
}
