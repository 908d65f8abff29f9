package ids

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsMonotonicAndValid(t *testing.T) {
	now := time.Now()
	prev := NewAt(now)
	for i := 0; i < 100; i++ {
		next := NewAt(now)
		require.Greater(t, next, prev)
		require.True(t, Valid(next), next)
		prev = next
	}
}

func TestValidRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "not-a-ulid-not-a-ulid-not-a-", "01ARZ3NDEKTSV4RRFFQ69G5FA!"} {
		assert.False(t, Valid(in), in)
	}
}
