package util

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferOverwritesOldest(t *testing.T) {
	r := NewRingBuffer[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	assert.Equal(t, []int{3, 4, 5}, r.Snapshot())
	assert.Equal(t, []int{4, 5}, r.Last(2))
	assert.Equal(t, []int{3, 4, 5}, r.Last(10))
	assert.Equal(t, 3, r.Len())
}

func TestValidateProjectID(t *testing.T) {
	id, err := ValidateProjectID("  demo-1 ")
	require.NoError(t, err)
	assert.Equal(t, "demo-1", id)

	for _, bad := range []string{"", "a/b", "..", "has space"} {
		_, err := ValidateProjectID(bad)
		assert.ErrorIs(t, err, ErrInvalidProjectID, bad)
	}
}

func TestResolvePath(t *testing.T) {
	abs, _ := filepath.Abs("/tmp/x")
	assert.Equal(t, abs, ResolvePath("data", abs))
	assert.Equal(t, filepath.Join("data", "x.db"), ResolvePath("data", "x.db"))
}
