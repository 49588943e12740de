package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_GetSet(t *testing.T) {
	c := NewLRU[string, int](10, time.Minute)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	c.Set("a", 2)
	v, _ = c.Get("a")
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}

func TestLRU_TTLExpiry(t *testing.T) {
	c := NewLRU[string, int](10, time.Minute)
	c.SetWithTTL("a", 1, 20*time.Millisecond)

	_, ok := c.Get("a")
	assert.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	_, ok = c.Get("a")
	assert.False(t, ok, "expired entry must not be returned")
}

func TestLRU_EvictsOldest(t *testing.T) {
	c := NewLRU[string, int](3, time.Minute)
	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}

	// Touch k0 so k1 becomes the eviction candidate.
	_, ok := c.Get("k0")
	require.True(t, ok)

	c.Set("k3", 3)
	assert.Equal(t, 3, c.Len())

	_, ok = c.Get("k1")
	assert.False(t, ok, "least recently used entry evicted")
	_, ok = c.Get("k0")
	assert.True(t, ok)
}

func TestLRU_RemoveAndClear(t *testing.T) {
	c := NewLRU[string, int](10, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("b")
	assert.False(t, ok)
}
