package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheVersionMatch(t *testing.T) {
	c := NewCache()
	ds := &Dataset{CommessaID: 1, Version: "v1"}

	c.Put(1, "v1", ds)

	got, ok := c.Get(1, "v1")
	require.True(t, ok)
	assert.Same(t, ds, got)

	// A moved version invalidates the entry.
	_, ok = c.Get(1, "v2")
	assert.False(t, ok)

	// Other commesse are unaffected.
	_, ok = c.Get(2, "v1")
	assert.False(t, ok)
}

func TestCacheTTLExpiry(t *testing.T) {
	c := NewCache()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Put(1, "v1", &Dataset{})

	now = now.Add(DefaultTTL)
	_, ok := c.Get(1, "v1")
	assert.True(t, ok, "entry at exactly the TTL is still served")

	now = now.Add(time.Second)
	_, ok = c.Get(1, "v1")
	assert.False(t, ok, "entry beyond the TTL expires even with a matching version")
}

func TestCacheInvalidate(t *testing.T) {
	c := NewCache()
	c.Put(1, "v1", &Dataset{})
	c.Invalidate(1)
	_, ok := c.Get(1, "v1")
	assert.False(t, ok)

	// Invalidating an absent entry is a no-op.
	c.Invalidate(99)
}

func TestCacheOverwrite(t *testing.T) {
	c := NewCache()
	c.Put(1, "v1", &Dataset{Version: "v1"})
	c.Put(1, "v2", &Dataset{Version: "v2"})

	got, ok := c.Get(1, "v2")
	require.True(t, ok)
	assert.Equal(t, "v2", got.Version)
	_, ok = c.Get(1, "v1")
	assert.False(t, ok)
}
