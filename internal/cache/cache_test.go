package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[string](2, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")

	_, ok := c.Get("a")
	assert.True(t, ok)

	c.Set("c", "3")
	_, ok = c.Get("b")
	assert.False(t, ok, "b was least recently used")
	assert.Equal(t, 2, c.Size())
}

func TestLRUCacheExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[int](10, time.Minute).WithClock(func() time.Time { return now })

	c.Set("x", 1)
	c.Set("y", 2)
	v, ok := c.Get("x")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("x")
	assert.False(t, ok)
	assert.Equal(t, 1, c.CleanExpired())
	assert.Equal(t, 0, c.Size())
}

func TestLRUCacheDeleteAndPurge(t *testing.T) {
	c := NewLRUCache[int](0, time.Minute)
	c.Set("a", 1)
	c.Delete("a")
	assert.Equal(t, 0, c.Size())

	c.Set("b", 2)
	c.Purge()
	_, ok := c.Get("b")
	assert.False(t, ok)
}

func TestManagerSweepAndStop(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[int](10, time.Second).WithClock(func() time.Time { return now })
	c.Set("a", 1)

	m := NewManager()
	m.Register("profiles", c)
	now = now.Add(time.Minute)
	assert.Equal(t, 1, m.Sweep())

	m.StartCleanup(time.Hour)
	m.Stop()
	m.Stop()
}
