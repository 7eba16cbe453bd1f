package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetGetDelete(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	val, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, c.Delete(ctx, "k"))
	_, found, _ = c.Get(ctx, "k")
	assert.False(t, found)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	now = now.Add(2 * time.Second)

	_, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCache_IncrWithExpiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := c.IncrWithExpiry(ctx, "ratelimit:x", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	now = now.Add(2 * time.Minute)
	n, err := c.IncrWithExpiry(ctx, "ratelimit:x", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryCache_Sets(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.AddToSet(ctx, "s", "b", "a"))
	require.NoError(t, c.AddToSet(ctx, "s", "a"))
	members, err := c.SetMembers(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, members)

	require.NoError(t, c.RemoveFromSet(ctx, "s", "a"))
	members, _ = c.SetMembers(ctx, "s")
	assert.Equal(t, []string{"b"}, members)

	members, _ = c.SetMembers(ctx, "missing")
	assert.Empty(t, members)
}

func TestMemoryCache_Publish(t *testing.T) {
	c := NewMemoryCache()
	require.NoError(t, c.Publish(context.Background(), "notifications:x", []byte("hi")))
	assert.Equal(t, [][]byte{[]byte("hi")}, c.Published("notifications:x"))
	assert.Empty(t, c.Published("notifications:y"))
}
