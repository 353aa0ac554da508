package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetGetExpire(t *testing.T) {
	c := New[int](time.Minute)
	defer c.Stop()

	c.Set("a", 1)
	c.SetWithTTL("b", 2, 10*time.Millisecond)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("b")
	assert.False(t, ok)

	c.Invalidate("")
	assert.Equal(t, 1, c.Size())
}

func TestCache_InvalidatePrefix(t *testing.T) {
	c := New[string](time.Minute)
	defer c.Stop()

	c.Set("session:1", "a")
	c.Set("session:2", "b")
	c.Set("list", "c")

	c.Invalidate("session:")
	assert.Equal(t, 1, c.Size())
	_, ok := c.Get("list")
	assert.True(t, ok)

	c.Delete("list")
	assert.Equal(t, 0, c.Size())
}

func TestCache_GetOrLoad(t *testing.T) {
	c := New[int](time.Minute)
	defer c.Stop()
	ctx := context.Background()

	calls := 0
	load := func(context.Context) (int, error) {
		calls++
		return 7, nil
	}

	v, err := c.GetOrLoad(ctx, "k", load)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	v, err = c.GetOrLoad(ctx, "k", load)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	_, err = c.GetOrLoad(ctx, "bad", func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	_, ok := c.Get("bad")
	assert.False(t, ok)
}

func TestCache_StopIsIdempotent(t *testing.T) {
	c := New[int](0)
	c.Stop()
	c.Stop()
}
