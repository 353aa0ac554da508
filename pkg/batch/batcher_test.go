package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]int
}

func (r *recorder) process(_ context.Context, items []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, items)
	return nil
}

func (r *recorder) snapshot() [][]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]int(nil), r.batches...)
}

func TestBatcher_FlushesOnSize(t *testing.T) {
	rec := &recorder{}
	b := NewBatcher(3, time.Hour, rec.process, nil)
	defer b.Stop(context.Background())

	for i := 1; i <= 3; i++ {
		require.NoError(t, b.Add(i))
	}

	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{1, 2, 3}, rec.snapshot()[0])
}

func TestBatcher_FlushesOnInterval(t *testing.T) {
	rec := &recorder{}
	b := NewBatcher(100, 10*time.Millisecond, rec.process, nil)
	defer b.Stop(context.Background())

	require.NoError(t, b.Add(1))

	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, b.PendingCount())
}

func TestBatcher_StopFlushesAndRejects(t *testing.T) {
	rec := &recorder{}
	b := NewBatcher(100, time.Hour, rec.process, nil)

	require.NoError(t, b.Add(1))
	require.NoError(t, b.Add(2))
	require.NoError(t, b.Stop(context.Background()))

	assert.Equal(t, [][]int{{1, 2}}, rec.snapshot())
	assert.ErrorIs(t, b.Add(3), ErrStopped)
	require.NoError(t, b.Stop(context.Background()))
}

func TestBatcher_ReportsErrors(t *testing.T) {
	boom := errors.New("boom")
	var failed []int
	b := NewBatcher(10, time.Hour, func(context.Context, []int) error { return boom }, func(err error, items []int) {
		failed = append(failed, items...)
	})
	defer b.Stop(context.Background())

	require.NoError(t, b.Add(5))
	assert.ErrorIs(t, b.Flush(context.Background()), boom)
	assert.Equal(t, []int{5}, failed)
}
