package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"transcription-orchestrator/internal/models"
)

func makeItems(n int) []models.Item {
	items := make([]models.Item, n)
	for i := range items {
		items[i] = models.Item{ItemKey: string(rune('a' + i))}
	}
	return items
}

func TestBatchesPartitioning(t *testing.T) {
	batches := Batches(makeItems(12), 5)
	require.Len(t, batches, 3)
	require.Len(t, batches[0], 5)
	require.Len(t, batches[1], 5)
	require.Len(t, batches[2], 2)

	// Order is preserved across batch boundaries.
	require.Equal(t, "a", batches[0][0].ItemKey)
	require.Equal(t, "f", batches[1][0].ItemKey)
	require.Equal(t, "l", batches[2][1].ItemKey)

	require.Empty(t, Batches(nil, 5))
	require.Len(t, Batches(makeItems(5), 5), 1)
	require.Len(t, Batches(makeItems(6), 5), 2)
}

func TestBatchRunSequentialBatchesConcurrentItems(t *testing.T) {
	const batchSize = 5
	items := makeItems(12)

	var mu sync.Mutex
	started := make(map[string]int)  // item key -> batch index at start
	finished := make(map[int]int)    // batch index -> items finished
	var inFlight, peakInFlight int32

	ctrl := BatchController{Size: batchSize}
	err := ctrl.Run(context.Background(), items, func(_ context.Context, idx int, item models.Item) error {
		batchIdx := idx / batchSize

		cur := atomic.AddInt32(&inFlight, 1)
		for {
			peak := atomic.LoadInt32(&peakInFlight)
			if cur <= peak || atomic.CompareAndSwapInt32(&peakInFlight, peak, cur) {
				break
			}
		}

		mu.Lock()
		started[item.ItemKey] = batchIdx
		// No later batch may start while an earlier one is unfinished.
		for earlier := 0; earlier < batchIdx; earlier++ {
			batchLen := batchSize
			if earlier == len(items)/batchSize {
				batchLen = len(items) % batchSize
			}
			if finished[earlier] != batchLen {
				mu.Unlock()
				atomic.AddInt32(&inFlight, -1)
				return errors.New("batch overlap detected")
			}
		}
		mu.Unlock()

		mu.Lock()
		finished[batchIdx]++
		mu.Unlock()
		atomic.AddInt32(&inFlight, -1)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, started, 12)
	require.LessOrEqual(t, peakInFlight, int32(batchSize))
	require.Equal(t, 5, finished[0])
	require.Equal(t, 5, finished[1])
	require.Equal(t, 2, finished[2])
}

func TestBatchRunStopsAfterFailedBatch(t *testing.T) {
	items := makeItems(6)
	boom := errors.New("store down")

	var calls int32
	err := BatchController{Size: 3}.Run(context.Background(), items, func(_ context.Context, idx int, _ models.Item) error {
		atomic.AddInt32(&calls, 1)
		if idx == 1 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	// The failing batch runs to its fan-in barrier; the next never starts.
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestBatchRunHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := BatchController{Size: 2}.Run(ctx, makeItems(4), func(context.Context, int, models.Item) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}
