package orchestrator

import (
	"context"
	"sync"

	"transcription-orchestrator/internal/models"
)

// DefaultBatchSize bounds concurrent worker calls per batch.
const DefaultBatchSize = 5

// BatchController partitions an ordered item list into contiguous
// fixed-size batches and drives fan-out/fan-in execution. Batches run
// strictly sequentially; items within a batch run concurrently. The
// bulkhead caps peak concurrent external calls at Size regardless of
// job size while keeping job latency proportional to N/Size.
type BatchController struct {
	Size int
}

// Batches splits items into ceil(len/size) order-preserving slices.
func Batches(items []models.Item, size int) [][]models.Item {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]models.Item
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}

// Run executes fn once per item, fanning out within each batch and
// waiting for the whole batch before starting the next. idx is the
// item's position in the original list. The first error returned by fn
// stops processing after the current batch's fan-in; fn errors are
// fatal faults, per-item domain failures are fn's own business.
func (c BatchController) Run(ctx context.Context, items []models.Item, fn func(ctx context.Context, idx int, item models.Item) error) error {
	size := c.Size
	if size <= 0 {
		size = DefaultBatchSize
	}

	offset := 0
	for _, batch := range Batches(items, size) {
		if err := ctx.Err(); err != nil {
			return err
		}

		errs := make([]error, len(batch))
		var wg sync.WaitGroup
		for i, item := range batch {
			wg.Add(1)
			go func(i int, item models.Item) {
				defer wg.Done()
				errs[i] = fn(ctx, offset+i, item)
			}(i, item)
		}
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				return err
			}
		}
		offset += len(batch)
	}
	return nil
}
