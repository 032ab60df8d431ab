package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"token-harvester/internal/domain"
	"token-harvester/internal/storage"
)

// pending is one accepted snapshot waiting to be written.
type pending struct {
	snapshot *domain.TokenSnapshot
	row      *domain.FeatureRow
}

// buffer is the append-only list of accepted snapshots. take swaps it out
// so producers never wait for a write.
type buffer struct {
	mu    sync.Mutex
	items []pending
	max   int
}

func newBuffer(max int) *buffer {
	return &buffer{max: max}
}

// add appends p and returns the new size. When the buffer is full the
// oldest item is dropped.
func (b *buffer) add(p pending) (size int, dropped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) >= b.max {
		b.items = append(b.items[:0], b.items[1:]...)
		dropped = true
	}
	b.items = append(b.items, p)
	return len(b.items), dropped
}

func (b *buffer) take() []pending {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.items
	b.items = nil
	return items
}

// requeue pushes items back to the front, oldest first, as far as capacity
// allows. Returns how many were kept.
func (b *buffer) requeue(items []pending) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.max - len(b.items)
	if room <= 0 {
		return 0
	}
	if len(items) > room {
		items = items[:room]
	}
	merged := make([]pending, 0, len(items)+len(b.items))
	merged = append(merged, items...)
	merged = append(merged, b.items...)
	b.items = merged
	return len(items)
}

func (b *buffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// FlushResult describes one flush.
type FlushResult struct {
	Taken            int
	SnapshotsWritten int
	RowsWritten      int
	Failed           int // items a store rejected; they are not retried
	Requeued         int
	Dropped          int // unwritten items that did not fit back into the buffer
}

// Flush writes the buffer to storage. Every item becomes a snapshot row and
// a training row. A store that is unavailable stops the flush and the
// unwritten rest goes back to the front of the buffer.
func (c *Collector) Flush(ctx context.Context) FlushResult {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	items := c.buf.take()
	c.metrics.SetBufferSize(c.buf.len())
	res := FlushResult{Taken: len(items)}
	if len(items) == 0 {
		return res
	}

	// Snapshots first. Items past a store outage are retried whole.
	written := make([]pending, 0, len(items))
	var retry []pending
	snapFailed := 0
	for i, p := range items {
		err := c.snapshots.SaveSnapshot(ctx, p.snapshot)
		if err == nil || errors.Is(err, storage.ErrDuplicateKey) {
			res.SnapshotsWritten++
			written = append(written, p)
			continue
		}
		if storage.IsRetryable(err) {
			c.logger.Warn("snapshot store unavailable, requeueing",
				zap.Int("remaining", len(items)-i), zap.Error(err))
			retry = items[i:]
			break
		}
		snapFailed++
		c.logger.Warn("snapshot write failed",
			zap.String("mint", p.snapshot.Mint), zap.Error(err))
	}
	c.metrics.RecordFlush("snapshots", res.SnapshotsWritten, snapFailed)

	rowRetry, rowsWritten, rowFailed := c.writeRows(ctx, written)
	res.RowsWritten = rowsWritten
	res.Failed = snapFailed + rowFailed
	c.metrics.RecordFlush("training_rows", rowsWritten, rowFailed)

	// rowRetry precedes retry in buffer order.
	toRequeue := make([]pending, 0, len(rowRetry)+len(retry))
	toRequeue = append(append(toRequeue, rowRetry...), retry...)
	if len(toRequeue) > 0 {
		res.Requeued = c.buf.requeue(toRequeue)
		res.Dropped = len(toRequeue) - res.Requeued
		c.metrics.RecordRequeued(res.Requeued)
		if res.Dropped > 0 {
			c.logger.Error("buffer full, dropping unwritten snapshots", zap.Int("dropped", res.Dropped))
		}
	}
	c.metrics.SetBufferSize(c.buf.len())
	c.recordFlush(res)

	c.logger.Debug("flush complete",
		zap.Int("taken", res.Taken),
		zap.Int("snapshots", res.SnapshotsWritten),
		zap.Int("rows", res.RowsWritten),
		zap.Int("failed", res.Failed),
		zap.Int("requeued", res.Requeued))
	return res
}

// writeRows saves the training rows of items whose snapshot was written.
// A batch-capable store gets a single round trip; a batch rejected for a
// bad or duplicate row is retried row by row.
func (c *Collector) writeRows(ctx context.Context, items []pending) (retry []pending, written, failed int) {
	if len(items) == 0 {
		return nil, 0, 0
	}

	if bs, ok := c.rows.(storage.TrainingRowBatchStore); ok && len(items) > 1 {
		rows := make([]*domain.FeatureRow, len(items))
		for i, p := range items {
			rows[i] = p.row
		}
		err := bs.SaveTrainingRows(ctx, rows)
		switch {
		case err == nil:
			return nil, len(items), 0
		case storage.IsRetryable(err):
			c.logger.Warn("training row store unavailable, requeueing",
				zap.Int("remaining", len(items)), zap.Error(err))
			return items, 0, 0
		default:
			c.logger.Debug("batch insert rejected, writing rows one by one", zap.Error(err))
		}
	}

	for i, p := range items {
		err := c.rows.SaveTrainingRow(ctx, p.row)
		if err == nil || errors.Is(err, storage.ErrDuplicateKey) {
			written++
			continue
		}
		if storage.IsRetryable(err) {
			c.logger.Warn("training row store unavailable, requeueing",
				zap.Int("remaining", len(items)-i), zap.Error(err))
			return items[i:], written, failed
		}
		failed++
		c.logger.Warn("training row write failed",
			zap.String("mint", p.row.Mint), zap.Error(err))
	}
	return nil, written, failed
}

// runFlush is the body of the periodic flush.
func (c *Collector) runFlush(ctx context.Context) error {
	res := c.Flush(ctx)
	if res.Requeued > 0 || res.Dropped > 0 {
		return fmt.Errorf("flush incomplete: %d requeued, %d dropped", res.Requeued, res.Dropped)
	}
	return nil
}
