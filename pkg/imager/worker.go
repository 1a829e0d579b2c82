package imager

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/ratelimit"

	"github.com/zhengshuai-xiao/blkimg/internal"
	"github.com/zhengshuai-xiao/blkimg/pkg/bufpool"
	"github.com/zhengshuai-xiao/blkimg/pkg/device"
)

// WorkItem is one block read from the source. Data is owned by the receiver.
type WorkItem struct {
	Position uint64
	Data     []byte
}

type completion struct {
	slot   int
	offset uint64
	n      int
	err    error
}

// Worker keeps up to `buffers` reads in flight against its own descriptor and
// buffer pool, claiming offsets from the shared cursor.
type Worker struct {
	id        int
	path      string
	blockSize int
	buffers   int
	direct    bool
	cursor    *Cursor
	out       chan<- WorkItem
	progress  internal.Progress
	limiter   *ratelimit.Bucket
}

func NewWorker(id int, cfg *Config, cursor *Cursor, out chan<- WorkItem, progress internal.Progress, limiter *ratelimit.Bucket) *Worker {
	return &Worker{
		id:        id,
		path:      cfg.Input,
		blockSize: cfg.BlockSize,
		buffers:   cfg.Buffers,
		direct:    cfg.Direct,
		cursor:    cursor,
		out:       out,
		progress:  progress,
		limiter:   limiter,
	}
}

// Run reads until the source or the cursor is exhausted. Once ctx is done it
// stops claiming, waits for its outstanding reads and returns.
func (w *Worker) Run(ctx context.Context) error {
	src, err := device.Open(w.path, w.direct, w.blockSize)
	if err != nil {
		return err
	}
	defer src.Close()

	pool, err := bufpool.New(w.blockSize, w.buffers)
	if err != nil {
		return err
	}
	defer pool.Close()

	logger.Debugf("worker %d started on %s (direct=%v, window=%d)", w.id, w.path, src.Direct(), w.buffers)

	done := make(chan completion, w.buffers)
	bufs := make([][]byte, w.buffers)
	inflight := 0

	submit := func(slot int) bool {
		offset, ok := w.cursor.Claim()
		if !ok {
			return false
		}
		inflight++
		buf := bufs[slot]
		go func() {
			n, err := src.ReadFull(buf, int64(offset))
			done <- completion{slot: slot, offset: offset, n: n, err: err}
		}()
		return true
	}
	retire := func(slot int) {
		if err := pool.Return(slot, bufs[slot]); err != nil {
			logger.Errorf("worker %d: %s", w.id, err)
		}
	}

	var firstErr error
	for slot := 0; slot < w.buffers && ctx.Err() == nil; slot++ {
		buf, err := pool.CheckOut(slot)
		if err != nil {
			firstErr = err
			break
		}
		bufs[slot] = buf
		if !submit(slot) {
			retire(slot)
			break
		}
	}

	var blocks, bytes uint64
	for inflight > 0 {
		c := <-done
		inflight--
		position := w.cursor.Position(c.offset)

		if c.err != nil {
			if firstErr == nil {
				firstErr = &internal.IoError{Op: "read", Path: w.path, Worker: w.id, Position: position, Offset: c.offset, Err: c.err}
				logger.Errorf("%s", firstErr)
			}
			retire(c.slot)
			continue
		}
		if firstErr != nil || c.n == 0 {
			retire(c.slot)
			continue
		}

		data := make([]byte, c.n)
		copy(data, bufs[c.slot][:c.n])
		select {
		case w.out <- WorkItem{Position: position, Data: data}:
		case <-ctx.Done():
			retire(c.slot)
			continue
		}
		blocks++
		bytes += uint64(c.n)
		if w.progress != nil {
			w.progress.Add(c.n)
		}
		logger.Tracef("worker %d: position %d, %d bytes", w.id, position, c.n)

		if c.n < w.blockSize || !w.throttle(ctx, c.n) || !submit(c.slot) {
			retire(c.slot)
		}
	}

	if outstanding := pool.Outstanding(); outstanding != 0 {
		logger.Errorf("worker %d exits with %d buffers checked out", w.id, outstanding)
	}
	logger.Debugf("worker %d done: %d blocks, %s", w.id, blocks, internal.FormatBytes(bytes))

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// throttle waits for the shared bandwidth bucket. It reports false when ctx
// ended first.
func (w *Worker) throttle(ctx context.Context, n int) bool {
	if ctx.Err() != nil {
		return false
	}
	if w.limiter == nil {
		return true
	}
	wait := w.limiter.Take(int64(n))
	if wait <= 0 {
		return true
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// newLimiter builds the bucket shared by every worker of a run.
func newLimiter(bytesPerSecond uint64, blockSize int) (*ratelimit.Bucket, error) {
	if bytesPerSecond == 0 {
		return nil, nil
	}
	if bytesPerSecond < uint64(blockSize) {
		return nil, fmt.Errorf("%w: rate limit %s is below one block of %s", internal.ErrInvalidConfig,
			internal.FormatBytes(bytesPerSecond), internal.FormatBytes(uint64(blockSize)))
	}
	return ratelimit.NewBucketWithRate(float64(bytesPerSecond), int64(bytesPerSecond)), nil
}
