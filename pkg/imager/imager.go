// Package imager reads a source with many concurrent positional reads and
// writes it back out as an ordered chunk stream.
package imager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zhengshuai-xiao/blkimg/internal"
	"github.com/zhengshuai-xiao/blkimg/internal/compression"
	"github.com/zhengshuai-xiao/blkimg/pkg/chunk"
	"github.com/zhengshuai-xiao/blkimg/pkg/dedup"
	"github.com/zhengshuai-xiao/blkimg/pkg/digest"
)

var logger = internal.GetLogger("imager")

// Policy derives the chunk policy of cfg.
func Policy(cfg *Config) (chunk.Policy, error) {
	if cfg.Verbatim {
		return chunk.Policy{Verbatim: true}, nil
	}
	comp, err := compression.GetCompressorViaString(cfg.Compression)
	if err != nil {
		return chunk.Policy{}, fmt.Errorf("%w: %w", internal.ErrInvalidConfig, err)
	}
	return chunk.Policy{Compressor: comp}, nil
}

// Imager runs one imaging job.
type Imager struct {
	cfg      *Config
	sink     Sink
	progress internal.Progress
	index    dedup.Index
	// Elapsed is the wall time of the last Run.
	Elapsed time.Duration
}

// New prepares a run. progress and index may be nil; index is ignored in
// verbatim mode.
func New(cfg *Config, sink Sink, progress internal.Progress, index dedup.Index) (*Imager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Verbatim {
		index = nil
	}
	return &Imager{cfg: cfg, sink: sink, progress: progress, index: index}, nil
}

// Run spawns the workers and the sequencer, waits for the workers, closes the
// channel and joins the sequencer. The first error cancels everything else
// and is the one returned.
func (im *Imager) Run(ctx context.Context) (*Result, error) {
	cfg := im.cfg
	policy, err := Policy(cfg)
	if err != nil {
		return nil, err
	}
	digests, err := digest.New(cfg.Hashes)
	if err != nil {
		return nil, err
	}
	limiter, err := newLimiter(cfg.RateLimit, cfg.BlockSize)
	if err != nil {
		return nil, err
	}

	logger.Infof("imaging %s: block size %s, %d workers x %d buffers, policy %s",
		cfg.Input, internal.FormatBytes(uint64(cfg.BlockSize)), cfg.Threads, cfg.Buffers, policy)

	start := time.Now()
	cursor := NewCursor(cfg.BlockSize, cfg.Limit())
	items := make(chan WorkItem, cfg.Threads*cfg.Buffers)
	g, gctx := errgroup.WithContext(ctx)

	var readers sync.WaitGroup
	for id := 0; id < cfg.Threads; id++ {
		w := NewWorker(id, cfg, cursor, items, im.progress, limiter)
		readers.Add(1)
		g.Go(func() error {
			defer readers.Done()
			return w.Run(gctx)
		})
	}
	go func() {
		readers.Wait()
		close(items)
	}()

	var result *Result
	g.Go(func() error {
		seq := NewSequencer(im.sink, policy, digests, im.index)
		r, err := seq.Run(gctx, items)
		result = r
		return err
	})

	err = g.Wait()
	im.Elapsed = time.Since(start)
	if im.progress != nil {
		im.progress.Finish()
	}
	if err != nil {
		return nil, err
	}
	logger.Infof("imaged %s in %s (%s)", internal.FormatBytes(result.Stats.BytesIn), im.Elapsed,
		internal.Throughput(result.Stats.BytesIn, im.Elapsed.Seconds()))
	return result, nil
}

// Run is a shorthand for New followed by Run.
func Run(ctx context.Context, cfg *Config, sink Sink, progress internal.Progress, index dedup.Index) (*Result, error) {
	im, err := New(cfg, sink, progress, index)
	if err != nil {
		return nil, err
	}
	return im.Run(ctx)
}
