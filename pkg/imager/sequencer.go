package imager

import (
	"context"
	"fmt"
	"io"

	"github.com/zhengshuai-xiao/blkimg/internal"
	"github.com/zhengshuai-xiao/blkimg/pkg/chunk"
	"github.com/zhengshuai-xiao/blkimg/pkg/dedup"
	"github.com/zhengshuai-xiao/blkimg/pkg/digest"
)

// Sink receives the encoded stream in position order.
type Sink interface {
	io.Writer
	Flush() error
}

type Stats struct {
	Blocks   uint64
	ByType   map[chunk.Type]uint64
	BytesIn  uint64
	BytesOut uint64
	// MaxPending is the largest number of blocks held for reordering.
	MaxPending int
}

// Count returns the number of records of type t.
func (s *Stats) Count(t chunk.Type) uint64 {
	return s.ByType[t]
}

type Result struct {
	Digests []digest.Sum
	Stats   Stats
}

// Sequencer restores position order, feeds the digests, encodes and writes.
// It must be driven by a single goroutine.
type Sequencer struct {
	sink    Sink
	policy  chunk.Policy
	digests *digest.Set
	index   dedup.Index

	pending map[uint64][]byte
	next    uint64
	stats   Stats
}

// NewSequencer builds a sequencer. digests and index may be nil.
func NewSequencer(sink Sink, policy chunk.Policy, digests *digest.Set, index dedup.Index) *Sequencer {
	if digests == nil {
		digests, _ = digest.New(nil)
	}
	return &Sequencer{
		sink:    sink,
		policy:  policy,
		digests: digests,
		index:   index,
		pending: make(map[uint64][]byte),
		stats:   Stats{ByType: make(map[chunk.Type]uint64)},
	}
}

func receive(ctx context.Context, in <-chan WorkItem) (WorkItem, error) {
	select {
	case item, ok := <-in:
		if !ok {
			return WorkItem{}, internal.ErrChannelClosed
		}
		return item, nil
	case <-ctx.Done():
		return WorkItem{}, ctx.Err()
	}
}

// Run consumes in until it is closed and returns the digests and statistics.
func (s *Sequencer) Run(ctx context.Context, in <-chan WorkItem) (*Result, error) {
	for {
		item, err := receive(ctx, in)
		if err == internal.ErrChannelClosed {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := s.accept(ctx, item); err != nil {
			return nil, err
		}
	}

	if len(s.pending) != 0 {
		return nil, fmt.Errorf("%w: %d blocks pending after close, position %d never arrived",
			internal.ErrOrderingViolation, len(s.pending), s.next)
	}
	if err := s.sink.Flush(); err != nil {
		return nil, internal.NewIoError("flush", "output", err)
	}
	logger.Debugf("sequencer done: %d blocks, %s in, %s out, max pending %d",
		s.stats.Blocks, internal.FormatBytes(s.stats.BytesIn), internal.FormatBytes(s.stats.BytesOut), s.stats.MaxPending)

	return &Result{Digests: s.digests.Sums(), Stats: s.stats}, nil
}

func (s *Sequencer) accept(ctx context.Context, item WorkItem) error {
	if item.Position < s.next {
		return fmt.Errorf("%w: position %d arrived after it was written", internal.ErrOrderingViolation, item.Position)
	}
	if _, ok := s.pending[item.Position]; ok {
		return fmt.Errorf("%w: position %d arrived twice", internal.ErrOrderingViolation, item.Position)
	}
	s.pending[item.Position] = item.Data
	if len(s.pending) > s.stats.MaxPending {
		s.stats.MaxPending = len(s.pending)
	}

	for {
		data, ok := s.pending[s.next]
		if !ok {
			return nil
		}
		delete(s.pending, s.next)
		if err := s.process(ctx, s.next, data); err != nil {
			return err
		}
		s.next++
	}
}

func (s *Sequencer) process(ctx context.Context, position uint64, data []byte) error {
	s.digests.Write(data)

	rec, err := s.encode(ctx, position, data)
	if err != nil {
		return err
	}
	n, err := rec.WriteTo(s.sink)
	if err != nil {
		return &internal.IoError{Op: "write", Path: "output", Worker: -1, Position: position, Err: err}
	}

	s.stats.Blocks++
	s.stats.ByType[rec.Type]++
	s.stats.BytesIn += uint64(len(data))
	s.stats.BytesOut += uint64(n)
	return nil
}

func (s *Sequencer) encode(ctx context.Context, position uint64, data []byte) (chunk.Record, error) {
	if s.index != nil && s.policy.Dedupable(data) {
		first, found, err := s.index.LookupOrInsert(ctx, digest.FingerprintOf(data), position)
		if err != nil {
			return chunk.Record{}, err
		}
		if found {
			if first >= position {
				return chunk.Record{}, fmt.Errorf("%w: position %d deduplicated against %d",
					internal.ErrOrderingViolation, position, first)
			}
			return chunk.EncodeDuplicate(first), nil
		}
	}
	return chunk.Encode(data, s.policy)
}
