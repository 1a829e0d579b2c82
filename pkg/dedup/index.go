// Package dedup maps block fingerprints to the position where the content was
// first written in the current image.
package dedup

import (
	"context"

	"github.com/zhengshuai-xiao/blkimg/internal"
	"github.com/zhengshuai-xiao/blkimg/pkg/digest"
)

var logger = internal.GetLogger("dedup")

// Index is consulted by the sequencer in position order, so a position it
// returns is always smaller than the one being written.
type Index interface {
	// LookupOrInsert returns the first position recorded for fp. When fp is
	// new, position is recorded and found is false.
	LookupOrInsert(ctx context.Context, fp digest.Fingerprint, position uint64) (first uint64, found bool, err error)
	// Len is the number of distinct fingerprints recorded.
	Len() int
	Close() error
}

// MemoryIndex keeps every fingerprint in a map. Roughly 40 bytes per unique
// block.
type MemoryIndex struct {
	entries map[digest.Fingerprint]uint64
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[digest.Fingerprint]uint64)}
}

func (m *MemoryIndex) LookupOrInsert(_ context.Context, fp digest.Fingerprint, position uint64) (uint64, bool, error) {
	if first, ok := m.entries[fp]; ok {
		return first, true, nil
	}
	m.entries[fp] = position
	return position, false, nil
}

func (m *MemoryIndex) Len() int {
	return len(m.entries)
}

func (m *MemoryIndex) Close() error {
	m.entries = nil
	return nil
}
