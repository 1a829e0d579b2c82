package imager

import "sync/atomic"

// Cursor hands out block offsets to every worker of a run. Each offset is
// claimed exactly once, in increasing order of claim.
type Cursor struct {
	next  atomic.Uint64
	step  uint64
	limit uint64
}

// NewCursor returns a cursor advancing by blockSize. A non-zero limit makes
// claims at or past it fail.
func NewCursor(blockSize int, limit uint64) *Cursor {
	return &Cursor{step: uint64(blockSize), limit: limit}
}

// Claim reserves the next offset.
func (c *Cursor) Claim() (uint64, bool) {
	off := c.next.Add(c.step) - c.step
	if c.limit > 0 && off >= c.limit {
		return 0, false
	}
	return off, true
}

func (c *Cursor) Position(offset uint64) uint64 {
	return offset / c.step
}
