// Package bufpool hands out page-aligned read buffers carved from a single
// anonymous mapping. The mapping lives outside the Go heap, so the buffers
// never move and satisfy the alignment O_DIRECT requires.
package bufpool

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/zhengshuai-xiao/blkimg/internal"
)

var logger = internal.GetLogger("bufpool")

// Alignment of every slot, independent of the device sector size.
const Alignment = 4096

type Pool struct {
	mu        sync.Mutex
	data      []byte
	blockSize int
	stride    int
	out       []bool
	locked    bool
	closed    bool
}

// New maps count slots of blockSize bytes each. The region is pinned with
// mlock when the process is allowed to; a failure there is only logged.
func New(blockSize, count int) (*Pool, error) {
	if blockSize <= 0 || count <= 0 {
		return nil, fmt.Errorf("%w: block size %d, count %d", internal.ErrInvalidConfig, blockSize, count)
	}
	stride := (blockSize + Alignment - 1) / Alignment * Alignment
	data, err := unix.Mmap(-1, 0, stride*count, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("bufpool: mmap %d bytes: %w", stride*count, err)
	}

	p := &Pool{
		data:      data,
		blockSize: blockSize,
		stride:    stride,
		out:       make([]bool, count),
	}
	if err := unix.Mlock(data); err != nil {
		logger.Debugf("mlock of %s failed, buffers stay pageable: %s", internal.FormatBytes(uint64(len(data))), err)
	} else {
		p.locked = true
	}
	return p, nil
}

func (p *Pool) Len() int {
	return len(p.out)
}

func (p *Pool) BlockSize() int {
	return p.blockSize
}

// Locked reports whether the region is pinned in memory.
func (p *Pool) Locked() bool {
	return p.locked
}

// CheckOut hands slot to the caller. The slot must be returned before it can
// be checked out again.
func (p *Pool) CheckOut(slot int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || slot < 0 || slot >= len(p.out) {
		return nil, fmt.Errorf("%w: slot %d of %d", internal.ErrExhaustedPool, slot, len(p.out))
	}
	if p.out[slot] {
		return nil, fmt.Errorf("%w: slot %d already checked out", internal.ErrExhaustedPool, slot)
	}
	p.out[slot] = true
	start := slot * p.stride
	return p.data[start : start+p.blockSize : start+p.blockSize], nil
}

// Return gives slot back. buf must be the slice CheckOut handed out for it.
func (p *Pool) Return(slot int, buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if slot < 0 || slot >= len(p.out) || !p.out[slot] {
		return fmt.Errorf("bufpool: slot %d is not checked out", slot)
	}
	start := slot * p.stride
	if len(buf) != p.blockSize || &buf[0] != &p.data[start] {
		return fmt.Errorf("bufpool: buffer returned for slot %d belongs elsewhere", slot)
	}
	p.out[slot] = false
	return nil
}

// Outstanding returns the number of slots currently checked out.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, out := range p.out {
		if out {
			n++
		}
	}
	return n
}

// Close unpins and unmaps the region. Buffers handed out earlier must not be
// touched afterwards. Close is idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var firstErr error
	if p.locked {
		if err := unix.Munlock(p.data); err != nil {
			firstErr = fmt.Errorf("bufpool: munlock: %w", err)
		}
	}
	if err := unix.Munmap(p.data); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("bufpool: munmap: %w", err)
	}
	p.data = nil
	return firstErr
}
