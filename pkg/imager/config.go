package imager

import (
	"fmt"
	"math"
	"runtime"

	"github.com/zhengshuai-xiao/blkimg/internal"
	"github.com/zhengshuai-xiao/blkimg/internal/compression"
	"github.com/zhengshuai-xiao/blkimg/pkg/digest"
)

const (
	DefaultBlockSize = 32768
	DefaultBuffers   = 4
)

// Config holds everything a run needs except the output sink.
type Config struct {
	Input     string
	BlockSize int
	Threads   int
	// Buffers is the in-flight read window of each worker.
	Buffers int
	// NBlocks caps the number of blocks read, 0 means the whole source.
	NBlocks uint64
	Direct  bool

	Verbatim    bool
	Compression string
	Hashes      []string

	Dedup      bool
	DedupRedis string
	// RunID scopes a shared dedup index to this run.
	RunID string

	// RateLimit caps read bandwidth in bytes per second, 0 is unlimited.
	RateLimit uint64
}

func DefaultConfig() *Config {
	return &Config{
		BlockSize: DefaultBlockSize,
		Threads:   runtime.NumCPU(),
		Buffers:   DefaultBuffers,
		Direct:    true,
	}
}

func (c *Config) Validate() error {
	if c.Input == "" {
		return fmt.Errorf("%w: input path is required", internal.ErrInvalidConfig)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("%w: block size must be positive, got %d", internal.ErrInvalidConfig, c.BlockSize)
	}
	if c.NBlocks > math.MaxUint64/uint64(c.BlockSize) {
		return fmt.Errorf("%w: %d blocks of %d bytes exceed the addressable range", internal.ErrInvalidConfig, c.NBlocks, c.BlockSize)
	}
	if c.Threads <= 0 {
		return fmt.Errorf("%w: threads must be positive, got %d", internal.ErrInvalidConfig, c.Threads)
	}
	if c.Buffers <= 0 {
		return fmt.Errorf("%w: buffers must be positive, got %d", internal.ErrInvalidConfig, c.Buffers)
	}
	if _, ok := compression.CompressionMethods[c.Compression]; c.Compression != "" && !ok {
		return fmt.Errorf("%w: unknown compression %q, expected one of %v", internal.ErrInvalidConfig, c.Compression, compression.Names())
	}
	for _, name := range c.Hashes {
		if !internal.StringContains(digest.Names(), name) {
			return fmt.Errorf("%w: unknown hash %q, expected one of %v", internal.ErrInvalidConfig, name, digest.Names())
		}
	}
	if c.Verbatim && c.Compressed() {
		logger.Warnf("verbatim mode ignores compression %q", c.Compression)
	}
	if c.Verbatim && c.DedupEnabled() {
		logger.Warnf("verbatim mode never deduplicates")
	}
	return nil
}

// Compressed reports whether a compression algorithm was selected.
func (c *Config) Compressed() bool {
	return c.Compression != "" && c.Compression != "none"
}

func (c *Config) DedupEnabled() bool {
	return c.Dedup || c.DedupRedis != ""
}

// Limit is the byte offset no read may start at, 0 meaning unlimited.
func (c *Config) Limit() uint64 {
	return c.NBlocks * uint64(c.BlockSize)
}
