package imager

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhengshuai-xiao/blkimg/internal"
	"github.com/zhengshuai-xiao/blkimg/internal/compression"
	"github.com/zhengshuai-xiao/blkimg/pkg/chunk"
	"github.com/zhengshuai-xiao/blkimg/pkg/dedup"
	"github.com/zhengshuai-xiao/blkimg/pkg/digest"
)

type bufferSink struct {
	bytes.Buffer
	flushed int
}

func (b *bufferSink) Flush() error {
	b.flushed++
	return nil
}

type failingSink struct{}

func (failingSink) Write([]byte) (int, error) { return 0, errors.New("disk full") }
func (failingSink) Flush() error              { return nil }

func writeSource(t *testing.T, data []byte) string {
	path := filepath.Join(t.TempDir(), "source.img")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func randomData(size int, seed int64) []byte {
	data := make([]byte, size)
	rand.New(rand.NewSource(seed)).Read(data)
	return data
}

func testConfig(path string, blockSize, threads, buffers int) *Config {
	cfg := DefaultConfig()
	cfg.Input = path
	cfg.BlockSize = blockSize
	cfg.Threads = threads
	cfg.Buffers = buffers
	return cfg
}

func image(t *testing.T, cfg *Config, index dedup.Index) ([]byte, *Result) {
	sink := &bufferSink{}
	var progress internal.CountingProgress
	res, err := Run(context.Background(), cfg, sink, &progress, index)
	require.NoError(t, err)
	assert.Equal(t, 1, sink.flushed)
	assert.Equal(t, res.Stats.BytesIn, progress.Done())
	return sink.Bytes(), res
}

func TestThreeBlockExample(t *testing.T) {
	path := writeSource(t, []byte{0xff, 0xff, 0xff, 0xff, 0, 0, 0, 0, 0xaa, 0xaa, 0xaa, 0xaa})
	expected := []byte{
		0, 0, 0, 0, 0, 0, 0, 4, 1, 0xff, 0xff, 0xff, 0xff,
		0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 4, 1, 0xaa, 0xaa, 0xaa, 0xaa,
	}

	for _, threads := range []int{1, 2, 3, 8} {
		for _, buffers := range []int{1, 2, 4} {
			t.Run(fmt.Sprintf("threads=%d/buffers=%d", threads, buffers), func(t *testing.T) {
				out, res := image(t, testConfig(path, 4, threads, buffers), nil)
				assert.Equal(t, expected, out)
				assert.Equal(t, uint64(3), res.Stats.Blocks)
				assert.Equal(t, uint64(2), res.Stats.Count(chunk.Raw))
				assert.Equal(t, uint64(1), res.Stats.Count(chunk.FullOfZeros))
			})
		}
	}
}

func TestVerbatimFidelity(t *testing.T) {
	source := randomData(1<<20+123, 1)
	path := writeSource(t, source)

	for _, threads := range []int{1, 3, 8} {
		for _, buffers := range []int{1, 4} {
			t.Run(fmt.Sprintf("threads=%d/buffers=%d", threads, buffers), func(t *testing.T) {
				cfg := testConfig(path, 4096, threads, buffers)
				cfg.Verbatim = true
				out, res := image(t, cfg, dedup.NewMemoryIndex())
				assert.True(t, bytes.Equal(source, out), "verbatim output differs from source")
				assert.Equal(t, uint64(len(source)), res.Stats.BytesOut)
				assert.Equal(t, uint64(257), res.Stats.Count(chunk.Verbatim))
			})
		}
	}
}

func TestDigestDeterminism(t *testing.T) {
	source := randomData(300*1024+7, 2)
	copy(source[8192:16384], make([]byte, 8192))
	path := writeSource(t, source)
	sum := sha256.Sum256(source)

	var reference []digest.Sum
	for _, threads := range []int{1, 2, 7} {
		for _, buffers := range []int{1, 3, 16} {
			cfg := testConfig(path, 4096, threads, buffers)
			cfg.Hashes = []string{digest.SHA256, digest.BLAKE3, digest.XXH64}
			_, res := image(t, cfg, nil)

			require.Len(t, res.Digests, 3)
			assert.Equal(t, hex.EncodeToString(sum[:]), res.Digests[0].Hex)
			if reference == nil {
				reference = res.Digests
			}
			assert.Equal(t, reference, res.Digests, "threads=%d buffers=%d", threads, buffers)
		}
	}
}

func TestShortFinalBlockRoundTrip(t *testing.T) {
	source := randomData(10*4096+100, 3)
	copy(source[4096:8192], make([]byte, 4096))
	path := writeSource(t, source)

	zstd, err := compression.NewZstd()
	require.NoError(t, err)

	testCases := []struct {
		name string
		comp compression.Compressor
	}{
		{"", nil},
		{"lz4", compression.NewLZ4()},
		{"zstd", zstd},
		{"snappy", compression.NewSnappy()},
		{"zlib", compression.NewZlib()},
	}
	for _, tc := range testCases {
		t.Run("compression="+tc.name, func(t *testing.T) {
			cfg := testConfig(path, 4096, 4, 2)
			cfg.Compression = tc.name
			out, res := image(t, cfg, nil)
			assert.Equal(t, uint64(11), res.Stats.Blocks)

			expanded, err := chunk.Expand(bytes.NewReader(out), 4096, uint64(len(source)), tc.comp)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(source, expanded))
		})
	}
}

func TestNBlocksCapsOutput(t *testing.T) {
	source := randomData(64*1024, 4)
	path := writeSource(t, source)

	cfg := testConfig(path, 4096, 4, 4)
	cfg.Verbatim = true
	cfg.NBlocks = 3
	cfg.Hashes = []string{digest.SHA256}
	out, res := image(t, cfg, nil)

	assert.Equal(t, source[:3*4096], out)
	sum := sha256.Sum256(source[:3*4096])
	assert.Equal(t, hex.EncodeToString(sum[:]), res.Digests[0].Hex)

	// a cap past the end reads the whole source
	cfg.NBlocks = 100
	out, _ = image(t, cfg, nil)
	assert.Equal(t, source, out)
}

func TestEmptySource(t *testing.T) {
	path := writeSource(t, nil)
	cfg := testConfig(path, 4096, 2, 2)
	cfg.Hashes = []string{digest.SHA256}
	out, res := image(t, cfg, nil)
	assert.Empty(t, out)
	assert.Zero(t, res.Stats.Blocks)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", res.Digests[0].Hex)
}

func TestDedup(t *testing.T) {
	a := randomData(4096, 5)
	b := randomData(4096, 6)
	zero := make([]byte, 4096)
	source := bytes.Join([][]byte{a, b, zero, a, zero, b, a, a[:100]}, nil)
	path := writeSource(t, source)

	t.Run("default", func(t *testing.T) {
		cfg := testConfig(path, 4096, 3, 2)
		cfg.Dedup = true
		out, res := image(t, cfg, dedup.NewMemoryIndex())

		assert.Equal(t, uint64(3), res.Stats.Count(chunk.Duplicate))
		assert.Equal(t, uint64(2), res.Stats.Count(chunk.FullOfZeros))
		assert.Equal(t, uint64(3), res.Stats.Count(chunk.Raw))

		r := chunk.NewReader(bytes.NewReader(out), 4096)
		for position := uint64(0); ; position++ {
			rec, err := r.Next()
			if err != nil {
				break
			}
			if ref, ok := rec.DuplicateOf(); ok {
				assert.Less(t, ref, position)
			}
		}

		expanded, err := chunk.Expand(bytes.NewReader(out), 4096, uint64(len(source)), nil)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(source, expanded))
	})

	t.Run("compressed", func(t *testing.T) {
		cfg := testConfig(path, 4096, 3, 2)
		cfg.Compression = "lz4"
		out, res := image(t, cfg, dedup.NewMemoryIndex())

		// the second zero block is a duplicate of the first in compressed mode
		assert.Equal(t, uint64(4), res.Stats.Count(chunk.Duplicate))
		assert.Equal(t, uint64(4), res.Stats.Count(chunk.Compressed))
		assert.Zero(t, res.Stats.Count(chunk.Raw))
		expanded, err := chunk.Expand(bytes.NewReader(out), 4096, uint64(len(source)), compression.NewLZ4())
		require.NoError(t, err)
		assert.True(t, bytes.Equal(source, expanded))
	})
}

func TestRunErrors(t *testing.T) {
	t.Run("missing input", func(t *testing.T) {
		cfg := testConfig(filepath.Join(t.TempDir(), "missing"), 4096, 2, 2)
		_, err := Run(context.Background(), cfg, &bufferSink{}, nil, nil)
		var ioErr *internal.IoError
		require.ErrorAs(t, err, &ioErr)
		assert.Equal(t, "open", ioErr.Op)
	})

	t.Run("write failure", func(t *testing.T) {
		path := writeSource(t, randomData(64*1024, 7))
		_, err := Run(context.Background(), testConfig(path, 4096, 4, 4), failingSink{}, nil, nil)
		var ioErr *internal.IoError
		require.ErrorAs(t, err, &ioErr)
		assert.Equal(t, "write", ioErr.Op)
	})

	t.Run("cancelled", func(t *testing.T) {
		path := writeSource(t, randomData(64*1024, 8))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Run(ctx, testConfig(path, 4096, 4, 4), &bufferSink{}, nil, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := Run(context.Background(), testConfig("x", 0, 1, 1), &bufferSink{}, nil, nil)
		assert.ErrorIs(t, err, internal.ErrInvalidConfig)
	})

	t.Run("rate below one block", func(t *testing.T) {
		path := writeSource(t, randomData(4096, 9))
		cfg := testConfig(path, 4096, 1, 1)
		cfg.RateLimit = 1024
		_, err := Run(context.Background(), cfg, &bufferSink{}, nil, nil)
		assert.ErrorIs(t, err, internal.ErrInvalidConfig)
	})
}

func TestRateLimitedRun(t *testing.T) {
	source := randomData(64*1024, 10)
	path := writeSource(t, source)
	cfg := testConfig(path, 4096, 2, 2)
	cfg.Verbatim = true
	cfg.RateLimit = 1 << 20
	out, _ := image(t, cfg, nil)
	assert.Equal(t, source, out)
}
