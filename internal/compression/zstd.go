package compression

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor keeps one encoder and decoder; both are safe for concurrent
// use through EncodeAll and DecodeAll.
type ZstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewZstd() (*ZstdCompressor, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &ZstdCompressor{encoder: encoder, decoder: decoder}, nil
}

func (c *ZstdCompressor) Type() CompressionType {
	return Compress_zstd
}

func (c *ZstdCompressor) TypeString() string {
	return "zstd"
}

func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	return c.encoder.EncodeAll(data, nil), nil
}

func (c *ZstdCompressor) Decompress(data []byte, maxSize int) ([]byte, error) {
	out, err := c.decoder.DecodeAll(data, make([]byte, 0, maxSize))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(out) > maxSize {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, limit %d", len(out), maxSize)
	}
	return out, nil
}
