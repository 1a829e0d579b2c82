package compression

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// LZ4Compressor stores blocks in raw LZ4 block format, without the frame
// header or a size prefix.
type LZ4Compressor struct{}

func NewLZ4() *LZ4Compressor {
	return &LZ4Compressor{}
}

func (c *LZ4Compressor) Type() CompressionType {
	return Compress_lz4
}

func (c *LZ4Compressor) TypeString() string {
	return "lz4"
}

func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// a bound-sized dst always receives the literals of incompressible input
	if n == 0 && len(data) > 0 {
		return nil, fmt.Errorf("lz4 compress: no output for %d bytes", len(data))
	}
	return dst[:n], nil
}

func (c *LZ4Compressor) Decompress(data []byte, maxSize int) ([]byte, error) {
	dst := make([]byte, maxSize)
	n, err := lz4.UncompressBlock(data, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return dst[:n], nil
}
