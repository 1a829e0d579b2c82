package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// ZlibCompressor implements the Compressor interface using Zlib.
type ZlibCompressor struct{}

// NewZlib returns a new ZlibCompressor.
func NewZlib() *ZlibCompressor {
	return &ZlibCompressor{}
}

func (c *ZlibCompressor) Type() CompressionType {
	return Compress_zlib
}

// TypeString returns the compression type string.
func (c *ZlibCompressor) TypeString() string {
	return "zlib"
}

// Compress compresses data using Zlib.
func (c *ZlibCompressor) Compress(data []byte) ([]byte, error) {
	var b bytes.Buffer
	w, err := zlib.NewWriterLevel(&b, zlib.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Decompress decompresses data using Zlib.
func (c *ZlibCompressor) Decompress(data []byte, maxSize int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, int64(maxSize)+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxSize {
		return nil, fmt.Errorf("zlib decompress: more than %d bytes", maxSize)
	}
	return out, nil
}
