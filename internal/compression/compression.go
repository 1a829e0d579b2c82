package compression

import (
	"errors"
	"fmt"
	"sort"
)

type CompressionType byte

const (
	Compress_none   CompressionType = iota //0
	Compress_lz4                           //1
	Compress_snappy                        //2
	Compress_zstd                          //3
	Compress_zlib                          //4
)

// Default is the algorithm used when compression is requested without a name.
const Default = "lz4"

var (
	ErrInvalidCompressionType = errors.New("invalid compression type")

	CompressionMethods = map[string]CompressionType{
		"none":   Compress_none,
		"lz4":    Compress_lz4,
		"snappy": Compress_snappy,
		"zstd":   Compress_zstd,
		"zlib":   Compress_zlib,
	}
)

// Compressor defines the interface for block compression and decompression.
// Implementations are safe for concurrent use.
type Compressor interface {
	// Compress takes a block and returns the compressed data. The result may
	// be larger than the input when the block does not compress.
	Compress(data []byte) ([]byte, error)

	// Decompress takes a compressed block and returns the original data.
	// maxSize bounds the decompressed length (the block size).
	Decompress(data []byte, maxSize int) ([]byte, error)

	// TypeString returns the name of the compression, e.g. "lz4", "zstd".
	TypeString() string
	Type() CompressionType
}

// Names returns the accepted algorithm names, sorted.
func Names() []string {
	names := make([]string, 0, len(CompressionMethods))
	for name := range CompressionMethods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetCompressorViaString returns the compressor for name. "none" and the
// empty string yield a nil compressor and no error.
func GetCompressorViaString(name string) (Compressor, error) {
	if name == "" {
		return nil, nil
	}
	compressionType, ok := CompressionMethods[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCompressionType, name)
	}
	return GetCompressorViaType(compressionType)
}

func GetCompressorViaType(compressionType CompressionType) (Compressor, error) {
	switch compressionType {
	case Compress_none:
		return nil, nil
	case Compress_lz4:
		return NewLZ4(), nil
	case Compress_snappy:
		return NewSnappy(), nil
	case Compress_zstd:
		return NewZstd()
	case Compress_zlib:
		return NewZlib(), nil
	default:
		return nil, ErrInvalidCompressionType
	}
}
