package compression

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCompressor(t *testing.T) {
	t.Run("GetCompressorViaString", func(t *testing.T) {
		testCases := []struct {
			name     string
			expected interface{}
		}{
			{"lz4", &LZ4Compressor{}},
			{"snappy", &SnappyCompressor{}},
			{"zstd", &ZstdCompressor{}},
			{"zlib", &ZlibCompressor{}},
		}
		for _, tc := range testCases {
			c, err := GetCompressorViaString(tc.name)
			assert.NoError(t, err)
			assert.IsType(t, tc.expected, c)
			assert.Equal(t, tc.name, c.TypeString())
		}

		c, err := GetCompressorViaString("none")
		assert.NoError(t, err)
		assert.Nil(t, c)

		c, err = GetCompressorViaString("")
		assert.NoError(t, err)
		assert.Nil(t, c)

		c, err = GetCompressorViaString("invalid")
		assert.ErrorIs(t, err, ErrInvalidCompressionType)
		assert.Nil(t, c)
	})

	t.Run("GetCompressorViaType", func(t *testing.T) {
		c, err := GetCompressorViaType(Compress_zlib)
		assert.NoError(t, err)
		assert.IsType(t, &ZlibCompressor{}, c)

		c, err = GetCompressorViaType(Compress_lz4)
		assert.NoError(t, err)
		assert.Equal(t, Compress_lz4, c.Type())

		c, err = GetCompressorViaType(Compress_none)
		assert.NoError(t, err)
		assert.Nil(t, c)

		c, err = GetCompressorViaType(99)
		assert.Equal(t, ErrInvalidCompressionType, err)
		assert.Nil(t, c)
	})

	assert.Equal(t, []string{"lz4", "none", "snappy", "zlib", "zstd"}, Names())
}

func allCompressors(t *testing.T) []Compressor {
	var out []Compressor
	for _, name := range []string{"lz4", "snappy", "zstd", "zlib"} {
		c, err := GetCompressorViaString(name)
		require.NoError(t, err)
		out = append(out, c)
	}
	return out
}

func TestCompressRoundTrip(t *testing.T) {
	original := bytes.Repeat([]byte("hello, world! this is a test string for block compression. "), 128)

	for _, c := range allCompressors(t) {
		t.Run(c.TypeString(), func(t *testing.T) {
			compressed, err := c.Compress(original)
			require.NoError(t, err)
			assert.Less(t, len(compressed), len(original), "Compressed data should be smaller than original data")

			decompressed, err := c.Decompress(compressed, len(original))
			require.NoError(t, err)
			assert.Equal(t, original, decompressed)
		})
	}
}

func TestCompressIncompressible(t *testing.T) {
	random := make([]byte, 4096)
	rand.New(rand.NewSource(1)).Read(random)

	testCases := []struct {
		name string
		data []byte
	}{
		{"random block", random},
		{"short text", []byte("hello world")},
		{"single byte", []byte{7}},
	}
	for _, c := range allCompressors(t) {
		for _, tc := range testCases {
			t.Run(c.TypeString()+"/"+tc.name, func(t *testing.T) {
				compressed, err := c.Compress(tc.data)
				require.NoError(t, err)
				require.NotEmpty(t, compressed)

				decompressed, err := c.Decompress(compressed, len(tc.data))
				require.NoError(t, err)
				assert.Equal(t, tc.data, decompressed)
			})
		}
	}
}

func TestLZ4HelloWorld(t *testing.T) {
	compressed, err := NewLZ4().Compress([]byte("hello world"))
	require.NoError(t, err)
	// one token byte followed by the eleven literals
	assert.Len(t, compressed, 12)
}

func TestDecompressInvalidData(t *testing.T) {
	invalid := []byte("this is not valid compressed data")

	for _, c := range allCompressors(t) {
		if c.Type() == Compress_lz4 {
			// lz4 block format has no header, many byte strings decode
			continue
		}
		t.Run(c.TypeString(), func(t *testing.T) {
			_, err := c.Decompress(invalid, 4096)
			assert.Error(t, err, "Decompressing invalid data should return an error")
		})
	}
}

func TestDecompressLimit(t *testing.T) {
	original := bytes.Repeat([]byte{0x5a}, 8192)

	for _, c := range allCompressors(t) {
		t.Run(c.TypeString(), func(t *testing.T) {
			compressed, err := c.Compress(original)
			require.NoError(t, err)

			_, err = c.Decompress(compressed, 1024)
			assert.Error(t, err)
		})
	}
}
