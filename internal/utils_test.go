package internal

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSize(t *testing.T) {
	testCases := []struct {
		input    string
		expected uint64
		wantErr  bool
	}{
		{"32768", 32768, false},
		{"32K", 32768, false},
		{"32k", 32768, false},
		{"32KB", 32768, false},
		{"32KiB", 32768, false},
		{" 4 KiB ", 4096, false},
		{"1M", 1 << 20, false},
		{"2GiB", 2 << 30, false},
		{"512b", 512, false},
		{"", 0, true},
		{"abc", 0, true},
		{"12Q", 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			size, err := ParseSize(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, size)
		})
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "1023 Bytes", FormatBytes(1023))
	assert.Equal(t, "1.00 KiB (1024 Bytes)", FormatBytes(1024))
	assert.Equal(t, "1.50 KiB (1536 Bytes)", FormatBytes(1536))
	assert.Equal(t, "1.00 MiB (1048576 Bytes)", FormatBytes(1024*1024))
	assert.Equal(t, "1.00 GiB (1073741824 Bytes)", FormatBytes(1024*1024*1024))
}

func TestThroughput(t *testing.T) {
	assert.Equal(t, "1.0 KiB/s", Throughput(2048, 2))
	assert.Equal(t, "n/a", Throughput(2048, 0))
}

func TestStringContains(t *testing.T) {
	slice := []string{"apple", "banana", "cherry"}
	assert.True(t, StringContains(slice, "banana"))
	assert.False(t, StringContains(slice, "grape"))
}

func TestExists(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "exists_test")
	assert.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	assert.True(t, Exists(tmpfile.Name()))
	assert.False(t, Exists(tmpfile.Name()+".nonexistent"))
}
