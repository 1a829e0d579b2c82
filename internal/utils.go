package internal

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
)

// ParseSize parses a human readable size using binary units only:
// "32768", "32K", "32KB" and "32KiB" are all 32768 bytes.
func ParseSize(sizeStr string) (uint64, error) {
	s := strings.ToLower(strings.TrimSpace(sizeStr))
	if s == "" {
		return 0, fmt.Errorf("invalid size format: %q", sizeStr)
	}
	s = strings.TrimSuffix(s, "ib")
	s = strings.TrimSuffix(s, "b")
	if s != "" {
		switch last := s[len(s)-1]; last {
		case 'k', 'm', 'g', 't', 'p', 'e':
			s = s[:len(s)-1] + string(last) + "ib"
		}
	}
	size, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size format: %q", sizeStr)
	}
	return size, nil
}

// FormatBytes renders n with a binary unit and the exact byte count.
func FormatBytes(n uint64) string {
	if n < 1024 {
		return fmt.Sprintf("%d Bytes", n)
	}
	units := []string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}
	v := float64(n)
	i := -1
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s (%d Bytes)", v, units[i], n)
}

// Throughput renders a bytes-per-second rate, e.g. "1.2 GiB/s".
func Throughput(bytes uint64, seconds float64) string {
	if seconds <= 0 {
		return "n/a"
	}
	return humanize.IBytes(uint64(float64(bytes)/seconds)) + "/s"
}

func StringContains(s []string, e string) bool {
	for _, item := range s {
		if item == e {
			return true
		}
	}
	return false
}

func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
