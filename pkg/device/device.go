//go:build linux

// Package device opens imaging sources and discovers their size and kind.
package device

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/zhengshuai-xiao/blkimg/internal"
)

var logger = internal.GetLogger("device")

// DirectAlignment is the block size granularity O_DIRECT is attempted for.
const DirectAlignment = 4096

type Kind int

const (
	KindUnknown Kind = iota
	KindRegular
	KindRotational
	KindSSD
	KindNVMe
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular file"
	case KindRotational:
		return "rotational disk"
	case KindSSD:
		return "ssd"
	case KindNVMe:
		return "nvme"
	default:
		return "unknown"
	}
}

func isBlockDevice(st *unix.Stat_t) bool {
	return st.Mode&unix.S_IFMT == unix.S_IFBLK
}

func isRegular(st *unix.Stat_t) bool {
	return st.Mode&unix.S_IFMT == unix.S_IFREG
}

// Size returns the byte length of a regular file or block device.
func Size(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, internal.NewIoError("stat", path, err)
	}
	switch {
	case isRegular(&st):
		return uint64(st.Size), nil
	case isBlockDevice(&st):
		fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err != nil {
			return 0, internal.NewIoError("open", path, err)
		}
		defer unix.Close(fd)
		size, err := unix.IoctlGetInt(fd, unix.BLKGETSIZE64)
		if err != nil {
			return 0, internal.NewIoError("ioctl BLKGETSIZE64", path, err)
		}
		return uint64(size), nil
	default:
		return 0, internal.NewIoError("size", path, fmt.Errorf("%w: not a regular file or block device", internal.ENOTSUP))
	}
}

// Hint guesses the kind of storage behind path from /sys/block. Errors
// degrade to KindUnknown.
func Hint(path string) Kind {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return KindUnknown
	}
	if isRegular(&st) {
		return KindRegular
	}
	if !isBlockDevice(&st) {
		return KindUnknown
	}
	return hintFromSysfs("/sys", unix.Major(uint64(st.Rdev)), unix.Minor(uint64(st.Rdev)))
}

func hintFromSysfs(sysRoot string, major, minor uint32) Kind {
	dev, err := filepath.EvalSymlinks(filepath.Join(sysRoot, "dev", "block", fmt.Sprintf("%d:%d", major, minor)))
	if err != nil {
		logger.Debugf("no sysfs entry for %d:%d: %s", major, minor, err)
		return KindUnknown
	}
	// partitions carry no queue directory; use the parent disk
	if internal.Exists(filepath.Join(dev, "partition")) {
		dev = filepath.Dir(dev)
	}
	if strings.HasPrefix(filepath.Base(dev), "nvme") {
		return KindNVMe
	}
	rotational, err := os.ReadFile(filepath.Join(dev, "queue", "rotational"))
	if err != nil {
		return KindUnknown
	}
	if strings.TrimSpace(string(rotational)) == "1" {
		return KindRotational
	}
	return KindSSD
}

// Source is an open imaging source read with positional reads.
type Source struct {
	fd     int
	path   string
	direct bool
}

// Open opens path read-only. With direct set and blockSize a multiple of
// DirectAlignment the page cache is bypassed (O_DIRECT|O_SYNC); a filesystem
// rejecting O_DIRECT falls back to buffered reads.
func Open(path string, direct bool, blockSize int) (*Source, error) {
	if direct && blockSize%DirectAlignment != 0 {
		logger.Warnf("block size %d is not a multiple of %d, using buffered reads for %s", blockSize, DirectAlignment, path)
		direct = false
	}
	if direct {
		fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC|unix.O_DIRECT|unix.O_SYNC, 0)
		if err == nil {
			return &Source{fd: fd, path: path, direct: true}, nil
		}
		if !errors.Is(err, unix.EINVAL) {
			return nil, internal.NewIoError("open", path, err)
		}
		logger.Warnf("%s does not support O_DIRECT, using buffered reads", path)
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, internal.NewIoError("open", path, err)
	}
	return &Source{fd: fd, path: path}, nil
}

func (s *Source) Path() string {
	return s.path
}

// Direct reports whether reads bypass the page cache.
func (s *Source) Direct() bool {
	return s.direct
}

// ReadFull fills p from off, looping over short reads. A count below len(p)
// with a nil error means the source ended.
func (s *Source) ReadFull(p []byte, off int64) (int, error) {
	return readFull(func(b []byte, at int64) (int, error) {
		return unix.Pread(s.fd, b, at)
	}, p, off, s.direct)
}

// readFull retries short reads. Under O_DIRECT a short count that is still a
// multiple of DirectAlignment keeps the remainder aligned and is retried; an
// unaligned count only happens at the end of the source.
func readFull(pread func([]byte, int64) (int, error), p []byte, off int64, direct bool) (int, error) {
	total := 0
	for total < len(p) {
		n, err := pread(p[total:], off+int64(total))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		total += n
		if direct && n%DirectAlignment != 0 {
			break
		}
	}
	return total, nil
}

func (s *Source) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}
