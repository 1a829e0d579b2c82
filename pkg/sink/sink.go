// Package sink is where the encoded stream goes: a local file, stdout or an
// S3 object.
package sink

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/zhengshuai-xiao/blkimg/internal"
)

var logger = internal.GetLogger("sink")

const bufferSize = 1 << 20

// Sink receives the stream in order. Close commits it; Abort gives up and
// leaves whatever was written so far in place where the backend allows it.
type Sink interface {
	io.Writer
	Flush() error
	Close() error
	Abort(cause error)
	// Location describes the destination for reports and the manifest.
	Location() string
}

// Open picks the backend from target: "-" is stdout, s3://bucket/key an
// object, anything else a local path.
func Open(ctx context.Context, target string, s3opts *S3Options) (Sink, error) {
	switch {
	case target == "-":
		return newWriterSink(os.Stdout, "stdout"), nil
	case strings.HasPrefix(target, s3Scheme):
		return NewS3(ctx, target, s3opts)
	default:
		return NewFile(target)
	}
}

type writerSink struct {
	*bufio.Writer
	name string
}

func newWriterSink(w io.Writer, name string) *writerSink {
	return &writerSink{Writer: bufio.NewWriterSize(w, bufferSize), name: name}
}

func (s *writerSink) Close() error {
	return s.Flush()
}

func (s *writerSink) Abort(error) {
	_ = s.Flush()
}

func (s *writerSink) Location() string {
	return s.name
}

// FileSink writes through a buffer into a truncated local file.
type FileSink struct {
	file *os.File
	buf  *bufio.Writer
}

func NewFile(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, internal.NewIoError("create", path, err)
	}
	return &FileSink{file: f, buf: bufio.NewWriterSize(f, bufferSize)}, nil
}

func (s *FileSink) Write(p []byte) (int, error) {
	return s.buf.Write(p)
}

func (s *FileSink) Flush() error {
	return s.buf.Flush()
}

// Close flushes, syncs and closes the file.
func (s *FileSink) Close() error {
	if err := s.buf.Flush(); err != nil {
		s.file.Close()
		return internal.NewIoError("write", s.file.Name(), err)
	}
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return internal.NewIoError("fsync", s.file.Name(), err)
	}
	if err := s.file.Close(); err != nil {
		return internal.NewIoError("close", s.file.Name(), err)
	}
	return nil
}

func (s *FileSink) Abort(cause error) {
	logger.Warnf("leaving partial output %s: %s", s.file.Name(), cause)
	if err := s.buf.Flush(); err != nil {
		logger.Debugf("flush partial output: %s", err)
	}
	s.file.Close()
}

func (s *FileSink) Location() string {
	return s.file.Name()
}

// PutBytes stores a small object at target, a local path or s3://bucket/key.
func PutBytes(ctx context.Context, target string, data []byte, s3opts *S3Options) error {
	if strings.HasPrefix(target, s3Scheme) {
		return uploadBytes(ctx, target, data, s3opts)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return internal.NewIoError("write", target, err)
	}
	return nil
}
