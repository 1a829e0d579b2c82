package chunk

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/zhengshuai-xiao/blkimg/internal"
	"github.com/zhengshuai-xiao/blkimg/internal/compression"
)

// Reader walks a framed record stream. It is used to verify images; there is
// no restore path built on it.
const frameSlack = 128

type Reader struct {
	r         *bufio.Reader
	blockSize int
}

func NewReader(r io.Reader, blockSize int) *Reader {
	return &Reader{r: bufio.NewReader(r), blockSize: blockSize}
}

// Next returns the next framed record, or io.EOF at a clean end of stream.
func (r *Reader) Next() (Record, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, fmt.Errorf("truncated record header: %w", err)
		}
		return Record{}, err
	}
	var length [8]byte
	copy(length[:], header[:8])
	n := internal.BytesToUInt64BigEndian(length)
	t := Type(header[8])

	switch t {
	case FullOfZeros:
		if n != 0 {
			return Record{}, fmt.Errorf("zero record with length %d", n)
		}
	case Duplicate:
		if n != 8 {
			return Record{}, fmt.Errorf("duplicate record with length %d", n)
		}
	case Raw, Compressed:
		// compressed payloads of tiny blocks carry fixed framing overhead
		if n > uint64(r.blockSize)*2+frameSlack {
			return Record{}, fmt.Errorf("%s record length %d exceeds block size %d", t, n, r.blockSize)
		}
	default:
		return Record{}, fmt.Errorf("unknown record type %d", byte(t))
	}

	rec := Record{Type: t}
	if n > 0 {
		rec.Payload = make([]byte, n)
		if _, err := io.ReadFull(r.r, rec.Payload); err != nil {
			return Record{}, fmt.Errorf("truncated %s payload: %w", t, err)
		}
	}
	return rec, nil
}

// DuplicateOf returns the referenced position of a Duplicate record.
func (rec Record) DuplicateOf() (uint64, bool) {
	if rec.Type != Duplicate || len(rec.Payload) != 8 {
		return 0, false
	}
	var ref [8]byte
	copy(ref[:], rec.Payload)
	return internal.BytesToUInt64BigEndian(ref), true
}

// Expand rebuilds the source bytes from a framed stream. sourceLen is needed
// because a zero record does not carry its length; comp may be nil when the
// stream has no compressed records.
func Expand(stream io.Reader, blockSize int, sourceLen uint64, comp compression.Compressor) ([]byte, error) {
	r := NewReader(stream, blockSize)
	var out bytes.Buffer
	var offsets []uint64

	for position := uint64(0); ; position++ {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("position %d: %w", position, err)
		}
		offsets = append(offsets, uint64(out.Len()))

		switch rec.Type {
		case FullOfZeros:
			size := uint64(blockSize)
			if done := uint64(out.Len()); sourceLen > done && sourceLen-done < size {
				size = sourceLen - done
			}
			out.Write(make([]byte, size))
		case Raw:
			out.Write(rec.Payload)
		case Compressed:
			if comp == nil {
				return nil, fmt.Errorf("position %d: compressed record without a compressor", position)
			}
			data, err := comp.Decompress(rec.Payload, blockSize)
			if err != nil {
				return nil, fmt.Errorf("position %d: %w", position, err)
			}
			out.Write(data)
		case Duplicate:
			ref, _ := rec.DuplicateOf()
			if ref >= position {
				return nil, fmt.Errorf("position %d: duplicate of later position %d", position, ref)
			}
			start := offsets[ref]
			end := offsets[ref+1]
			out.Write(append([]byte(nil), out.Bytes()[start:end]...))
		}
	}
	return out.Bytes(), nil
}
