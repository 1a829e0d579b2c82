// Package chunk encodes blocks into the on-disk record stream.
//
// Framed records are [length:8 BE][type:1][payload]. Verbatim records carry
// no framing and must not be mixed with framed ones in one stream.
package chunk

import (
	"fmt"
	"io"

	"github.com/zhengshuai-xiao/blkimg/internal"
	"github.com/zhengshuai-xiao/blkimg/internal/compression"
)

type Type byte

const (
	FullOfZeros Type = 0
	Raw         Type = 1
	Compressed  Type = 2
	// Verbatim is never written as a tag.
	Verbatim  Type = 3
	Duplicate Type = 4
)

// HeaderSize is the length prefix plus the type tag.
const HeaderSize = 9

var typeNames = map[Type]string{
	FullOfZeros: "zero",
	Raw:         "raw",
	Compressed:  "compressed",
	Verbatim:    "verbatim",
	Duplicate:   "duplicate",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", byte(t))
}

// Policy selects the encoding. A nil Compressor with Verbatim unset is the
// default zero/raw classification.
type Policy struct {
	Verbatim   bool
	Compressor compression.Compressor
}

func (p Policy) String() string {
	switch {
	case p.Verbatim:
		return "verbatim"
	case p.Compressor != nil:
		return "compressed(" + p.Compressor.TypeString() + ")"
	default:
		return "default"
	}
}

// Dedupable reports whether a block may be replaced by a duplicate reference.
// Verbatim streams are positional so they never dedup; in default mode zero
// blocks keep their shorter zero record.
func (p Policy) Dedupable(data []byte) bool {
	if p.Verbatim {
		return false
	}
	if p.Compressor == nil && IsZero(data) {
		return false
	}
	return true
}

// Record is one encoded block. Payload may alias the input block.
type Record struct {
	Type    Type
	Payload []byte
}

// Len is the number of bytes WriteTo emits.
func (r Record) Len() int {
	switch r.Type {
	case Verbatim:
		return len(r.Payload)
	default:
		return HeaderSize + len(r.Payload)
	}
}

func (r Record) WriteTo(w io.Writer) (int64, error) {
	var written int64
	if r.Type != Verbatim {
		var header [HeaderSize]byte
		length := internal.UInt64ToBytesBigEndian(uint64(len(r.Payload)))
		copy(header[:8], length[:])
		header[8] = byte(r.Type)
		n, err := w.Write(header[:])
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	if len(r.Payload) == 0 {
		return written, nil
	}
	n, err := w.Write(r.Payload)
	written += int64(n)
	return written, err
}

// IsZero reports whether every byte of data is zero.
func IsZero(data []byte) bool {
	for len(data) >= 8 {
		if data[0]|data[1]|data[2]|data[3]|data[4]|data[5]|data[6]|data[7] != 0 {
			return false
		}
		data = data[8:]
	}
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

// Encode classifies data under policy. It is a pure function of its inputs.
// In compressed mode every block is a Compressed record, even when the
// compressed form is the larger one.
func Encode(data []byte, policy Policy) (Record, error) {
	if policy.Verbatim {
		return Record{Type: Verbatim, Payload: data}, nil
	}
	if policy.Compressor != nil {
		compressed, err := policy.Compressor.Compress(data)
		if err != nil {
			return Record{}, fmt.Errorf("%w: %s: %w", internal.ErrEncode, policy.Compressor.TypeString(), err)
		}
		return Record{Type: Compressed, Payload: compressed}, nil
	}
	if IsZero(data) {
		return Record{Type: FullOfZeros}, nil
	}
	return Record{Type: Raw, Payload: data}, nil
}

// EncodeDuplicate references the block already written at position.
func EncodeDuplicate(position uint64) Record {
	ref := internal.UInt64ToBytesBigEndian(position)
	return Record{Type: Duplicate, Payload: ref[:]}
}
