// Package digest computes whole-stream content digests over the original
// block bytes, in position order.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/blake3"

	"github.com/zhengshuai-xiao/blkimg/internal"
)

const (
	SHA256 = "sha256"
	BLAKE3 = "blake3"
	XXH64  = "xxh64"
)

var constructors = map[string]func() hash.Hash{
	SHA256: sha256.New,
	BLAKE3: func() hash.Hash { return blake3.New() },
	XXH64:  func() hash.Hash { return xxhash.New() },
}

// Names lists the supported algorithms.
func Names() []string {
	return []string{SHA256, BLAKE3, XXH64}
}

// Sum is the final digest of one algorithm.
type Sum struct {
	Name string `yaml:"name"`
	Hex  string `yaml:"hex"`
}

func (s Sum) String() string {
	return fmt.Sprintf("%s: %s", s.Name, s.Hex)
}

// Set feeds the same bytes to every requested hash. Not safe for concurrent
// use; the sequencer owns it.
type Set struct {
	names  []string
	hashes []hash.Hash
}

// New builds a Set in the order the names were requested. Repeated names are
// kept once. An empty list gives an empty Set whose Sums is nil.
func New(names []string) (*Set, error) {
	s := &Set{}
	for _, name := range names {
		if internal.StringContains(s.names, name) {
			continue
		}
		ctor, ok := constructors[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown hash %q", internal.ErrInvalidConfig, name)
		}
		s.names = append(s.names, name)
		s.hashes = append(s.hashes, ctor())
	}
	return s, nil
}

func (s *Set) Empty() bool {
	return len(s.hashes) == 0
}

func (s *Set) Names() []string {
	return s.names
}

// Write never fails; hash.Hash writes do not return errors.
func (s *Set) Write(p []byte) (int, error) {
	for _, h := range s.hashes {
		h.Write(p)
	}
	return len(p), nil
}

// Sums finalizes every hash as lowercase hex.
func (s *Set) Sums() []Sum {
	if s.Empty() {
		return nil
	}
	sums := make([]Sum, len(s.hashes))
	for i, h := range s.hashes {
		sums[i] = Sum{Name: s.names[i], Hex: hex.EncodeToString(h.Sum(nil))}
	}
	return sums
}

// Fingerprint identifies block content for deduplication.
type Fingerprint [32]byte

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

func FingerprintOf(data []byte) Fingerprint {
	return blake3.Sum256(data)
}
