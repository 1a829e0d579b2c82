package internal

import "encoding/binary"

// BytesToUInt64BigEndian decodes the 8-byte big-endian integers used by the
// chunk framing.
func BytesToUInt64BigEndian(b [8]byte) uint64 {
	return binary.BigEndian.Uint64(b[:])
}

func UInt64ToBytesBigEndian(i uint64) [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], i)
	return b
}
