package encoding

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Uint64KeySize is the width of a fixed-format sequence key.
const Uint64KeySize = 8

// EncodeUint64Key encodes n big-endian so byte order equals numeric order.
func EncodeUint64Key(n uint64) []byte {
	buf := make([]byte, Uint64KeySize)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

// DecodeUint64Key is the inverse of EncodeUint64Key.
func DecodeUint64Key(b []byte) (uint64, error) {
	if len(b) != Uint64KeySize {
		return 0, fmt.Errorf("sequence key must be %d bytes, got %d", Uint64KeySize, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// EncodeNibbles stores one nibble per byte. Keeping nibbles unpacked makes the
// key length equal the path length and keeps lexicographic order equal to
// path order.
func EncodeNibbles(path []byte) ([]byte, error) {
	out := make([]byte, len(path))
	for i, n := range path {
		if n > 0x0f {
			return nil, fmt.Errorf("nibble %d out of range: 0x%02x", i, n)
		}
		out[i] = n
	}
	return out, nil
}

// DecodeNibbles validates and copies a nibble path key.
func DecodeNibbles(b []byte) ([]byte, error) {
	return EncodeNibbles(b)
}

// KeyString renders a raw key for logs and file names.
func KeyString(b []byte) string {
	if len(b) == 0 {
		return "empty"
	}
	return hex.EncodeToString(b)
}
