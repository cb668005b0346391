package hash

import (
	"encoding/binary"
	"math"
)

// Object is the byte representation of an element handed to a Hasher.
// Two values hash identically iff their Objects are byte-equal, so callers
// must use the same constructor for inserts and lookups.
type Object []byte

// String wraps the bytes of s.
func String(s string) Object { return Object(s) }

// Bytes wraps b without copying.
func Bytes(b []byte) Object { return Object(b) }

// Byte wraps a single byte, e.g. an ASCII character.
func Byte(c byte) Object { return Object{c} }

// Uint64 encodes v as 8 little-endian bytes.
func Uint64(v uint64) Object {
	o := make(Object, 8)
	binary.LittleEndian.PutUint64(o, v)
	return o
}

// Int64 encodes v as 8 little-endian bytes of its two's complement form.
func Int64(v int64) Object { return Uint64(uint64(v)) }

// Float64 encodes the IEEE 754 bits of v little-endian.
func Float64(v float64) Object { return Uint64(math.Float64bits(v)) }
