// Package hash provides the digest families that address Bloom filter cells.
package hash

import (
	"encoding/binary"
	"errors"

	"github.com/cespare/xxhash"
	"github.com/spaolacci/murmur3"
)

// Digest is a raw hash value, reduced modulo the vector size by the filter.
type Digest = uint64

// ErrZeroHashCount is returned when a family with no functions is requested.
var ErrZeroHashCount = errors.New("hash: number of hash functions must be positive")

// Hasher maps an Object to Count() digests. Implementations are deterministic
// for a given configuration and safe for concurrent use.
type Hasher interface {
	Hash(o Object) []Digest
	Count() int
}

// Options describes a hash family independent of its function count.
type Options struct {
	Seed          uint64
	DoubleHashing bool
}

// New returns a Hasher producing k digests per object.
//
// Without double hashing, digest i is xxhash64(le64(seed+i) || o), giving k
// independently seeded functions. With double hashing, two 64-bit bases
// h1, h2 come from one murmur3 128-bit pass and digest i is h1 + i*h2.
// murmur3 takes a 32-bit seed, so the high half of seed is folded into the
// low half; seeds below 1<<32 are used as is.
func New(k int, seed uint64, doubleHashing bool) (Hasher, error) {
	if k <= 0 {
		return nil, ErrZeroHashCount
	}
	if doubleHashing {
		return &doubleHasher{k: k, seed: foldSeed(seed)}, nil
	}
	return &defaultHasher{k: k, seed: seed}, nil
}

func foldSeed(seed uint64) uint32 {
	return uint32(seed ^ seed>>32)
}

// NewWithOptions is New with the family taken from opts.
func NewWithOptions(k int, opts Options) (Hasher, error) {
	return New(k, opts.Seed, opts.DoubleHashing)
}

type defaultHasher struct {
	k    int
	seed uint64
}

func (h *defaultHasher) Count() int { return h.k }

func (h *defaultHasher) Hash(o Object) []Digest {
	buf := make([]byte, 8+len(o))
	copy(buf[8:], o)
	out := make([]Digest, h.k)
	for i := range out {
		binary.LittleEndian.PutUint64(buf[:8], h.seed+uint64(i))
		out[i] = xxhash.Sum64(buf)
	}
	return out
}

type doubleHasher struct {
	k    int
	seed uint32
}

func (h *doubleHasher) Count() int { return h.k }

func (h *doubleHasher) Hash(o Object) []Digest {
	h1, h2 := murmur3.Sum128WithSeed(o, h.seed)
	out := make([]Digest, h.k)
	for i := range out {
		out[i] = h1 + uint64(i)*h2
	}
	return out
}
