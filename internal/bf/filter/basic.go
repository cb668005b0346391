// Package filter implements the basic Bloom filter and its sizing math.
package filter

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/haukened/bf/internal/bf/hash"
)

var (
	ErrNilHasher  = errors.New("filter: hasher is required")
	ErrZeroCells  = errors.New("filter: cell count must be positive")
	ErrNilStorage = errors.New("filter: bit vector is required")
)

// BloomFilter is the minimal surface consumers need from a membership filter.
// Lookup returns how many times an object may have been inserted; for the
// basic filter that is 0 or 1.
type BloomFilter interface {
	Add(o hash.Object)
	Lookup(o hash.Object) uint64
}

// Basic is a Bloom filter over a fixed-length bit vector.
//
// When partitioned, the vector is split into k equal contiguous slices and
// digest i only addresses slice i. Otherwise every digest addresses the whole
// vector. Basic is not safe for concurrent mutation; callers sharing one
// filter across goroutines must serialize Add against Add and Lookup.
type Basic struct {
	hasher      hash.Hasher
	bits        *bitset.BitSet
	partitioned bool
}

// New returns an empty filter with the given cells. When partitioned and
// cells is not a multiple of the hasher's function count, cells is padded up
// to the next multiple. More than MaxCells cells, or a vector that cannot be
// allocated, fails with ErrInvalidSize.
func New(h hash.Hasher, cells uint64, partitioned bool) (*Basic, error) {
	if h == nil {
		return nil, ErrNilHasher
	}
	if cells == 0 {
		return nil, ErrZeroCells
	}
	if cells <= MaxCells && partitioned {
		cells = padCells(cells, uint64(h.Count()))
	}
	if cells > MaxCells {
		return nil, fmt.Errorf("%w: %d cells exceeds %d", ErrInvalidSize, cells, MaxCells)
	}
	bits := newBitSet(uint(cells))
	// bitset.New returns an empty set when the allocation fails.
	if uint64(bits.Len()) != cells {
		return nil, fmt.Errorf("%w: cannot allocate %d cells", ErrInvalidSize, cells)
	}
	return &Basic{
		hasher:      h,
		bits:        bits,
		partitioned: partitioned,
	}, nil
}

// MaxCells is the largest bit vector a filter may be built with.
var MaxCells uint64 = 1 << 36

// newBitSet allocates filter storage. Tests replace it to simulate
// allocation failure.
var newBitSet = bitset.New

// NewWithHashCount returns an empty, non-partitioned filter using the default
// hash family (seed 0, independent functions) with k functions.
func NewWithHashCount(k int, cells uint64) (*Basic, error) {
	h, err := hash.New(k, 0, false)
	if err != nil {
		return nil, err
	}
	return New(h, cells, false)
}

// TargetOptions selects the hash family and addressing mode for NewFromTarget.
type TargetOptions struct {
	Seed          uint64
	DoubleHashing bool
	Partitioned   bool
}

// DefaultTargetOptions returns seed 0 with double hashing and partitioning.
func DefaultTargetOptions() TargetOptions {
	return TargetOptions{Seed: 0, DoubleHashing: true, Partitioned: true}
}

// NewFromTarget sizes a filter for capacity elements at false-positive rate
// fp using M and K, then builds the matching hash family.
func NewFromTarget(fp float64, capacity uint64, opts TargetOptions) (*Basic, error) {
	cells, err := M(fp, capacity)
	if err != nil {
		return nil, err
	}
	k := K(cells, capacity)
	if k > uint64(maxInt) {
		return nil, fmt.Errorf("%w: k=%d", ErrInvalidSize, k)
	}
	h, err := hash.New(int(k), opts.Seed, opts.DoubleHashing)
	if err != nil {
		return nil, err
	}
	return New(h, cells, opts.Partitioned)
}

const maxInt = int(^uint(0) >> 1)

// NewFromBits wraps bits verbatim as a non-partitioned filter. The vector is
// not copied; the filter takes ownership of it.
func NewFromBits(h hash.Hasher, bits *bitset.BitSet) (*Basic, error) {
	if h == nil {
		return nil, ErrNilHasher
	}
	if bits == nil {
		return nil, ErrNilStorage
	}
	return &Basic{hasher: h, bits: bits}, nil
}

// NewPartitionedFromBits wraps bits verbatim in partitioned mode. The caller
// is responsible for bits.Len() being a multiple of h.Count(); a mismatch
// panics on first use.
func NewPartitionedFromBits(h hash.Hasher, bits *bitset.BitSet) (*Basic, error) {
	f, err := NewFromBits(h, bits)
	if err != nil {
		return nil, err
	}
	f.partitioned = true
	return f, nil
}

// Add marks every cell addressed by o. Adding the same object again leaves
// the vector unchanged.
func (f *Basic) Add(o hash.Object) {
	for _, idx := range f.cells(o) {
		f.bits.Set(idx)
	}
}

// Lookup returns 1 if every cell addressed by o is set and 0 otherwise.
// An inserted object always yields 1; a 1 for anything else is a false
// positive.
func (f *Basic) Lookup(o hash.Object) uint64 {
	if f.bits.Len() == 0 {
		return 0
	}
	for _, idx := range f.cells(o) {
		if !f.bits.Test(idx) {
			return 0
		}
	}
	return 1
}

// MightContain is Lookup as a bool.
func (f *Basic) MightContain(o hash.Object) bool {
	return f.Lookup(o) == 1
}

// cells maps the digests of o to vector indices.
func (f *Basic) cells(o hash.Object) []uint {
	m := uint64(f.bits.Len())
	if m == 0 {
		panic("filter: add on an empty bit vector")
	}
	digests := f.hasher.Hash(o)
	out := make([]uint, len(digests))
	if f.partitioned {
		k := uint64(len(digests))
		if k == 0 || m%k != 0 {
			panic(fmt.Sprintf("filter: %d cells cannot be partitioned across %d digests", m, k))
		}
		parts := m / k
		for i, d := range digests {
			out[i] = uint(uint64(i)*parts + d%parts)
		}
		return out
	}
	for i, d := range digests {
		out[i] = uint(d % m)
	}
	return out
}

// Swap exchanges the bit vector, hasher and addressing mode of f and other.
func (f *Basic) Swap(other *Basic) {
	f.hasher, other.hasher = other.hasher, f.hasher
	f.bits, other.bits = other.bits, f.bits
	f.partitioned, other.partitioned = other.partitioned, f.partitioned
}

// Clone returns an independent filter with a copy of f's vector and the same
// hasher and addressing mode.
func (f *Basic) Clone() *Basic {
	return &Basic{hasher: f.hasher, bits: f.bits.Clone(), partitioned: f.partitioned}
}

// Storage returns a copy of the bit vector.
func (f *Basic) Storage() *bitset.BitSet {
	return f.bits.Clone()
}

// Cells returns the length of the bit vector.
func (f *Basic) Cells() uint64 {
	return uint64(f.bits.Len())
}

// HashFunctionCount returns k.
func (f *Basic) HashFunctionCount() int {
	return f.hasher.Count()
}

// Hasher returns the digest provider used for addressing.
func (f *Basic) Hasher() hash.Hasher {
	return f.hasher
}

// Partitioned reports whether each hash function owns a slice of the vector.
func (f *Basic) Partitioned() bool {
	return f.partitioned
}

var _ BloomFilter = (*Basic)(nil)
