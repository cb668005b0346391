// Package codec reads and writes the versioned binary format of basic Bloom
// filters.
package codec

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/google/uuid"

	"github.com/haukened/bf/internal/bf/filter"
)

const (
	// MarkerV2 opens a v2 stream (metadata, no hash count).
	MarkerV2 = "93d4c313-eed5-434e-bddd-34bd2ba23a12"
	// MarkerV3 opens a v3 stream (metadata and hash count).
	MarkerV3 = "0c6d58e9-8b47-4f3e-9d52-5f1e2a7c3b80"

	// MarkerBytes is the length of a marker in its canonical text form.
	MarkerBytes = 36

	// DefaultHashCount is assumed for generations that do not store k.
	DefaultHashCount = 1
)

// MaxCells bounds the vector length accepted from a stream so a corrupt
// length field fails fast instead of allocating.
var MaxCells = filter.MaxCells

var (
	markerV2 = uuid.MustParse(MarkerV2)
	markerV3 = uuid.MustParse(MarkerV3)
)

var (
	ErrFileNotFound  = errors.New("codec: filter file does not exist")
	ErrTruncated     = errors.New("codec: stream truncated")
	ErrBadLength     = errors.New("codec: bit vector length out of range")
	ErrBadHashCount  = errors.New("codec: stored hash function count invalid")
	ErrNilFilter     = errors.New("codec: filter is required")
	ErrPartitionSize = errors.New("codec: bit vector cannot be partitioned across the stored hash functions")
)

// Generation identifies an on-disk layout.
type Generation uint8

const (
	GenerationLegacy Generation = iota
	GenerationV2
	GenerationV3
)

func (g Generation) String() string {
	switch g {
	case GenerationLegacy:
		return "legacy"
	case GenerationV2:
		return "v2"
	case GenerationV3:
		return "v3"
	default:
		return fmt.Sprintf("generation(%d)", uint8(g))
	}
}

// Metadata is caller-owned data stored next to the bit vector.
type Metadata struct {
	K         uint64
	Z         uint64
	Canonical bool
}

// Record is the decoded content of a stream.
type Record struct {
	Generation Generation
	Meta       Metadata
	// HasMetadata is false only for legacy streams.
	HasMetadata bool
	HashCount   int
	Bits        *bitset.BitSet
}
