package codec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bits-and-blooms/bitset"
)

// headerDecoder reads the generation-specific fields that sit between the
// marker and the bit vector.
type headerDecoder interface {
	decodeHeader(r io.Reader, rec *Record) error
}

type legacyDecoder struct{}

func (legacyDecoder) decodeHeader(_ io.Reader, rec *Record) error {
	rec.HashCount = DefaultHashCount
	return nil
}

type v2Decoder struct{}

func (v2Decoder) decodeHeader(r io.Reader, rec *Record) error {
	if err := readMetadata(r, &rec.Meta); err != nil {
		return err
	}
	rec.HasMetadata = true
	rec.HashCount = DefaultHashCount
	return nil
}

type v3Decoder struct{}

func (v3Decoder) decodeHeader(r io.Reader, rec *Record) error {
	if err := readMetadata(r, &rec.Meta); err != nil {
		return err
	}
	rec.HasMetadata = true
	k, err := readU64(r, "hash count")
	if err != nil {
		return err
	}
	if k == 0 || k > uint64(maxInt) {
		return fmt.Errorf("%w: %d", ErrBadHashCount, k)
	}
	rec.HashCount = int(k)
	return nil
}

const maxInt = int(^uint(0) >> 1)

var decoders = map[Generation]headerDecoder{
	GenerationLegacy: legacyDecoder{},
	GenerationV2:     v2Decoder{},
	GenerationV3:     v3Decoder{},
}

// Decode reads one filter record from r. The generation is chosen once from
// the leading marker; a stream shorter than a marker or with unknown leading
// bytes is decoded as legacy from its first byte.
func Decode(r io.Reader) (*Record, error) {
	br := bufio.NewReader(r)
	gen, err := detectGeneration(br)
	if err != nil {
		return nil, err
	}

	rec := &Record{Generation: gen}
	if err := decoders[gen].decodeHeader(br, rec); err != nil {
		return nil, err
	}
	bits, err := readBits(br)
	if err != nil {
		return nil, err
	}
	rec.Bits = bits
	return rec, nil
}

// Unmarshal decodes a record held in memory.
func Unmarshal(data []byte) (*Record, error) {
	return Decode(bytes.NewReader(data))
}

// detectGeneration peeks at the marker and consumes it only when it matches.
func detectGeneration(br *bufio.Reader) (Generation, error) {
	peek, err := br.Peek(MarkerBytes)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("codec: reading marker: %w", err)
	}
	var gen Generation
	switch {
	case bytes.Equal(peek, []byte(markerV3.String())):
		gen = GenerationV3
	case bytes.Equal(peek, []byte(markerV2.String())):
		gen = GenerationV2
	default:
		return GenerationLegacy, nil
	}
	if _, err := br.Discard(MarkerBytes); err != nil {
		return 0, fmt.Errorf("codec: skipping marker: %w", err)
	}
	return gen, nil
}

func readMetadata(r io.Reader, m *Metadata) error {
	var err error
	if m.K, err = readU64(r, "K"); err != nil {
		return err
	}
	if m.Z, err = readU64(r, "z"); err != nil {
		return err
	}
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return truncated("canonical", err)
	}
	m.Canonical = b[0] != 0
	return nil
}

func readU64(r io.Reader, field string) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, truncated(field, err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// readBits reads the length-prefixed, LSB-first packed vector. Storage grows
// with the bytes actually read, so a bogus length fails with ErrTruncated
// before it can force a large allocation.
func readBits(r io.Reader) (*bitset.BitSet, error) {
	n, err := readU64(r, "vector length")
	if err != nil {
		return nil, err
	}
	if n > MaxCells {
		return nil, fmt.Errorf("%w: %d cells", ErrBadLength, n)
	}

	nWords := (n + 63) / 64
	words := make([]uint64, 0, min(nWords, chunkBytes/8))
	buf := make([]byte, chunkBytes)
	remaining := (n + 7) / 8
	for remaining > 0 {
		chunk := buf
		if remaining < uint64(len(chunk)) {
			chunk = chunk[:remaining]
		}
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, truncated("bit vector", err)
		}
		remaining -= uint64(len(chunk))
		// Only the final chunk can end mid-word; pad it with zero bytes.
		if tail := len(chunk) % 8; tail != 0 {
			chunk = append(chunk, make([]byte, 8-tail)...)
		}
		for i := 0; i < len(chunk); i += 8 {
			words = append(words, binary.LittleEndian.Uint64(chunk[i:i+8]))
		}
	}
	// High bits of the final byte are don't-care on read.
	if rem := n % 64; rem != 0 {
		words[len(words)-1] &= (uint64(1) << rem) - 1
	}
	return bitset.FromWithLength(uint(n), words), nil
}

// chunkBytes is the read granularity of the packed vector; a multiple of 8.
const chunkBytes = 64 * 1024

func truncated(field string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: reading %s: %w", ErrTruncated, field, io.ErrUnexpectedEOF)
	}
	return fmt.Errorf("codec: reading %s: %w", field, err)
}
