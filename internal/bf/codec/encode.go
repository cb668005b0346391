package codec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bits-and-blooms/bitset"

	"github.com/haukened/bf/internal/bf/filter"
)

// Encode writes bits in the v3 layout.
func Encode(w io.Writer, bits *bitset.BitSet, hashCount int, meta Metadata) error {
	if hashCount <= 0 {
		return fmt.Errorf("%w: %d", ErrBadHashCount, hashCount)
	}
	bw := bufio.NewWriter(w)

	if _, err := bw.WriteString(markerV3.String()); err != nil {
		return fmt.Errorf("codec: writing marker: %w", err)
	}
	var canonical byte
	if meta.Canonical {
		canonical = 1
	}
	// K | z | canonical | hashCount | n
	var hdr [33]byte
	binary.LittleEndian.PutUint64(hdr[0:8], meta.K)
	binary.LittleEndian.PutUint64(hdr[8:16], meta.Z)
	hdr[16] = canonical
	binary.LittleEndian.PutUint64(hdr[17:25], uint64(hashCount))
	binary.LittleEndian.PutUint64(hdr[25:33], uint64(bits.Len()))
	if _, err := bw.Write(hdr[:]); err != nil {
		return fmt.Errorf("codec: writing header: %w", err)
	}

	if err := writeBits(bw, bits); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("codec: flushing: %w", err)
	}
	return nil
}

// EncodeFilter writes f with meta in the v3 layout.
func EncodeFilter(w io.Writer, f *filter.Basic, meta Metadata) error {
	if f == nil {
		return ErrNilFilter
	}
	return Encode(w, f.Storage(), f.HashFunctionCount(), meta)
}

// Marshal returns the v3 encoding of f with meta.
func Marshal(f *filter.Basic, meta Metadata) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeFilter(&buf, f, meta); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeBits(bw *bufio.Writer, bits *bitset.BitSet) error {
	n := bits.Len()
	for i := uint(0); i < n; {
		var b byte
		for mask := byte(1); mask != 0 && i < n; mask <<= 1 {
			if bits.Test(i) {
				b |= mask
			}
			i++
		}
		if err := bw.WriteByte(b); err != nil {
			return fmt.Errorf("codec: writing bit vector: %w", err)
		}
	}
	return nil
}
