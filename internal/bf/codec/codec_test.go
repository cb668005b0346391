package codec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/bf/internal/bf/filter"
	"github.com/haukened/bf/internal/bf/hash"
)

// packed builds a length-prefixed LSB-first vector exactly as legacy writers did.
func packed(n uint64, set ...uint64) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, n)
	body := make([]byte, (n+7)/8)
	for _, i := range set {
		body[i/8] |= 1 << (i % 8)
	}
	buf.Write(body)
	return buf.Bytes()
}

func metaBytes(m Metadata) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, m.K)
	_ = binary.Write(&buf, binary.LittleEndian, m.Z)
	if m.Canonical {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func v2Stream(m Metadata, vector []byte) []byte {
	out := append([]byte(MarkerV2), metaBytes(m)...)
	return append(out, vector...)
}

func bitsOf(n uint, set ...uint) *bitset.BitSet {
	b := bitset.New(n)
	for _, i := range set {
		b.Set(i)
	}
	return b
}

func TestEncode_ExactLayout(t *testing.T) {
	var buf bytes.Buffer
	meta := Metadata{K: 31, Z: 3, Canonical: true}
	require.NoError(t, Encode(&buf, bitsOf(10, 0, 3, 9), 2, meta))

	var want bytes.Buffer
	want.WriteString(MarkerV3)
	want.Write(metaBytes(meta))
	_ = binary.Write(&want, binary.LittleEndian, uint64(2))
	want.Write(packed(10, 0, 3, 9))

	assert.Equal(t, want.Bytes(), buf.Bytes())
	assert.Equal(t, []byte{0b0000_1001, 0b0000_0010}, buf.Bytes()[buf.Len()-2:])
}

func TestRoundTrip_V3(t *testing.T) {
	f, err := filter.NewWithHashCount(3, 10000)
	require.NoError(t, err)
	for _, s := range []string{"foo", "bar", "baz"} {
		f.Add(hash.String(s))
	}
	meta := Metadata{K: 31, Z: 3, Canonical: false}

	data, err := Marshal(f, meta)
	require.NoError(t, err)
	rec, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, GenerationV3, rec.Generation)
	assert.True(t, rec.HasMetadata)
	assert.Equal(t, meta, rec.Meta)
	assert.Equal(t, 3, rec.HashCount)
	assert.True(t, rec.Bits.Equal(f.Storage()))

	loaded, err := rec.Filter(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), loaded.Lookup(hash.String("foo")))
	assert.Equal(t, 3, loaded.HashFunctionCount())
}

func TestDecode_V2(t *testing.T) {
	meta := Metadata{K: 1 << 40, Z: 7, Canonical: true}
	rec, err := Unmarshal(v2Stream(meta, packed(20, 1, 19)))
	require.NoError(t, err)

	assert.Equal(t, GenerationV2, rec.Generation)
	assert.True(t, rec.HasMetadata)
	assert.Equal(t, meta, rec.Meta)
	assert.Equal(t, DefaultHashCount, rec.HashCount)
	assert.True(t, rec.Bits.Equal(bitsOf(20, 1, 19)))
}

func TestDecode_Legacy(t *testing.T) {
	rec, err := Unmarshal(packed(300, 0, 8, 299))
	require.NoError(t, err)

	assert.Equal(t, GenerationLegacy, rec.Generation)
	assert.False(t, rec.HasMetadata)
	assert.Equal(t, Metadata{}, rec.Meta)
	assert.Equal(t, DefaultHashCount, rec.HashCount)
	assert.True(t, rec.Bits.Equal(bitsOf(300, 0, 8, 299)))
}

func TestDecode_LegacyShorterThanMarker(t *testing.T) {
	// 8-byte length + 1 byte body: shorter than a marker, still legacy.
	rec, err := Unmarshal(packed(5, 4))
	require.NoError(t, err)
	assert.Equal(t, GenerationLegacy, rec.Generation)
	assert.True(t, rec.Bits.Equal(bitsOf(5, 4)))

	rec, err = Unmarshal(packed(0))
	require.NoError(t, err)
	assert.Equal(t, uint(0), rec.Bits.Len())
}

func TestDetectGeneration_UnknownMarkerIsLegacy(t *testing.T) {
	foreign := "ffffffff-eed5-434e-bddd-34bd2ba23a12" + "trailing"
	br := bufio.NewReader(strings.NewReader(foreign))
	gen, err := detectGeneration(br)
	require.NoError(t, err)
	assert.Equal(t, GenerationLegacy, gen)

	// nothing consumed: the legacy decoder starts at byte 0
	rest, _ := br.Peek(4)
	assert.Equal(t, []byte("ffff"), rest)
}

func TestDecode_IgnoresPaddingBits(t *testing.T) {
	stream := packed(3, 0, 2)
	stream[len(stream)-1] |= 0b1111_1000
	rec, err := Unmarshal(stream)
	require.NoError(t, err)
	assert.Equal(t, uint(3), rec.Bits.Len())
	assert.Equal(t, uint(2), rec.Bits.Count())
}

func TestDecode_Errors(t *testing.T) {
	full, err := Marshal(mustFilter(t, 2, 100), Metadata{K: 1})
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty stream", nil, ErrTruncated},
		{"v3 cut in metadata", full[:MarkerBytes+5], ErrTruncated},
		{"v3 cut in hash count", full[:MarkerBytes+20], ErrTruncated},
		{"v3 cut in vector", full[:len(full)-3], ErrTruncated},
		{"v2 cut before canonical", v2Stream(Metadata{}, nil)[:MarkerBytes+16], ErrTruncated},
		{"legacy body missing", packed(64)[:8], ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	t.Run("zero hash count", func(t *testing.T) {
		bad := append([]byte{}, full...)
		binary.LittleEndian.PutUint64(bad[MarkerBytes+17:], 0)
		_, err := Unmarshal(bad)
		assert.ErrorIs(t, err, ErrBadHashCount)
	})

	t.Run("vector longer than MaxCells", func(t *testing.T) {
		var buf bytes.Buffer
		_ = binary.Write(&buf, binary.LittleEndian, MaxCells+1)
		_, err := Unmarshal(buf.Bytes())
		assert.ErrorIs(t, err, ErrBadLength)
	})
}

func TestEncode_RejectsBadHashCount(t *testing.T) {
	err := Encode(&bytes.Buffer{}, bitset.New(8), 0, Metadata{})
	assert.ErrorIs(t, err, ErrBadHashCount)
	_, err = Marshal(nil, Metadata{})
	assert.ErrorIs(t, err, ErrNilFilter)
}

func TestSaveLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.bin")

	f := mustFilter(t, 3, 10000)
	for _, s := range []string{"foo", "bar", "baz"} {
		f.Add(hash.String(s))
	}
	const K, z = 31, 3
	require.NoError(t, Save(path, f, Metadata{K: K, Z: z, Canonical: false}))

	loaded, meta, hasMeta, err := Load(path, LoadOptions{})
	require.NoError(t, err)
	assert.True(t, hasMeta)
	assert.Equal(t, uint64(K), meta.K)
	assert.Equal(t, uint64(z), meta.Z)
	assert.False(t, meta.Canonical)
	assert.Equal(t, 3, loaded.HashFunctionCount())
	assert.True(t, loaded.Storage().Equal(f.Storage()))
	assert.Equal(t, uint64(1), loaded.Lookup(hash.String("baz")))
}

func TestSave_UpgradesLegacyToV3(t *testing.T) {
	dir := t.TempDir()
	legacy := filepath.Join(dir, "legacy.bin")
	require.NoError(t, os.WriteFile(legacy, packed(64, 1, 2, 63), 0o600))

	f, meta, hasMeta, err := Load(legacy, LoadOptions{})
	require.NoError(t, err)
	assert.False(t, hasMeta)
	assert.Equal(t, Metadata{}, meta)
	assert.Equal(t, 1, f.HashFunctionCount())

	upgraded := filepath.Join(dir, "upgraded.bin")
	require.NoError(t, Save(upgraded, f, Metadata{K: 21, Z: 5, Canonical: true}))

	data, err := os.ReadFile(upgraded)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte(MarkerV3)))

	again, meta, hasMeta, err := Load(upgraded, LoadOptions{})
	require.NoError(t, err)
	assert.True(t, hasMeta)
	assert.Equal(t, Metadata{K: 21, Z: 5, Canonical: true}, meta)
	assert.True(t, again.Storage().Equal(f.Storage()))
}

func TestLoad_V2File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v2.bin")
	meta := Metadata{K: 31, Z: 0, Canonical: true}
	require.NoError(t, os.WriteFile(path, v2Stream(meta, packed(16, 15)), 0o600))

	f, got, hasMeta, err := Load(path, LoadOptions{})
	require.NoError(t, err)
	assert.True(t, hasMeta)
	assert.Equal(t, meta, got)
	assert.Equal(t, 1, f.HashFunctionCount())
	assert.Equal(t, uint64(16), f.Cells())
}

func TestLoad_MissingFile(t *testing.T) {
	_, _, _, err := Load(filepath.Join(t.TempDir(), "nope.bin"), LoadOptions{})
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestLoad_Partitioned(t *testing.T) {
	dir := t.TempDir()
	opts := filter.TargetOptions{Seed: 4, DoubleHashing: true, Partitioned: true}
	f, err := filter.NewFromTarget(0.01, 200, opts)
	require.NoError(t, err)
	f.Add(hash.String("partitioned"))

	path := filepath.Join(dir, "p.bin")
	require.NoError(t, Save(path, f, Metadata{}))

	lo := LoadOptions{Hash: hash.Options{Seed: 4, DoubleHashing: true}, Partitioned: true}
	loaded, _, _, err := Load(path, lo)
	require.NoError(t, err)
	assert.True(t, loaded.Partitioned())
	assert.Equal(t, uint64(1), loaded.Lookup(hash.String("partitioned")))

	// a vector whose length is not a multiple of the stored k cannot be partitioned
	odd := filepath.Join(dir, "odd.bin")
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, bitset.New(10), 3, Metadata{}))
	require.NoError(t, os.WriteFile(odd, buf.Bytes(), 0o600))
	_, _, _, err = Load(odd, LoadOptions{Partitioned: true})
	assert.ErrorIs(t, err, ErrPartitionSize)
}

func TestSave_Errors(t *testing.T) {
	assert.ErrorIs(t, Save(filepath.Join(t.TempDir(), "x"), nil, Metadata{}), ErrNilFilter)
	err := Save(filepath.Join(t.TempDir(), "missing-dir", "x.bin"), mustFilter(t, 1, 8), Metadata{})
	assert.Error(t, err)
}

func TestGeneration_String(t *testing.T) {
	assert.Equal(t, "legacy", GenerationLegacy.String())
	assert.Equal(t, "v2", GenerationV2.String())
	assert.Equal(t, "v3", GenerationV3.String())
	assert.Equal(t, "generation(9)", Generation(9).String())
}

func mustFilter(t *testing.T, k int, cells uint64) *filter.Basic {
	t.Helper()
	f, err := filter.NewWithHashCount(k, cells)
	require.NoError(t, err)
	return f
}

func TestDecode_HugeLengthFailsWithoutAllocating(t *testing.T) {
	// A legacy stream that claims 2^33 cells but carries no vector bytes.
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, uint64(1)<<33)
	data := buf.Bytes()

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	_, err := Unmarshal(data)
	runtime.ReadMemStats(&after)

	require.ErrorIs(t, err, ErrTruncated)
	allocated := after.TotalAlloc - before.TotalAlloc
	assert.Less(t, allocated, uint64(16<<20), "decoding allocated %d bytes", allocated)
}

func TestDecode_VectorSpanningChunks(t *testing.T) {
	const n = 600_001
	bits := bitset.New(n)
	set := []uint{0, 63, 64, 524_287, 524_288, 599_999, 600_000}
	for _, i := range set {
		bits.Set(i)
	}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, bits, 4, Metadata{K: 1}))

	rec, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint(n), rec.Bits.Len())
	assert.Equal(t, uint(len(set)), rec.Bits.Count())
	assert.True(t, rec.Bits.Equal(bits))
}
