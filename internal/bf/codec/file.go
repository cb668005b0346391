package codec

import (
	"bufio"
	"fmt"
	"os"

	"go.uber.org/multierr"

	"github.com/haukened/bf/internal/bf/common/log"
	"github.com/haukened/bf/internal/bf/common/utils"
	"github.com/haukened/bf/internal/bf/filter"
	"github.com/haukened/bf/internal/bf/hash"
)

// Save writes f and meta to path in the v3 layout, replacing any existing
// file. A failed write can leave a truncated file behind.
func Save(path string, f *filter.Basic, meta Metadata) (err error) {
	if f == nil {
		return ErrNilFilter
	}
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("codec: creating %s: %w", path, err)
	}
	defer func() {
		err = multierr.Append(err, fh.Close())
	}()

	if err := EncodeFilter(fh, f, meta); err != nil {
		return fmt.Errorf("codec: saving %s: %w", path, err)
	}
	return nil
}

// LoadOptions describes how to rebuild addressing for a decoded vector. The
// format stores only k, so the hash family and partitioning must match what
// the filter was built with.
type LoadOptions struct {
	Hash        hash.Options
	Partitioned bool
}

// Load reads the filter stored at path. The returned bool reports whether the
// file carried metadata; it is false only for legacy files, whose metadata is
// zero. A missing path fails with ErrFileNotFound before anything is read.
func Load(path string, opts LoadOptions) (*filter.Basic, Metadata, bool, error) {
	if !utils.FileExists(path) {
		return nil, Metadata{}, false, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, Metadata{}, false, fmt.Errorf("codec: opening %s: %w", path, err)
	}
	defer fh.Close()

	rec, err := Decode(bufio.NewReader(fh))
	if err != nil {
		return nil, Metadata{}, false, fmt.Errorf("codec: loading %s: %w", path, err)
	}
	log.Debug(map[string]any{
		"path":       path,
		"generation": rec.Generation.String(),
		"cells":      rec.Bits.Len(),
		"k":          rec.HashCount,
	}, "filter_file_decoded")

	f, err := rec.Filter(opts)
	if err != nil {
		return nil, Metadata{}, false, fmt.Errorf("codec: loading %s: %w", path, err)
	}
	return f, rec.Meta, rec.HasMetadata, nil
}

// Filter builds a filter over the record's vector using the stored hash
// count and the family in opts. The record's vector is shared, not copied.
func (r *Record) Filter(opts LoadOptions) (*filter.Basic, error) {
	h, err := hash.NewWithOptions(r.HashCount, opts.Hash)
	if err != nil {
		return nil, err
	}
	if !opts.Partitioned {
		return filter.NewFromBits(h, r.Bits)
	}
	if uint64(r.Bits.Len())%uint64(r.HashCount) != 0 {
		return nil, fmt.Errorf("%w: %d cells, k=%d", ErrPartitionSize, r.Bits.Len(), r.HashCount)
	}
	return filter.NewPartitionedFromBits(h, r.Bits)
}
