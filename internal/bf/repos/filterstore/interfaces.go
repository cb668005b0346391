package filterstore

import (
	"github.com/haukened/bf/internal/bf/codec"
	"github.com/haukened/bf/internal/bf/filter"
)

// Store persists encoded filter records by name.
// - Put/Get: raw codec bytes keyed by name
// - Names: all stored names in key order
// - Stats: counts and metadata; Close: release resources
type Store interface {
	Put(name string, record []byte) error
	Get(name string) ([]byte, bool, error)
	Names() ([]string, error)
	Stats() StoreStats
	Close() error
}

// Entry is a decoded filter together with the metadata stored beside it.
// Entries handed out by a Repository may be shared between callers and must
// be treated as read-only.
type Entry struct {
	Filter      *filter.Basic
	Meta        codec.Metadata
	HasMetadata bool
	Generation  codec.Generation
}

// FilterCache caches decoded entries by name with basic metrics.
type FilterCache interface {
	Get(name string) (Entry, bool)
	Put(name string, e Entry)
	Remove(name string)
	Stats() CacheStats
}

// RepoStats exposes repository-level counters and underlying stats.
type RepoStats struct {
	Saves uint64
	Opens uint64
	Cache CacheStats
	Store StoreStats
}

// Repository is the composition layer that wires cache -> store -> codec.
// Save encodes and writes a filter then invalidates its cache entry.
// Open returns the decoded entry for name, consulting the cache first.
// Names lists what is stored.
type Repository interface {
	Save(name string, f *filter.Basic, meta codec.Metadata) error
	Open(name string) (Entry, bool, error)
	Names() ([]string, error)
	RepoStats() RepoStats
}
