package filterstore

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/haukened/bf/internal/bf/codec"
	"github.com/haukened/bf/internal/bf/common/log"
	"github.com/haukened/bf/internal/bf/filter"
)

var (
	ErrEmptyName = errors.New("filterstore: filter name is required")
	ErrNilFilter = errors.New("filterstore: filter is required")
)

// repository implements Repository over a Store and a FilterCache. Records
// are stored in the codec's current layout; opts decides how decoded vectors
// are addressed.
type repository struct {
	mu     sync.RWMutex
	store  Store
	cache  FilterCache
	opts   codec.LoadOptions
	logger log.Logger
	saves  uint64
	opens  uint64
}

// NewRepository constructs a Repository. opts must match the hash family and
// partitioning of the filters being saved, since the format stores only k.
func NewRepository(store Store, cache FilterCache, opts codec.LoadOptions, logger log.Logger) Repository {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &repository{
		store:  store,
		cache:  cache,
		opts:   opts,
		logger: logger.With(map[string]any{"component": "filterstore"}),
	}
}

// Save encodes f with meta under name and drops any cached entry for name.
func (r *repository) Save(name string, f *filter.Basic, meta codec.Metadata) error {
	if name == "" {
		return ErrEmptyName
	}
	if f == nil {
		return ErrNilFilter
	}
	data, err := codec.Marshal(f, meta)
	if err != nil {
		return fmt.Errorf("filterstore: encoding %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Put(name, data); err != nil {
		return fmt.Errorf("filterstore: writing %q: %w", name, err)
	}
	r.cache.Remove(name)
	atomic.AddUint64(&r.saves, 1)
	r.logger.Debug(map[string]any{"name": name, "bytes": len(data), "cells": f.Cells()}, "filter_saved")
	return nil
}

// Open returns the entry stored under name. ok is false when nothing is
// stored under name.
func (r *repository) Open(name string) (Entry, bool, error) {
	if name == "" {
		return Entry{}, false, ErrEmptyName
	}
	atomic.AddUint64(&r.opens, 1)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.cache.Get(name); ok {
		r.logger.Debug(map[string]any{"name": name}, "filter_cache_hit")
		return e, true, nil
	}

	data, ok, err := r.store.Get(name)
	if err != nil {
		return Entry{}, false, fmt.Errorf("filterstore: reading %q: %w", name, err)
	}
	if !ok {
		r.logger.Debug(map[string]any{"name": name}, "filter_not_found")
		return Entry{}, false, nil
	}

	rec, err := codec.Unmarshal(data)
	if err != nil {
		return Entry{}, false, fmt.Errorf("filterstore: decoding %q: %w", name, err)
	}
	f, err := rec.Filter(r.opts)
	if err != nil {
		return Entry{}, false, fmt.Errorf("filterstore: rebuilding %q: %w", name, err)
	}
	e := Entry{Filter: f, Meta: rec.Meta, HasMetadata: rec.HasMetadata, Generation: rec.Generation}
	r.cache.Put(name, e)
	r.logger.Debug(map[string]any{"name": name, "generation": rec.Generation.String()}, "filter_cache_fill")
	return e, true, nil
}

// Names lists stored filter names in key order.
func (r *repository) Names() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names, err := r.store.Names()
	if err != nil {
		return nil, fmt.Errorf("filterstore: listing: %w", err)
	}
	return names, nil
}

// RepoStats returns a snapshot of repository counters with cache and store stats.
func (r *repository) RepoStats() RepoStats {
	return RepoStats{
		Saves: atomic.LoadUint64(&r.saves),
		Opens: atomic.LoadUint64(&r.opens),
		Cache: r.cache.Stats(),
		Store: r.store.Stats(),
	}
}

var _ Repository = (*repository)(nil)
