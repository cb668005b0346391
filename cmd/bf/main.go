package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/haukened/bf/internal/bf/codec"
	"github.com/haukened/bf/internal/bf/common/clock"
	"github.com/haukened/bf/internal/bf/common/log"
	"github.com/haukened/bf/internal/bf/config"
	"github.com/haukened/bf/internal/bf/filter"
	"github.com/haukened/bf/internal/bf/hash"
	"github.com/haukened/bf/internal/bf/repos/filterstore"
	"github.com/haukened/bf/internal/bf/repos/filterstore/bolt"
	"github.com/haukened/bf/internal/bf/repos/filterstore/lru"
	"github.com/haukened/bf/internal/bf/workload"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "bf"
)

// Application holds the filter and the optional repository for one run.
type Application struct {
	config *config.AppConfig
	filter *filter.Basic
	meta   codec.Metadata
	repo   filterstore.Repository
	store  filterstore.Store
	logger log.Logger
}

func main() {
	cfg, err := config.Load(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v, try -h\n", err)
		os.Exit(1)
	}

	err = log.Configure(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"version":   version,
		"env":       cfg.Env,
		"log_level": cfg.LogLevel,
		"type":      cfg.Type,
		"input":     cfg.Input,
		"query":     cfg.Query,
	}, "Starting "+appName)

	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = app.Run(ctx, os.Stdout)
	stop()
	if cerr := app.Close(); cerr != nil {
		log.Warn(map[string]any{"error": cerr}, "Error closing filter store")
	}
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Run failed")
	}
}

// buildApplication constructs the repository and filter from cfg.
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	logger := log.GetLogger()

	repo, store, err := buildRepository(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}

	f, meta, err := buildFilter(cfg, repo)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, fmt.Errorf("failed to build filter: %w", err)
	}

	logger.Info(map[string]any{
		"cells":       f.Cells(),
		"k":           f.HashFunctionCount(),
		"partitioned": f.Partitioned(),
	}, "Filter ready")

	return &Application{
		config: cfg,
		filter: f,
		meta:   meta,
		repo:   repo,
		store:  store,
		logger: logger,
	}, nil
}

// buildFilter opens the stored filter when cfg.Store.Load is set, loads
// cfg.Load if set, otherwise sizes a new filter from the target rate and
// capacity, falling back to explicit cells and k. It also returns the
// metadata the filter will be saved with.
func buildFilter(cfg *config.AppConfig, repo filterstore.Repository) (*filter.Basic, codec.Metadata, error) {
	meta := codec.Metadata{K: cfg.MetaK, Z: cfg.MetaZ, Canonical: cfg.Canonical}
	family := loadOptions(cfg)

	if cfg.Type != "basic" {
		return nil, meta, fmt.Errorf("invalid bloom filter type %q", cfg.Type)
	}

	if cfg.Store.Load {
		if repo == nil {
			return nil, meta, errors.New("store load requires a filter store")
		}
		e, ok, err := repo.Open(cfg.Store.Name)
		if err != nil {
			return nil, meta, err
		}
		if !ok {
			names, err := repo.Names()
			if err != nil {
				return nil, meta, err
			}
			return nil, meta, fmt.Errorf("no stored filter %q (have %s)", cfg.Store.Name, strings.Join(names, ", "))
		}
		if e.HasMetadata && meta == (codec.Metadata{}) {
			meta = e.Meta
		}
		// Cached entries are shared; insert into a private copy.
		return e.Filter.Clone(), meta, nil
	}

	if cfg.Load != "" {
		f, stored, hasMeta, err := codec.Load(cfg.Load, family)
		if err != nil {
			return nil, meta, err
		}
		// Keep what the file carried unless new metadata was given.
		if hasMeta && meta == (codec.Metadata{}) {
			meta = stored
		}
		return f, meta, nil
	}

	if cfg.FPRate > 0 && cfg.Capacity > 0 {
		f, err := filter.NewFromTarget(cfg.FPRate, cfg.Capacity, targetOptions(cfg))
		return f, meta, err
	}

	if cfg.Cells == 0 {
		return nil, meta, errors.New("need non-zero cells")
	}
	if cfg.HashFunctions <= 0 {
		return nil, meta, errors.New("need non-zero k")
	}
	h, err := hash.NewWithOptions(cfg.HashFunctions, family.Hash)
	if err != nil {
		return nil, meta, err
	}
	f, err := filter.New(h, cfg.Cells, family.Partitioned)
	return f, meta, err
}

// targetOptions starts from filter.DefaultTargetOptions and applies the
// options cfg sets explicitly.
func targetOptions(cfg *config.AppConfig) filter.TargetOptions {
	opts := filter.DefaultTargetOptions()
	opts.Seed = cfg.Seed
	opts.DoubleHashing = boolOr(cfg.DoubleHashing, opts.DoubleHashing)
	opts.Partitioned = boolOr(cfg.Partition, opts.Partitioned)
	return opts
}

// loadOptions describes the hash family and layout used for explicit cells
// and for decoding stored vectors. Both options default to off.
func loadOptions(cfg *config.AppConfig) codec.LoadOptions {
	return codec.LoadOptions{
		Hash:        hash.Options{Seed: cfg.Seed, DoubleHashing: boolOr(cfg.DoubleHashing, false)},
		Partitioned: boolOr(cfg.Partition, false),
	}
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// buildRepository opens the bbolt store and cache when a store path is set.
// Both results are nil otherwise.
func buildRepository(cfg *config.AppConfig, logger log.Logger) (filterstore.Repository, filterstore.Store, error) {
	if cfg.Store.Path == "" {
		return nil, nil, nil
	}

	store, err := bolt.New(cfg.Store.Path, clock.RealClock{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open filter store: %w", err)
	}

	cache, err := lru.New(cfg.Store.CacheSize)
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to create filter cache: %w", err)
	}

	logger.Info(map[string]any{
		"path":       cfg.Store.Path,
		"name":       cfg.Store.Name,
		"cache_size": cfg.Store.CacheSize,
		"filters":    store.Stats().Filters,
	}, "Filter store configured")

	return filterstore.NewRepository(store, cache, loadOptions(cfg), logger), store, nil
}

// Run inserts the input workload, writes the evaluation report to w, then
// persists the filter where configured.
func (app *Application) Run(ctx context.Context, w io.Writer) error {
	cfg := app.config

	inputs, queries, err := workload.LoadFiles(ctx, cfg.Input, cfg.Query, cfg.Numeric, app.logger)
	if err != nil {
		return err
	}

	for _, o := range inputs {
		app.filter.Add(o)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	n := uint64(len(inputs))
	app.logger.Info(map[string]any{
		"inserted":  n,
		"queries":   len(queries),
		"fp_target": cfg.FPRate,
		"fp_model":  filter.FalsePositiveRate(app.filter.Cells(), app.filter.HashFunctionCount(), n),
	}, "Workload inserted")
	if est, ok := referenceEstimate(cfg, app.filter, n); ok {
		app.logger.Debug(map[string]any{"fp_estimate": est}, "Reference filter estimate")
	}

	tally, err := workload.Evaluate(app.filter, queries, w)
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	app.logger.Info(map[string]any{
		"tn":      tally.TN,
		"tp":      tally.TP,
		"fp":      tally.FP,
		"fn":      tally.FN,
		"fp_rate": tally.FalsePositiveRate(),
	}, "Evaluation complete")

	if cfg.Save != "" {
		if err := codec.Save(cfg.Save, app.filter, app.meta); err != nil {
			return fmt.Errorf("failed to save filter: %w", err)
		}
		app.logger.Info(map[string]any{"path": cfg.Save}, "Filter saved")
	}

	if app.repo != nil {
		if err := app.repo.Save(cfg.Store.Name, app.filter, app.meta); err != nil {
			return fmt.Errorf("failed to store filter: %w", err)
		}
		stats := app.repo.RepoStats()
		app.logger.Info(map[string]any{
			"name":    cfg.Store.Name,
			"filters": stats.Store.Filters,
			"version": stats.Store.Version,
		}, "Filter stored")
	}

	return nil
}

// referenceEstimate runs the empirical estimator, which builds a full
// reference filter, only when debug logging is enabled.
func referenceEstimate(cfg *config.AppConfig, f *filter.Basic, n uint64) (float64, bool) {
	if n == 0 || cfg.LogLevel != "debug" {
		return 0, false
	}
	return filter.EmpiricalFalsePositiveRate(f.Cells(), f.HashFunctionCount(), n), true
}

// Close releases the filter store, if any.
func (app *Application) Close() error {
	if app.store == nil {
		return nil
	}
	return app.store.Close()
}
