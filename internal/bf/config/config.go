package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig holds the settings of a single bf run.
type AppConfig struct {
	// Config is an optional YAML, JSON or TOML file layered under env and flags.
	Config string `koanf:"config"`

	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// Type selects the filter implementation. Only "basic" exists.
	Type string `koanf:"type" validate:"required,oneof=basic"`

	// HashFunctions and Cells size the filter directly when FPRate or Capacity is zero.
	HashFunctions int    `koanf:"hash_functions" validate:"gte=0"`
	Cells         uint64 `koanf:"cells"`

	// FPRate and Capacity size the filter from a target false-positive rate.
	FPRate   float64 `koanf:"fp_rate" validate:"probability"`
	Capacity uint64  `koanf:"capacity"`

	Seed uint64 `koanf:"seed"`

	// Partition and DoubleHashing are nil when not given, so each sizing
	// path can apply its own default.
	Partition     *bool `koanf:"partition,omitempty"`
	DoubleHashing *bool `koanf:"double_hashing,omitempty"`

	// Numeric hashes elements by their float64 value instead of their text.
	Numeric bool `koanf:"numeric"`

	Input string `koanf:"input" validate:"required"`
	Query string `koanf:"query" validate:"required"`

	// Save and Load are filter file paths. Load replaces sizing.
	Save string `koanf:"save"`
	Load string `koanf:"load"`

	// MetaK, MetaZ and Canonical are written verbatim into saved files.
	MetaK     uint64 `koanf:"meta_k"`
	MetaZ     uint64 `koanf:"meta_z"`
	Canonical bool   `koanf:"canonical"`

	Store StoreConfig `koanf:"store"`
}

// StoreConfig describes the optional bbolt filter repository.
type StoreConfig struct {
	// Path is the database file. Empty disables the repository.
	Path string `koanf:"path"`

	// Name is the key the filter is saved under.
	Name string `koanf:"name" validate:"required_with=Path"`

	// CacheSize bounds the decoded filter cache; 0 disables it.
	CacheSize int `koanf:"cache_size" validate:"gte=0"`

	// Load starts from the filter stored under Name instead of sizing one.
	Load bool `koanf:"load"`
}

// DEFAULT_APP_CONFIG defines the default configuration. Input, Query and the
// filter size have no defaults and must be supplied.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:      "prod",
	LogLevel: "info",
	Type:     "basic",
	Store: StoreConfig{
		Name:      "default",
		CacheSize: 16,
	},
}

// flagKeys maps command-line flag names to koanf keys.
var flagKeys = map[string]string{
	"config":           "config",
	"env":              "env",
	"log-level":        "log_level",
	"type":             "type",
	"hash-functions":   "hash_functions",
	"cells":            "cells",
	"fp-rate":          "fp_rate",
	"capacity":         "capacity",
	"seed":             "seed",
	"partition":        "partition",
	"double-hashing":   "double_hashing",
	"numeric":          "numeric",
	"input":            "input",
	"query":            "query",
	"save":             "save",
	"load":             "load",
	"meta-k":           "meta_k",
	"meta-z":           "meta_z",
	"canonical":        "canonical",
	"store-path":       "store.path",
	"store-name":       "store.name",
	"store-cache-size": "store.cache_size",
	"store-load":       "store.load",
}

// validProbability accepts 0 (unset) or a value strictly between 0 and 1.
func validProbability(fl validator.FieldLevel) bool {
	p := fl.Field().Float()
	return p == 0 || (p > 0 && p < 1)
}

// validSizing requires a way to size the filter: a file or stored filter to
// load, a target false-positive rate with capacity, or explicit cells with
// hash functions.
func validSizing(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(AppConfig)
	if cfg.Store.Load {
		if cfg.Store.Path == "" {
			sl.ReportError(cfg.Store.Load, "Store.Load", "store.load", "store_path_required", "")
		}
		if cfg.Load != "" {
			sl.ReportError(cfg.Store.Load, "Store.Load", "store.load", "excluded_with_load", "")
		}
		return
	}
	if cfg.Load != "" {
		return
	}
	if cfg.FPRate > 0 && cfg.Capacity > 0 {
		return
	}
	if cfg.Cells == 0 {
		sl.ReportError(cfg.Cells, "Cells", "cells", "nonzero_cells", "")
	}
	if cfg.HashFunctions == 0 {
		sl.ReportError(cfg.HashFunctions, "HashFunctions", "hash_functions", "nonzero_k", "")
	}
}

// envLoader loads environment variables with the prefix "BF_". Keys are
// lowercased and "store_" becomes the "store." section.
// It can be mocked in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "BF_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "BF_"))
			if rest, ok := strings.CutPrefix(key, "store_"); ok {
				key = "store." + rest
			}
			return key, strings.TrimSpace(value)
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG using the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// fileLoader loads a config file, choosing the parser by extension.
var fileLoader = func(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	case ".toml":
		parser = toml.Parser()
	default:
		return fmt.Errorf("unsupported config file type: %s", path)
	}
	return k.Load(file.Provider(path), parser)
}

// flagParser parses args and returns only the flags that were set, keyed by
// koanf key, so unset flags do not mask the file, env or defaults.
var flagParser = func(args []string, usage io.Writer) (map[string]any, error) {
	fs := newFlagSet(usage)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	set := map[string]any{}
	fs.Visit(func(f *flag.Flag) {
		if getter, ok := f.Value.(flag.Getter); ok {
			set[flagKeys[f.Name]] = getter.Get()
		}
	})
	return set, nil
}

// registerValidation registers the custom field and struct rules.
var registerValidation = func(v *validator.Validate) error {
	if err := v.RegisterValidation("probability", validProbability); err != nil {
		return err
	}
	v.RegisterStructValidation(validSizing, AppConfig{})
	return nil
}

func newFlagSet(usage io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("bf", flag.ContinueOnError)
	fs.SetOutput(usage)
	fs.String("config", "", "YAML, JSON or TOML config file")
	fs.String("env", "", "runtime environment (dev, prod)")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("type", "", "filter type (basic)")
	fs.Int("hash-functions", 0, "number of hash functions k")
	fs.Uint64("cells", 0, "number of cells m")
	fs.Float64("fp-rate", 0, "target false-positive rate")
	fs.Uint64("capacity", 0, "expected number of elements")
	fs.Uint64("seed", 0, "hash family seed")
	fs.Bool("partition", false, "partition the bit vector per hash function (default true with -fp-rate)")
	fs.Bool("double-hashing", false, "derive digests by double hashing (default true with -fp-rate)")
	fs.Bool("numeric", false, "treat elements as numbers")
	fs.String("input", "", "file of elements to insert, one per line")
	fs.String("query", "", "query file of count and element lines (uniq -c output)")
	fs.String("save", "", "write the filter to this file")
	fs.String("load", "", "read the filter from this file instead of sizing a new one")
	fs.Uint64("meta-k", 0, "K metadata written with -save")
	fs.Uint64("meta-z", 0, "z metadata written with -save")
	fs.Bool("canonical", false, "canonical metadata flag written with -save")
	fs.String("store-path", "", "bbolt database to save the filter into")
	fs.String("store-name", "", "name of the filter in the store")
	fs.Int("store-cache-size", 0, "decoded filter cache size (0 disables)")
	fs.Bool("store-load", false, "start from the filter stored under -store-name instead of sizing one")
	return fs
}

// Load builds an AppConfig from defaults, then the config file named by
// -config or BF_CONFIG, then BF_* environment variables, then command-line
// args, and validates the result. Usage text for -h is written to usage; in
// that case the error wraps flag.ErrHelp.
func Load(args []string, usage io.Writer) (*AppConfig, error) {
	k := koanf.New(".")

	flags, err := flagParser(args, usage)
	if err != nil {
		return nil, fmt.Errorf("error loading flags: %w", err)
	}

	err = defaultLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	path, _ := flags["config"].(string)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("BF_CONFIG"))
	}
	if path != "" {
		err = fileLoader(k, path)
		if err != nil {
			return nil, fmt.Errorf("error loading config file: %w", err)
		}
	}

	err = envLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	err = k.Load(confmap.Provider(flags, "."), nil)
	if err != nil {
		return nil, fmt.Errorf("error loading flags: %w", err)
	}

	var cfg AppConfig

	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	err = registerValidation(validate)
	if err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	err = validate.Struct(&cfg)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
