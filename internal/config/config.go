// Package config loads sift settings from defaults, an optional HCL file and
// SIFT_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/joho/godotenv"

	"github.com/agentic-research/sift/internal/store"
	"github.com/agentic-research/sift/internal/tokens"
	"github.com/agentic-research/sift/internal/vcs"
	"github.com/agentic-research/sift/internal/watch"
	"github.com/agentic-research/sift/internal/worker"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SIFT_"

type Config struct {
	LogLevel    string
	LogFormat   string
	MetricsAddr string

	Store  StoreConfig
	Tokens TokensConfig
	Index  IndexConfig
	Git    GitConfig
	Watch  WatchConfig
}

type StoreConfig struct {
	Backend string
	// Path of the store file; empty means a file under the user config dir.
	Path string
}

type TokensConfig struct {
	Encoding  string
	BatchSize int
	Workers   int
}

type IndexConfig struct {
	CacheSize int
}

type GitConfig struct {
	MaxChanges int
}

type WatchConfig struct {
	Debounce time.Duration
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "console",
		Store:     StoreConfig{Backend: store.BackendSQLite},
		Tokens: TokensConfig{
			Encoding:  tokens.DefaultEncoding,
			BatchSize: worker.DefaultBatchSize,
			Workers:   2,
		},
		Index: IndexConfig{CacheSize: 64},
		Git:   GitConfig{MaxChanges: vcs.DefaultMaxChanges},
		Watch: WatchConfig{Debounce: watch.DefaultDebounce},
	}
}

// DefaultPath is ~/.config/sift/sift.hcl or the platform equivalent.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "sift", "sift.hcl")
}

// Load reads .env from the working directory, then the HCL file at path, then
// the environment. An empty path falls back to DefaultPath, which may be
// absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

type fileConfig struct {
	LogLevel    string      `hcl:"log_level,optional"`
	LogFormat   string      `hcl:"log_format,optional"`
	MetricsAddr string      `hcl:"metrics_addr,optional"`
	Store       *fileStore  `hcl:"store,block"`
	Tokens      *fileTokens `hcl:"tokens,block"`
	Index       *fileIndex  `hcl:"index,block"`
	Git         *fileGit    `hcl:"git,block"`
	Watch       *fileWatch  `hcl:"watch,block"`
}

type fileStore struct {
	Backend string `hcl:"backend,optional"`
	Path    string `hcl:"path,optional"`
}

type fileTokens struct {
	Encoding  string `hcl:"encoding,optional"`
	BatchSize int    `hcl:"batch_size,optional"`
	Workers   int    `hcl:"workers,optional"`
}

type fileIndex struct {
	CacheSize int `hcl:"cache_size,optional"`
}

type fileGit struct {
	MaxChanges int `hcl:"max_changes,optional"`
}

type fileWatch struct {
	Debounce string `hcl:"debounce,optional"`
}

func (c *Config) loadFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	var f fileConfig
	if err := hclsimple.DecodeFile(path, nil, &f); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	setString(&c.LogLevel, f.LogLevel)
	setString(&c.LogFormat, f.LogFormat)
	setString(&c.MetricsAddr, f.MetricsAddr)
	if f.Store != nil {
		setString(&c.Store.Backend, f.Store.Backend)
		setString(&c.Store.Path, f.Store.Path)
	}
	if f.Tokens != nil {
		setString(&c.Tokens.Encoding, f.Tokens.Encoding)
		setInt(&c.Tokens.BatchSize, f.Tokens.BatchSize)
		setInt(&c.Tokens.Workers, f.Tokens.Workers)
	}
	if f.Index != nil {
		setInt(&c.Index.CacheSize, f.Index.CacheSize)
	}
	if f.Git != nil {
		setInt(&c.Git.MaxChanges, f.Git.MaxChanges)
	}
	if f.Watch != nil && f.Watch.Debounce != "" {
		d, err := time.ParseDuration(f.Watch.Debounce)
		if err != nil {
			return fmt.Errorf("%s: watch.debounce: %w", path, err)
		}
		c.Watch.Debounce = d
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LOG_LEVEL":      &c.LogLevel,
		"LOG_FORMAT":     &c.LogFormat,
		"METRICS_ADDR":   &c.MetricsAddr,
		"STORE_BACKEND":  &c.Store.Backend,
		"STORE_PATH":     &c.Store.Path,
		"TOKEN_ENCODING": &c.Tokens.Encoding,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"BATCH_SIZE":       &c.Tokens.BatchSize,
		"WORKERS":          &c.Tokens.Workers,
		"INDEX_CACHE_SIZE": &c.Index.CacheSize,
		"GIT_MAX_CHANGES":  &c.Git.MaxChanges,
	}
	for name, dst := range ints {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
	}

	if v, ok := lookup(EnvPrefix + "WATCH_DEBOUNCE"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sWATCH_DEBOUNCE: %w", EnvPrefix, err)
		}
		c.Watch.Debounce = d
	}
	return nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case store.BackendSQLite, store.BackendJSON, store.BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", store.ErrUnknownBackend, c.Store.Backend))
	}
	if c.Tokens.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("tokens.batch_size must be at least 1, got %d", c.Tokens.BatchSize))
	}
	if c.Tokens.Workers < 1 {
		errs = append(errs, fmt.Errorf("tokens.workers must be at least 1, got %d", c.Tokens.Workers))
	}
	if c.Watch.Debounce < 0 {
		errs = append(errs, errors.New("watch.debounce must not be negative"))
	}
	return errors.Join(errs...)
}

// StorePath resolves the store file, defaulting by backend.
func (c *Config) StorePath() string {
	if c.Store.Path != "" || c.Store.Backend == store.BackendMemory {
		return c.Store.Path
	}
	name := "sift.db"
	if c.Store.Backend == store.BackendJSON {
		name = "store.json"
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "sift", name)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
