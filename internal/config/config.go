// Package config loads anvil.yaml, .env files and ANVIL_* environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/mstoykov/envconfig"
	"github.com/sirupsen/logrus"
	"golang.org/x/mod/modfile"
	"gopkg.in/yaml.v3"

	"github.com/Benny93/anvil-go/internal/reference"
)

// FileName is the configuration file looked up in the project directory.
const FileName = "anvil.yaml"

// DefaultHintsPath is the hint index directory, relative to the project.
const DefaultHintsPath = ".anvil/hints"

// Config is the project configuration.
type Config struct {
	// Dir is the project directory every relative path is resolved from.
	Dir string `yaml:"-"`

	// Module is the module path, read from go.mod when empty.
	Module   string   `yaml:"module"`
	Patterns []string `yaml:"patterns"`
	Backing  string   `yaml:"backing"`
	Tests    bool     `yaml:"tests"`

	Merge struct {
		Jobs int `yaml:"jobs"`
	} `yaml:"merge"`

	Hints struct {
		Path string `yaml:"path"`

		// Shared are read-only hint indexes of upstream build units.
		Shared []string `yaml:"shared"`
	} `yaml:"hints"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Watch struct {
		Debounce time.Duration `yaml:"debounce"`
	} `yaml:"watch"`
}

// env holds the environment overrides. Empty values are unset.
type env struct {
	Backing   string `envconfig:"ANVIL_BACKING"`
	Jobs      int    `envconfig:"ANVIL_JOBS"`
	HintsPath string `envconfig:"ANVIL_HINTS_PATH"`
	LogLevel  string `envconfig:"ANVIL_LOG_LEVEL"`
	LogFormat string `envconfig:"ANVIL_LOG_FORMAT"`
}

// Default returns the configuration used when no file is present.
func Default(dir string) *Config {
	cfg := &Config{Dir: dir, Patterns: []string{"./..."}, Backing: reference.Semantic.String()}
	cfg.Hints.Path = DefaultHintsPath
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Watch.Debounce = 500 * time.Millisecond
	return cfg
}

// Load reads the configuration of the project in dir. path names the
// configuration file; when empty, dir/anvil.yaml is read if present.
// Environment variables are looked up with lookup, os.LookupEnv when nil,
// falling back to dir/.env.
func Load(dir, path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default(dir)

	explicit := path != ""
	if !explicit {
		path = filepath.Join(dir, FileName)
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if lookup == nil {
		lookup = os.LookupEnv
	}
	dotenv, err := godotenv.Read(filepath.Join(dir, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}
	var e env
	if err := envconfig.Process("", &e, func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	cfg.apply(e)

	if cfg.Module == "" {
		cfg.Module = ModulePath(dir)
	}
	return cfg, cfg.Validate()
}

func (c *Config) apply(e env) {
	if e.Backing != "" {
		c.Backing = e.Backing
	}
	if e.Jobs != 0 {
		c.Merge.Jobs = e.Jobs
	}
	if e.HintsPath != "" {
		c.Hints.Path = e.HintsPath
	}
	if e.LogLevel != "" {
		c.Log.Level = e.LogLevel
	}
	if e.LogFormat != "" {
		c.Log.Format = e.LogFormat
	}
}

// Validate checks field values.
func (c *Config) Validate() error {
	var errs []error
	if _, err := reference.ParseBacking(c.Backing); err != nil {
		errs = append(errs, err)
	}
	if c.Merge.Jobs < 0 {
		errs = append(errs, fmt.Errorf("merge.jobs must not be negative, got %d", c.Merge.Jobs))
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if len(c.Patterns) == 0 {
		errs = append(errs, errors.New("patterns must not be empty"))
	}
	return errors.Join(errs...)
}

// ParsedBacking returns the configured backing.
func (c *Config) ParsedBacking() reference.Backing {
	b, _ := reference.ParseBacking(c.Backing)
	return b
}

// HintsDir returns the absolute hint index directory.
func (c *Config) HintsDir() string {
	return c.resolve(c.Hints.Path)
}

// SharedDirs returns the absolute directories of the shared indexes.
func (c *Config) SharedDirs() []string {
	out := make([]string, len(c.Hints.Shared))
	for i, p := range c.Hints.Shared {
		out[i] = c.resolve(p)
	}
	return out
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// ModulePath reads the module path from dir/go.mod, or returns "".
func ModulePath(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
	if err != nil {
		return ""
	}
	return modfile.ModulePath(data)
}

// NewLogger builds the logger described by c. Verbose forces debug level
// and quiet forces error level.
func (c *Config) NewLogger(out io.Writer, verbose, quiet bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	if c.Log.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	}
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	switch {
	case quiet:
		level = logrus.ErrorLevel
	case verbose:
		level = logrus.DebugLevel
	}
	log.SetLevel(level)
	return log
}
