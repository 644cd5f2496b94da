// Package config loads the smj-graph configuration file.
//
// The file lives at os.UserConfigDir()/smj-graph/config.yaml:
//
//	location: ~/Music
//	database: ~/.smj-graph
//	backend: graph        # graph, sqlite or bleve
//	workers: 0            # 0 = one per CPU
//	debug: false
//	exclude:              # doublestar patterns relative to location
//	  - "**/.AppleDouble"
//	events:
//	  buffer: 4096
//	  interval: 50ms
//	load:
//	  chunk: 10
//	  useful: 500
//	  strict_parents: false
//
// Every key is optional; a missing file yields the defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"smj-graph/internal/datastore"
	"smj-graph/internal/docfile"
	"smj-graph/internal/nodegraph"
)

const (
	appDir   = "smj-graph"
	fileName = "config.yaml"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Events configures graph event delivery.
type Events struct {
	Buffer   int           `yaml:"buffer"`
	Interval time.Duration `yaml:"interval"`
}

// Load configures background document loading.
type Load struct {
	Chunk         int  `yaml:"chunk"`
	Useful        int  `yaml:"useful"`
	StrictParents bool `yaml:"strict_parents"`
}

// Config is the decoded configuration file.
type Config struct {
	Location string   `yaml:"location"`
	Database string   `yaml:"database"`
	Backend  string   `yaml:"backend"`
	Workers  int      `yaml:"workers"`
	Debug    bool     `yaml:"debug"`
	Exclude  []string `yaml:"exclude"`
	Events   Events   `yaml:"events"`
	Load     Load     `yaml:"load"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Location: "~/Music",
		Database: "~/.smj-graph",
		Backend:  datastore.BackendGraph,
		Events: Events{
			Buffer:   nodegraph.DefaultEventBuffer,
			Interval: nodegraph.DefaultEventInterval,
		},
		Load: Load{
			Chunk:  docfile.DefaultChunkSize,
			Useful: docfile.DefaultUsefulThreshold,
		},
	}
}

// Path returns the default configuration file path.
func Path() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	return filepath.Join(base, appDir, fileName), nil
}

// LoadFrom reads the file at path over the defaults. A missing file is not
// an error.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	switch c.Backend {
	case datastore.BackendGraph, datastore.BackendSQLite, datastore.BackendBleve:
	default:
		return fmt.Errorf("%w: backend %q", ErrInvalid, c.Backend)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers %d", ErrInvalid, c.Workers)
	}
	if c.Events.Buffer < 0 || c.Events.Interval < 0 {
		return fmt.Errorf("%w: events", ErrInvalid)
	}
	if c.Load.Chunk < 0 || c.Load.Useful < 0 {
		return fmt.Errorf("%w: load", ErrInvalid)
	}
	return nil
}

// LoadOptions converts the load section for the document loader.
func (c *Config) LoadOptions() *docfile.LoadOptions {
	return &docfile.LoadOptions{
		ChunkSize:       c.Load.Chunk,
		UsefulThreshold: c.Load.Useful,
		StrictParents:   c.Load.StrictParents,
	}
}

// ExpandPath resolves a leading ~ and makes path absolute.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
