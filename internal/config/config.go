// Package config loads store configuration from defaults, an optional YAML
// file and JSONDB_* environment variables, in that order, and validates the
// result against an embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"go-simpler.org/env"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Config is the store configuration.
type Config struct {
	Backend   string `yaml:"backend" env:"JSONDB_BACKEND" usage:"storage backend: sqlite, badger or memory"`
	Path      string `yaml:"path" env:"JSONDB_PATH" usage:"database file (sqlite) or directory (badger)"`
	LogLevel  string `yaml:"log_level" env:"JSONDB_LOG_LEVEL" usage:"debug, info, warn or error"`
	LogFormat string `yaml:"log_format" env:"JSONDB_LOG_FORMAT" usage:"text or json"`

	// EncryptionKey is read from the environment only.
	EncryptionKey string `yaml:"-" env:"JSONDB_ENCRYPTION_KEY" usage:"secret for sealing sensitive leaves"`

	SensitivePaths  []string `yaml:"sensitive_paths" env:"JSONDB_SENSITIVE_PATHS" usage:"path patterns whose leaves are encrypted"`
	SensitiveFields []string `yaml:"sensitive_fields" env:"JSONDB_SENSITIVE_FIELDS" usage:"member names whose leaves are encrypted"`
	Indexes         []string `yaml:"indexes" env:"JSONDB_INDEXES" usage:"property indexes, <collection>/#<field>"`

	Migrations          string `yaml:"migrations" env:"JSONDB_MIGRATIONS" usage:"migration plan file applied on open"`
	SchemaVersion       int    `yaml:"schema_version" env:"JSONDB_SCHEMA_VERSION" usage:"schema version to migrate to on open, 0 for the latest in the plan"`
	SnapshotCompression string `yaml:"snapshot_compression" env:"JSONDB_SNAPSHOT_COMPRESSION" usage:"export codec: none, zstd, snappy or lz4"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Backend:             BackendSQLite,
		Path:                "jsondb.db",
		LogLevel:            "info",
		LogFormat:           "text",
		SnapshotCompression: "zstd",
	}
}

type envSource map[string]string

func (s envSource) LookupEnv(key string) (string, bool) {
	v, ok := s[key]
	return v, ok
}

// Load builds the configuration. path may be empty. environ overrides the
// process environment when non-nil.
func Load(path string, environ map[string]string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := cfg.decodeYAML(f); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	opts := &env.Options{SliceSep: ","}
	if environ != nil {
		opts.Source = envSource(environ)
	}
	if err := env.Load(cfg, opts); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeYAML(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks the configuration against the schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	root := ctx.CompileString(schemaCUE)
	if err := root.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	schema := root.LookupPath(cue.ParsePath("#Config"))

	v := schema.Unify(ctx.Encode(c.schemaValue()))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) schemaValue() map[string]any {
	orEmpty := func(s []string) []string {
		if s == nil {
			return []string{}
		}
		return s
	}
	return map[string]any{
		"backend":              c.Backend,
		"path":                 c.Path,
		"log_level":            c.LogLevel,
		"log_format":           c.LogFormat,
		"sensitive_paths":      orEmpty(c.SensitivePaths),
		"sensitive_fields":     orEmpty(c.SensitiveFields),
		"indexes":              orEmpty(c.Indexes),
		"migrations":           c.Migrations,
		"schema_version":       c.SchemaVersion,
		"snapshot_compression": c.SnapshotCompression,
		"encryption_key_set":   c.EncryptionKey != "",
	}
}

// Level returns the slog level for LogLevel.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// NewLogger returns a logger writing to w in the configured format.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level()}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
