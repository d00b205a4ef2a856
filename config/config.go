// Package config loads settings for the opus command from a YAML file and
// OPUS_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"opusgraph/codec"
	"opusgraph/spatial"
)

// DefaultArchivePath is where the revision archive lives unless configured.
const DefaultArchivePath = ".opus/archive.db"

// Config holds command configuration.
type Config struct {
	Format  FormatConfig  `yaml:"format"`
	Index   IndexConfig   `yaml:"index"`
	Archive ArchiveConfig `yaml:"archive"`
	Log     LogConfig     `yaml:"log"`
	Verify  VerifyConfig  `yaml:"verify"`
}

// FormatConfig selects the serializer.
type FormatConfig struct {
	// Version is "major.minor"; empty selects the newest registered one.
	Version  string `yaml:"version"`
	Compress bool   `yaml:"compress"`
}

// IndexConfig holds spatial index thresholds. Zero values fall back to the
// spatial package defaults.
type IndexConfig struct {
	MinQuadWidth      float64 `yaml:"min_quad_width"`
	MinQuadHeight     float64 `yaml:"min_quad_height"`
	MaxEntriesPerQuad int     `yaml:"max_entries_per_quad"`
	MaxDepth          int     `yaml:"max_depth"`
}

type ArchiveConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type VerifyConfig struct {
	// Workers bounds how many files verify checks at once.
	Workers int `yaml:"workers"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Index: IndexConfig{
			MinQuadWidth:      spatial.DefaultMinQuadWidth,
			MinQuadHeight:     spatial.DefaultMinQuadHeight,
			MaxEntriesPerQuad: spatial.DefaultMaxEntriesPerQuad,
			MaxDepth:          spatial.DefaultMaxDepth,
		},
		Archive: ArchiveConfig{Path: DefaultArchivePath},
		Log:     LogConfig{Level: "info", Format: "text"},
		Verify:  VerifyConfig{Workers: 4},
	}
}

// Load reads path (if not empty) over the defaults, then applies
// environment overrides. A named file that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Format.Version = getEnv("OPUS_FORMAT_VERSION", c.Format.Version)
	c.Format.Compress = getEnvBool("OPUS_COMPRESS", c.Format.Compress)
	c.Archive.Path = getEnv("OPUS_ARCHIVE", c.Archive.Path)
	c.Log.Level = getEnv("OPUS_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("OPUS_LOG_FORMAT", c.Log.Format)
	c.Verify.Workers = getEnvInt("OPUS_VERIFY_WORKERS", c.Verify.Workers)
}

// Validate checks values that would otherwise fail later and further from
// their source.
func (c *Config) Validate() error {
	if _, _, err := c.FormatVersion(); err != nil {
		return err
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log format %q: want text or json", c.Log.Format)
	}
	if c.Verify.Workers < 1 {
		return fmt.Errorf("verify workers must be at least 1, got %d", c.Verify.Workers)
	}
	if c.Archive.Path == "" {
		return errors.New("archive path is empty")
	}
	return nil
}

// FormatVersion returns the configured serializer version, or false when
// the newest should be used.
func (c *Config) FormatVersion() (codec.Version, bool, error) {
	if c.Format.Version == "" {
		return codec.Version{}, false, nil
	}
	v, err := codec.ParseVersion(c.Format.Version)
	if err != nil {
		return codec.Version{}, false, fmt.Errorf("format version: %w", err)
	}
	return v, true, nil
}

// SpatialConfig converts the index thresholds.
func (c *Config) SpatialConfig(logger *slog.Logger) spatial.Config {
	return spatial.Config{
		MinQuadWidth:      c.Index.MinQuadWidth,
		MinQuadHeight:     c.Index.MinQuadHeight,
		MaxEntriesPerQuad: c.Index.MaxEntriesPerQuad,
		MaxDepth:          c.Index.MaxDepth,
		Logger:            logger,
	}
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("log level %q: %w", s, err)
	}
	return l, nil
}

// NewLogger builds a logger writing to w in the configured format.
func (c *Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch c.Log.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("log format %q: want text or json", c.Log.Format)
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
