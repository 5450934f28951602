// Package config handles YAML config file loading for img2zarr convert.
package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	zarr "github.com/qri-io/zarr-image"
	"github.com/qri-io/zarr-image/convert"
)

// Storage backends.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// Config represents an img2zarr.yaml configuration file.
// All values are optional and act as defaults for convert flags.
// CLI flags always override config values.
type Config struct {
	Output     string            `yaml:"output"`
	Artifacts  []string          `yaml:"artifacts"`
	ChunkShape []int             `yaml:"chunk_shape"`
	BatchSize  int               `yaml:"batch_size"`
	InMemory   bool              `yaml:"in_memory"`
	Compressor *CompressorConfig `yaml:"compressor"`
	Storage    StorageConfig     `yaml:"storage"`
	Log        LogConfig         `yaml:"log"`
}

// CompressorConfig selects the codec for data variables.
type CompressorConfig struct {
	ID    string `yaml:"id"`
	Level int    `yaml:"level"`
}

// StorageConfig selects where the output is written. With the s3 backend
// the output path becomes the key prefix inside Bucket.
type StorageConfig struct {
	Backend   string   `yaml:"backend"`
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"`
	Bucket    string   `yaml:"bucket"`
	AccessKey string   `yaml:"access_key"`
	SecretKey string   `yaml:"secret_key"`
	UseSSL    bool     `yaml:"use_ssl"`
	Timeout   Duration `yaml:"timeout"`
}

// LogConfig holds logging defaults.
type LogConfig struct {
	Debug bool `yaml:"debug"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate checks values that cannot be checked by their consumers alone.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "", BackendLocal:
	case BackendS3:
		if c.Storage.Endpoint == "" || c.Storage.Bucket == "" {
			return fmt.Errorf("storage: s3 backend needs an endpoint and a bucket")
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must not be negative, got %d", c.BatchSize)
	}
	if c.Compressor != nil {
		if err := c.compressor().Validate(); err != nil {
			return fmt.Errorf("compressor: %w", err)
		}
	}
	return nil
}

func (c *Config) compressor() *zarr.CompressionMeta {
	if c.Compressor == nil {
		return nil
	}
	return &zarr.CompressionMeta{ID: strings.ToLower(c.Compressor.ID), Level: c.Compressor.Level}
}

// Options converts the config into conversion options. Logger and Opener
// are left for the caller.
func (c *Config) Options() (convert.Options, error) {
	if err := c.Validate(); err != nil {
		return convert.Options{}, err
	}
	opts := convert.Options{
		Output:     c.Output,
		Artifacts:  c.Artifacts,
		Compressor: c.compressor(),
		ChunkShape: c.ChunkShape,
		BatchSize:  c.BatchSize,
		InMemory:   c.InMemory,
	}
	if c.Storage.Backend == BackendS3 {
		opts.OpenStore = c.openS3
	}
	return opts, nil
}

// openS3 opens the bucket store with the output path as key prefix.
func (c *Config) openS3(output string) (zarr.Store, error) {
	return zarr.NewS3Store(zarr.S3Config{
		Endpoint:  c.Storage.Endpoint,
		Region:    c.Storage.Region,
		AccessKey: c.Storage.AccessKey,
		SecretKey: c.Storage.SecretKey,
		Bucket:    c.Storage.Bucket,
		Prefix:    output,
		UseSSL:    c.Storage.UseSSL,
		Timeout:   c.Storage.Timeout.Duration,
	})
}
