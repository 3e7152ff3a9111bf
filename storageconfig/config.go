// Package storageconfig loads the per-bucket YAML configuration
// recognised by the storage core: backend kind, the download size
// limit, the read-only flag, and backend-specific keys (local root, S3
// bucket/prefix/region/endpoint). The raw file goes through an
// env-expansion pass before it is unmarshalled into a typed Config.
package storageconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tracdap/storage-core/datastorage"
)

// Config is the root of a storage.yaml file: a named registry of
// buckets, each independently configured.
type Config struct {
	Buckets map[string]BucketConfig `yaml:"buckets"`
}

// BucketConfig is one bucket's entry. Backend selects which concrete
// storage.Backend to build; RootOrBucket/Prefix/Region/Endpoint are
// interpreted according to Backend ("local" uses RootOrBucket as a
// filesystem root; "s3" uses RootOrBucket as the bucket name plus the
// remaining S3-specific keys).
type BucketConfig struct {
	Backend           string `yaml:"backend"`
	RootOrBucket      string `yaml:"root"`
	Prefix            string `yaml:"prefix,omitempty"`
	Region            string `yaml:"region,omitempty"`
	Endpoint          string `yaml:"endpoint,omitempty"`
	DownloadSizeLimit *int64 `yaml:"downloadSizeLimit,omitempty"`
	ReadOnly          bool   `yaml:"readOnly,omitempty"`
}

// DataStorageConfig converts the recognised downloadSizeLimit/readOnly
// keys into a datastorage.Config, applying the documented defaults when
// a key is absent from the YAML file.
func (b BucketConfig) DataStorageConfig() datastorage.Config {
	cfg := datastorage.DefaultConfig()
	if b.DownloadSizeLimit != nil {
		cfg.DownloadSizeLimit = *b.DownloadSizeLimit
	}
	cfg.ReadOnly = b.ReadOnly
	return cfg
}

// Load reads a YAML config file, expands ${VAR}/${VAR:-default}
// environment references, and unmarshals into a Config. Unknown keys
// are rejected to catch typos early.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	expanded := ExpandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}

	return &cfg, nil
}

// Bucket resolves a bucket name to its BucketConfig, or an error if the
// registry has no entry under that name.
func (c *Config) Bucket(name string) (BucketConfig, error) {
	b, ok := c.Buckets[name]
	if !ok {
		return BucketConfig{}, fmt.Errorf("no storage.yaml entry for bucket %q", name)
	}
	return b, nil
}
