// Package config describes a device image: its page geometry and the
// checksum algorithm its stores use. The description lives in a JSON
// manifest next to the image so the tools can reopen it consistently.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

const (
	// DefaultManifestName is the manifest filename next to an image.
	DefaultManifestName = "MANIFEST"
	// CurrentManifestVersion is the manifest format version.
	CurrentManifestVersion = 1
)

// Checksum algorithm names accepted in a manifest.
const (
	ChecksumCRC32 = "crc32"
	ChecksumXXH64 = "xxh64"
)

var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrManifestNotFound = errors.New("manifest not found")
)

// Config is the persisted description of one device image.
type Config struct {
	Version   int    `json:"version"`
	PageSize  uint32 `json:"page_size"`
	PageCount uint32 `json:"page_count"`
	Checksum  string `json:"checksum"`
}

// NewDefaultConfig returns a config for a small NOR-style part: 256-byte
// pages, 2048 of them, CRC32 sums.
func NewDefaultConfig() *Config {
	return &Config{
		Version:   CurrentManifestVersion,
		PageSize:  256,
		PageCount: 2048,
		Checksum:  ChecksumCRC32,
	}
}

// Validate checks that the configuration describes a usable device.
func (c *Config) Validate() error {
	if c.Version <= 0 || c.Version > CurrentManifestVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidConfig, c.Version)
	}
	if c.PageSize == 0 || c.PageSize&(c.PageSize-1) != 0 {
		return fmt.Errorf("%w: page size %d is not a power of two", ErrInvalidConfig, c.PageSize)
	}
	if c.PageCount == 0 {
		return fmt.Errorf("%w: page count must be positive", ErrInvalidConfig)
	}
	switch c.Checksum {
	case ChecksumCRC32, ChecksumXXH64:
	default:
		return fmt.Errorf("%w: unknown checksum %q", ErrInvalidConfig, c.Checksum)
	}
	return nil
}

// DeviceSize returns the image capacity in bytes.
func (c *Config) DeviceSize() int64 {
	return int64(c.PageSize) * int64(c.PageCount)
}

// Load reads and validates a manifest file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save validates the config and writes it as a manifest file.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
