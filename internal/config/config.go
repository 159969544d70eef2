// Package config holds the explicit construction-time configuration of
// the File Transfer Core. No environment variables are consulted here;
// cmd/corelinkd is responsible for turning flags or env into a Config.
package config

import (
	"fmt"
	"time"

	"github.com/corelink/node/internal/validation"
)

// Config is passed explicitly to the FileTransferManager at construction.
type Config struct {
	// BatchSize is the maximum number of simultaneously outstanding chunk
	// requests per download session.
	BatchSize int
	// ChunkSize is the fixed chunk size in bytes. It must equal
	// chunk.Size; it is carried here so callers needn't import the chunk
	// package just to read the constant.
	ChunkSize int
	// CacheCapacity bounds the shared chunk cache.
	CacheCapacity int
	// RequestTimeout is how long an in-flight chunk request may remain
	// unanswered before the slot reverts to Missing.
	RequestTimeout time.Duration
	// TickInterval is the period of the Manager's timeout-driving clock.
	TickInterval time.Duration

	// StorageRoot is the parent of the uploads/, downloads/, and
	// complete/ directories.
	StorageRoot string
}

// DefaultConfig returns the configuration spec.md documents as defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:      5,
		ChunkSize:      65536,
		CacheCapacity:  100,
		RequestTimeout: 10 * time.Second,
		TickInterval:   1 * time.Second,
		StorageRoot:    "storage",
	}
}

// UploadsDir, DownloadsDir, and CompleteDir return the three well-known
// subdirectories under StorageRoot.
func (c Config) UploadsDir() string   { return c.StorageRoot + "/uploads" }
func (c Config) DownloadsDir() string { return c.StorageRoot + "/downloads" }
func (c Config) CompleteDir() string  { return c.StorageRoot + "/complete" }

// Validate rejects a Config with out-of-range tuning values or an empty
// storage root before it reaches the Manager.
func (c Config) Validate() error {
	if err := validation.ValidateStringNonEmpty(c.StorageRoot); err != nil {
		return fmt.Errorf("config: storage root: %w", err)
	}
	if err := validation.ValidateRangeInt(c.BatchSize, 1, 1024); err != nil {
		return fmt.Errorf("config: batch size: %w", err)
	}
	if err := validation.ValidateRangeInt(c.CacheCapacity, 1, 1<<20); err != nil {
		return fmt.Errorf("config: cache capacity: %w", err)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: request timeout must be positive")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("config: tick interval must be positive")
	}
	return nil
}
