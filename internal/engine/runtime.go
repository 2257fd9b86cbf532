package engine

import (
	"fmt"

	"github.com/dunamismax/rasterflow/internal/logging"
)

// RuntimeConfig sizes the process-wide codec runtime. It only matters when
// the libvips codecs are compiled in.
type RuntimeConfig struct {
	// Concurrency is the libvips worker thread count; 0 lets libvips pick.
	Concurrency int
	// CacheMemMB caps the libvips operation cache.
	CacheMemMB int
	// CacheOps caps how many operations the cache holds.
	CacheOps int
	// Logger receives libvips warnings. Nil discards them.
	Logger logging.Logger
}

func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{CacheMemMB: 128, CacheOps: 100}
}

func (c RuntimeConfig) validate() error {
	if c.Concurrency < 0 || c.CacheMemMB < 0 || c.CacheOps < 0 {
		return fmt.Errorf("engine runtime: negative setting in %+v", c)
	}
	return nil
}
