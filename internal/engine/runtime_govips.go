//go:build govips && cgo

package engine

import (
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
	"go.uber.org/zap"
)

var (
	runtimeMu sync.Mutex
	started   bool
)

// Startup brings libvips up with cfg. Later calls are no-ops until Shutdown;
// call it before the first Run when the libvips codecs are compiled in.
func Startup(cfg RuntimeConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if started {
		return nil
	}

	if cfg.Logger != nil {
		logger := cfg.Logger.Named("vips")
		vips.LoggingSettings(func(domain string, level vips.LogLevel, msg string) {
			fields := []zap.Field{zap.String("domain", domain)}
			if level <= vips.LogLevelCritical {
				logger.Error(msg, fields...)
				return
			}
			logger.Warn(msg, fields...)
		}, vips.LogLevelWarning)
	} else {
		vips.LoggingSettings(func(string, vips.LogLevel, string) {}, vips.LogLevelError)
	}
	vips.Startup(&vips.Config{
		ConcurrencyLevel: cfg.Concurrency,
		MaxCacheFiles:    0,
		MaxCacheMem:      cfg.CacheMemMB << 20,
		MaxCacheSize:     cfg.CacheOps,
	})
	started = true
	return nil
}

// Shutdown releases libvips. No Run may be in flight.
func Shutdown() {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}
