//go:build !govips || !cgo

package engine

// Startup only checks cfg without libvips.
func Startup(cfg RuntimeConfig) error {
	return cfg.validate()
}

func Shutdown() {}
