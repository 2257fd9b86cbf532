package main

import (
	"fmt"
	"os"

	"github.com/dunamismax/rasterflow/internal/engine"
	"github.com/dunamismax/rasterflow/internal/logging"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var rootCmd = &cobra.Command{
	Use:           "rasterflow",
	Short:         "Detect, inspect and convert images with the rasterflow engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg := engine.DefaultRuntimeConfig()
		cfg.CacheMemMB, _ = cmd.Flags().GetInt("cache-mem-mb")
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			cfg.Logger = stderrLogger()
		}
		if err := engine.Startup(cfg); err != nil {
			return fmt.Errorf("starting engine: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log engine warnings and stage timings to stderr")
	rootCmd.PersistentFlags().Int64("max-pixels", 0, "Reject inputs larger than this many pixels (0 = no limit)")
	rootCmd.PersistentFlags().Int("max-input-bytes", 0, "Reject inputs larger than this many bytes (0 = no limit)")
	rootCmd.PersistentFlags().Int("cache-mem-mb", engine.DefaultRuntimeConfig().CacheMemMB, "libvips operation cache size in MB")
}

// newEngine builds an engine from the persistent flags.
func newEngine(cmd *cobra.Command) *engine.Engine {
	verbose, _ := cmd.Flags().GetBool("verbose")
	maxPixels, _ := cmd.Flags().GetInt64("max-pixels")
	maxInputBytes, _ := cmd.Flags().GetInt("max-input-bytes")

	logger := logging.NewNop()
	if verbose {
		logger = stderrLogger()
	}
	return engine.New(
		engine.WithLogger(logger),
		engine.WithLimits(engine.Limits{MaxPixels: maxPixels, MaxInputBytes: maxInputBytes}),
	)
}

func stderrLogger() logging.Logger {
	return logging.NewStderr(logging.Config{Level: "debug", Format: "console"})
}

func main() {
	err := rootCmd.Execute()
	engine.Shutdown()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
