package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var detectCmd = &cobra.Command{
	Use:   "detect [file...]",
	Short: "Print the container format of each file",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
	eng := newEngine(cmd)
	out := cmd.OutOrStdout()

	var failed int
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		tag, err := eng.DetectFormat(cmd.Context(), data)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s: unknown\n", path)
			continue
		}
		fmt.Fprintf(out, "%s: %s\n", path, tag)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files not recognised", failed, len(args))
	}
	return nil
}
