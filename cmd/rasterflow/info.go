package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info [file]",
	Short: "Inspect image geometry, colour and ICC profile info",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func init() {
	infoCmd.Flags().Bool("json", false, "Print the report as JSON")
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	path := args[0]
	asJSON, _ := cmd.Flags().GetBool("json")

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	info, err := newEngine(cmd).Inspect(cmd.Context(), data)
	if err != nil {
		return fmt.Errorf("inspecting %s: %w", path, err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Fprintf(out, "File:           %s\n", path)
	fmt.Fprintf(out, "Format:         %s\n", info.Format)
	fmt.Fprintf(out, "Dimensions:     %d x %d\n", info.Width, info.Height)
	fmt.Fprintf(out, "Bands:          %d (alpha: %t)\n", info.Bands, info.HasAlpha)
	fmt.Fprintf(out, "Interpretation: %s\n", info.Interpretation)
	fmt.Fprintf(out, "Orientation:    %d\n", info.Orientation)
	fmt.Fprintf(out, "File size:      %d bytes (%.1f MB)\n", len(data), float64(len(data))/(1024*1024))

	switch {
	case info.ICCProfile != nil:
		pi := info.ICCProfile
		fmt.Fprintf(out, "ICC profile:    %d bytes\n", pi.Size)
		fmt.Fprintf(out, "  Version:      %s\n", pi.Version)
		fmt.Fprintf(out, "  Color space:  %s\n", pi.ColorSpace)
		fmt.Fprintf(out, "  PCS:          %s\n", pi.PCS)
		fmt.Fprintf(out, "  Class:        %s\n", pi.Class)
	case info.HasICCProfile:
		fmt.Fprintln(out, "ICC profile:    present but unreadable")
	default:
		fmt.Fprintln(out, "ICC profile:    none")
	}

	if len(info.Metadata) > 0 {
		fmt.Fprintf(out, "Metadata:       %s\n", strings.Join(info.Metadata, ", "))
	}
	for _, w := range info.Warnings {
		fmt.Fprintf(out, "Warning:        %s\n", w)
	}
	return nil
}
