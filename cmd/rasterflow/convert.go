package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/rasterflow/internal/engine"
	"github.com/dunamismax/rasterflow/internal/format"
	"github.com/dunamismax/rasterflow/internal/transform"
	"github.com/spf13/cobra"
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Decode, transform and re-encode an image",
	Long: `Convert runs one engine plan over the input file.

Operations are a JSON array, inline or read from a file with @path:

  rasterflow convert -i in.jpg -o out.webp --ops '[{"kind":"thumbnail","width":256}]'`,
	Args: cobra.NoArgs,
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringP("input", "i", "", "Input image file")
	convertCmd.Flags().StringP("output", "o", "", "Output image file")
	convertCmd.Flags().StringP("format", "f", "", "Output format (default: from the output extension)")
	convertCmd.Flags().Int("quality", 0, "Quality 1-100 for lossy savers (0 = saver default)")
	convertCmd.Flags().Int("compression", -1, "Compression level 0-9 for PNG/TIFF (-1 = saver default)")
	convertCmd.Flags().Int("shrink", 0, "Shrink-on-load factor")
	convertCmd.Flags().String("ops", "", "Operations as a JSON array, or @file")
	convertCmd.Flags().Bool("strip", false, "Drop EXIF and XMP metadata")
	convertCmd.Flags().Bool("strip-icc", false, "Drop the ICC profile")
	convertCmd.Flags().Bool("lossless", false, "Use lossless mode where the saver supports it")
	convertCmd.Flags().Bool("interlace", false, "Write progressive/interlaced output where supported")
	convertCmd.MarkFlagRequired("input")
	convertCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, _ []string) error {
	inputPath, _ := cmd.Flags().GetString("input")
	outputPath, _ := cmd.Flags().GetString("output")

	plan, err := planFromFlags(cmd, outputPath)
	if err != nil {
		return err
	}

	inputData, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	result, err := newEngine(cmd).Run(cmd.Context(), inputData, plan)
	if err != nil {
		return fmt.Errorf("conversion: %w", err)
	}

	if err := os.WriteFile(outputPath, result.Data, 0o644); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Wrote %s (%s, %d x %d, %d bands, %d bytes)\n",
		outputPath, result.Format, result.Width, result.Height, result.Bands, len(result.Data))
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "Warning: %s\n", w)
	}
	return nil
}

func planFromFlags(cmd *cobra.Command, outputPath string) (engine.Plan, error) {
	formatName, _ := cmd.Flags().GetString("format")
	quality, _ := cmd.Flags().GetInt("quality")
	compression, _ := cmd.Flags().GetInt("compression")
	shrink, _ := cmd.Flags().GetInt("shrink")
	opsArg, _ := cmd.Flags().GetString("ops")
	strip, _ := cmd.Flags().GetBool("strip")
	stripICC, _ := cmd.Flags().GetBool("strip-icc")
	lossless, _ := cmd.Flags().GetBool("lossless")
	interlace, _ := cmd.Flags().GetBool("interlace")

	if formatName == "" {
		formatName = filepath.Ext(outputPath)
	}
	tag, err := format.Parse(formatName)
	if err != nil {
		return engine.Plan{}, fmt.Errorf("output format: %w", err)
	}

	ops, err := parseOps(opsArg)
	if err != nil {
		return engine.Plan{}, err
	}

	plan := engine.Plan{
		Format:     tag,
		Shrink:     shrink,
		Operations: ops,
		Save: engine.SaveOptions{
			Quality:   quality,
			Interlace: interlace,
			Lossless:  lossless,
			Strip:     strip,
			StripICC:  stripICC,
		},
	}
	if compression >= 0 {
		plan.Save.Compression = engine.Compression(compression)
	}
	if err := plan.Validate(); err != nil {
		return engine.Plan{}, err
	}
	return plan, nil
}

func parseOps(arg string) ([]transform.Operation, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return nil, nil
	}
	raw := []byte(arg)
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading ops file: %w", err)
		}
		raw = data
	}
	var ops []transform.Operation
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, fmt.Errorf("parsing ops: %w", err)
	}
	return ops, nil
}
