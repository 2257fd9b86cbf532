package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List registered formats and what the engine can do with them",
	Args:  cobra.NoArgs,
	RunE:  runFormats,
}

func init() {
	rootCmd.AddCommand(formatsCmd)
}

func runFormats(cmd *cobra.Command, _ []string) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FORMAT\tLOAD\tSAVE\tSHRINK-ON-LOAD\tALPHA")
	for _, c := range newEngine(cmd).Registry().Capabilities() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.Format, yesNo(c.Load), yesNo(c.Save), yesNo(c.ShrinkOnLoad), yesNo(c.Alpha))
	}
	return tw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}
