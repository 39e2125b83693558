package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/stacklock/pkg/export"
	"github.com/matzehuels/stacklock/pkg/pipeline"
)

// exportCommand creates the export command.
func (c *CLI) exportCommand() *cobra.Command {
	var (
		opts   pipeline.ExportOptions
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the lock file to another format",
		Long: fmt.Sprintf(`Export stacklock.lock as requirements.txt, pylock.toml, a Graphviz DOT graph or SVG.

Formats: %s

Examples:
  stacklock export -o requirements.txt --hashes
  stacklock export -G default -t linux:>=3.11 --markers
  stacklock export -f pylock -o pylock.toml
  stacklock export -f svg -o deps.svg`, strings.Join(export.Formats(), ", ")),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			opts.Format = f
			return c.runExport(cmd, opts, output)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", string(export.FormatRequirements), "output format")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (stdout if empty)")
	cmd.Flags().StringSliceVarP(&opts.Groups, "group", "G", nil, "groups to export (default: all)")
	cmd.Flags().StringArrayVarP(&opts.Targets, "target", "t", nil, "only export packages needed on this target (repeatable)")
	cmd.Flags().BoolVar(&opts.WithHashes, "hashes", false, "include artifact hashes")
	cmd.Flags().BoolVar(&opts.WithMarkers, "markers", false, "include environment markers")
	cmd.Flags().BoolVar(&opts.WithExtras, "extras", false, "include requested extras")
	cmd.Flags().StringVar(&opts.Self, "self", "", `line for the project itself, e.g. "-e ."`)
	cmd.Flags().BoolVar(&opts.ExpandVars, "expandvars", false, "expand environment variables in index and source URLs")
	cmd.Flags().BoolVar(&opts.AllowStale, "allow-stale", false, "export even when the lock is out of date")

	return cmd
}

func (c *CLI) runExport(cmd *cobra.Command, opts pipeline.ExportOptions, output string) error {
	ctx := cmd.Context()

	proj, err := c.loadProject()
	if err != nil {
		return err
	}
	runner, err := c.newRunner(ctx)
	if err != nil {
		return err
	}
	defer runner.Close()

	data, err := runner.Export(ctx, proj, opts)
	if err != nil {
		return err
	}
	if output == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}
	printSuccess("Exported %s", opts.Format)
	printFile(output)
	return nil
}
