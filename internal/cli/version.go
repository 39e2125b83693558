package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/stacklock/pkg/buildinfo"
	"github.com/matzehuels/stacklock/pkg/lockfile"
)

// versionCommand creates the version command.
func (c *CLI) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
			fmt.Fprintf(cmd.OutOrStdout(), "lock format: %s\n", lockfile.Version)
			return nil
		},
	}
}
