package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/stacklock/pkg/pipeline"
)

// checkCommand creates the check command.
func (c *CLI) checkCommand() *cobra.Command {
	var opts pipeline.CheckOptions

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify that the lock file matches the project",
		Long: `Verify that stacklock.lock was generated from the current pyproject.toml.

A stale lock exits with status 4. With --env the lock must also cover the
given environments; an environment it was not generated for exits with
status 5 unless --allow-partial accepts partial coverage.

Examples:
  stacklock check
  stacklock check --env linux/cpython:>=3.11,<3.12`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runCheck(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Groups, "group", "G", nil, "groups to check (default: all)")
	cmd.Flags().StringArrayVar(&opts.Environments, "env", nil, "environment the lock is applied to (repeatable)")
	cmd.Flags().BoolVar(&opts.AllowPartial, "allow-partial", false, "accept a lock covering only some environments")

	return cmd
}

func (c *CLI) runCheck(cmd *cobra.Command, opts pipeline.CheckOptions) error {
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

	res, err := runner.Check(ctx, proj, opts)
	if res != nil && !res.Status.Fresh {
		printWarning("Lock file is out of date")
		for _, ch := range res.Status.Changes {
			printDetail("%s", ch)
		}
		printNextStep("Update it with", "stacklock lock")
		return err
	}
	if err != nil {
		return err
	}

	printSuccess("Lock file is up to date")
	printFile(res.Path)
	if len(res.Covered) > 0 {
		names := make([]string, len(res.Covered))
		for i, t := range res.Covered {
			names[i] = t.String()
		}
		printKeyValue("Covers", strings.Join(names, ", "))
	}
	return nil
}
