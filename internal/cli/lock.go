package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/stacklock/pkg/pipeline"
)

// lockCommand creates the lock command.
func (c *CLI) lockCommand() *cobra.Command {
	var (
		opts      pipeline.Options
		timestamp bool
	)

	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Resolve dependencies and write the lock file",
		Long: `Resolve the dependencies declared in pyproject.toml and write stacklock.lock.

Pins from an existing lock are kept unless the update strategy or --update
releases them. Nothing is written when resolution fails.

Examples:
  stacklock lock                                  # Lock every group
  stacklock lock -G default -G dev                # Lock selected groups
  stacklock lock -t linux/cpython:>=3.10 -t windows:>=3.10
  stacklock lock --update requests                # Release one pin
  stacklock lock --update-strategy all            # Release every pin
  stacklock lock --dry-run                        # Show what would change`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runLock(cmd, opts, timestamp)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Groups, "group", "G", nil, "groups to lock (default: all)")
	cmd.Flags().StringArrayVarP(&opts.Targets, "target", "t", nil, "target environment, e.g. linux/cpython:>=3.9 (repeatable)")
	cmd.Flags().StringVar(&opts.Strategy, "strategy", "", "version strategy: highest, lowest-direct or lowest")
	cmd.Flags().BoolVar(&opts.AllowPrereleases, "pre", false, "allow pre-releases")
	cmd.Flags().BoolVar(&opts.Split, "split", false, "resolve each target separately when one resolution cannot serve all")
	cmd.Flags().StringVar(&opts.UpdateStrategy, "update-strategy", "", "which existing pins to keep: reuse or all")
	cmd.Flags().StringSliceVarP(&opts.Update, "update", "u", nil, "packages whose pins are released")
	cmd.Flags().BoolVar(&opts.Refresh, "refresh", false, "bypass cached index pages")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "resolve without writing the lock file")
	cmd.Flags().BoolVar(&timestamp, "timestamp", false, "record the generation time in the lock file")

	return cmd
}

func (c *CLI) runLock(cmd *cobra.Command, opts pipeline.Options, timestamp bool) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)

	proj, err := c.loadProject()
	if err != nil {
		return err
	}
	runner, err := c.newRunner(ctx)
	if err != nil {
		return err
	}
	defer runner.Close()
	if timestamp {
		runner.Now = time.Now
	}

	spinner := newSpinnerWithContext(ctx, "Resolving...")
	opts.Progress = newResolveProgress(spinner)
	prog := newProgress(logger)
	spinner.Start()
	res, err := runner.Lock(ctx, proj, opts)
	if err != nil {
		spinner.StopWithError("Resolution failed")
		return err
	}
	spinner.Stop()
	prog.done(fmt.Sprintf("Locked %d packages", len(res.Lock.Packages)))

	switch {
	case opts.DryRun:
		printInfo("Dry run, %s not written", res.Path)
	case res.Written:
		printSuccess("Wrote lock file")
		printFile(res.Path)
	default:
		printSuccess("Lock file is up to date")
	}
	printLockStats(res.Lock, res.Rounds)
	printChanges(res.Changes)
	if res.Written && len(res.Changes) > 0 {
		printNextStep("Inspect", "stacklock show")
	}
	return nil
}
