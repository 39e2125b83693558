package cli

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/matzehuels/stacklock/pkg/history"
)

// historyCommand creates the history command.
func (c *CLI) historyCommand() *cobra.Command {
	var (
		limit int
		all   bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent lock and check runs",
		Long: `List recent lock and check runs, newest first.

Runs are recorded in ~/.local/share/stacklock/history.jsonl, or in MongoDB
when STACKLOCK_MONGO_URI is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := ""
			if !all {
				proj, err := c.loadProject()
				if err != nil {
					return err
				}
				name = proj.Name
			}

			store, err := c.newHistory(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(ctx, name, limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				printInfo("No runs recorded")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), historyTable(records, all))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.Flags().BoolVar(&all, "all", false, "show runs of every project")
	return cmd
}

func historyTable(records []*history.Record, withProject bool) string {
	headers := []string{"Started", "Command", "Outcome", "Packages", "Duration", "Fingerprint"}
	if withProject {
		headers = append([]string{"Project"}, headers...)
	}
	rows := make([][]string, len(records))
	for i, r := range records {
		fp := r.Fingerprint
		if len(fp) > 12 {
			fp = fp[:12]
		}
		row := []string{
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Command,
			string(r.Outcome),
			fmt.Sprint(r.Packages),
			r.Duration.Round(time.Millisecond).String(),
			orDash(fp),
		}
		if withProject {
			row = append([]string{orDash(r.Project)}, row...)
		}
		rows[i] = row
	}
	outcomeCol := 2
	if withProject {
		outcomeCol = 3
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return listHeaderStyle
			}
			if col != outcomeCol || row >= len(records) {
				return lipgloss.NewStyle()
			}
			switch records[row].Outcome {
			case history.OutcomeOK:
				return styleAdded
			case history.OutcomeCancelled, history.OutcomeStale:
				return styleUpdated
			default:
				return styleRemoved
			}
		}).
		Render()
}
