package cli

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/lockfile"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

// showCommand creates the show command.
func (c *CLI) showCommand() *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "show [package]",
		Short: "Browse the locked packages",
		Long: `Browse stacklock.lock interactively, or print one package with its
dependencies, sources and files.

Examples:
  stacklock show              # Interactive browser
  stacklock show --plain      # Print a table
  stacklock show requests     # Print one package`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proj, err := c.loadProject()
			if err != nil {
				return err
			}
			l, err := lockfile.ReadFile(proj.LockPath())
			if err != nil {
				return err
			}

			if len(args) == 1 {
				entries := l.Lookup(requirement.NormalizeName(args[0]))
				if len(entries) == 0 {
					return errors.New(errors.ErrCodeNotFound, "%s is not locked", args[0])
				}
				for i, e := range entries {
					if i > 0 {
						fmt.Fprintln(cmd.OutOrStdout())
					}
					fmt.Fprint(cmd.OutOrStdout(), renderEntry(e))
				}
				return nil
			}
			if plain {
				fmt.Fprintln(cmd.OutOrStdout(), lockTable(l))
				return nil
			}

			_, err = tea.NewProgram(NewLockBrowserModel(l), tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
			return err
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "print a table instead of the interactive browser")
	return cmd
}

// lockTable renders every entry as a table.
func lockTable(l *lockfile.Lock) string {
	rows := make([][]string, len(l.Packages))
	for i, e := range l.Packages {
		source := e.Index
		if e.Source != "" {
			source = e.Source
		}
		rows[i] = []string{e.Name, e.Version, strings.Join(e.Groups, ","), orDash(e.Marker), orDash(source)}
	}
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("Package", "Version", "Groups", "Marker", "Source").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return listHeaderStyle
			}
			if col == 0 {
				return StyleHighlight
			}
			return lipgloss.NewStyle()
		}).
		Render()
}
