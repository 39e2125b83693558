package cli

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/matzehuels/stacklock/pkg/lockfile"
)

var (
	listDimStyle    = lipgloss.NewStyle().Foreground(colorDim)
	listHeaderStyle = lipgloss.NewStyle().Foreground(colorGray).Bold(true)
	detailKeyStyle  = lipgloss.NewStyle().Foreground(colorGray).Width(16)
)

// =============================================================================
// LockBrowserModel - Interactive lock browser
// =============================================================================

// LockBrowserModel is the bubbletea model behind "stacklock show".
type LockBrowserModel struct {
	Lock *lockfile.Lock

	// Visible holds the indices of the entries matching Filter.
	Visible []int
	Cursor  int
	Offset  int
	Height  int

	Filter    string
	Filtering bool
	Detail    bool
}

// NewLockBrowserModel creates a browser over every entry of l.
func NewLockBrowserModel(l *lockfile.Lock) LockBrowserModel {
	m := LockBrowserModel{Lock: l, Height: 15}
	m.applyFilter()
	return m
}

func (m LockBrowserModel) Init() tea.Cmd {
	return nil
}

func (m LockBrowserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.Filtering {
			return m.updateFilter(msg), nil
		}
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			m.move(-1)
		case "down", "j":
			m.move(1)
		case "enter":
			m.Detail = !m.Detail
		case "/":
			m.Filtering = true
			m.Detail = false
		}
	case tea.WindowSizeMsg:
		m.Height = max(msg.Height-8, 5)
	}
	return m, nil
}

func (m LockBrowserModel) updateFilter(msg tea.KeyMsg) LockBrowserModel {
	switch msg.Type {
	case tea.KeyEnter:
		m.Filtering = false
	case tea.KeyEsc:
		m.Filtering = false
		m.Filter = ""
	case tea.KeyBackspace:
		if m.Filter != "" {
			r := []rune(m.Filter)
			m.Filter = string(r[:len(r)-1])
		}
	case tea.KeyRunes:
		m.Filter += string(msg.Runes)
	default:
		return m
	}
	m.applyFilter()
	return m
}

func (m *LockBrowserModel) move(delta int) {
	next := m.Cursor + delta
	if next < 0 || next >= len(m.Visible) {
		return
	}
	m.Cursor = next
	if m.Cursor < m.Offset {
		m.Offset = m.Cursor
	}
	if m.Cursor >= m.Offset+m.Height {
		m.Offset = m.Cursor - m.Height + 1
	}
}

func (m *LockBrowserModel) applyFilter() {
	m.Visible = nil
	needle := strings.ToLower(m.Filter)
	for i, e := range m.Lock.Packages {
		if needle == "" || strings.Contains(e.Name, needle) {
			m.Visible = append(m.Visible, i)
		}
	}
	m.Cursor, m.Offset = 0, 0
}

// Selected returns the entry under the cursor.
func (m LockBrowserModel) Selected() (lockfile.Entry, bool) {
	if len(m.Visible) == 0 {
		return lockfile.Entry{}, false
	}
	return m.Lock.Packages[m.Visible[m.Cursor]], true
}

func (m LockBrowserModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("Locked packages"))
	b.WriteString("  ")
	b.WriteString(listDimStyle.Render(strings.Join(m.Lock.Metadata.Targets, " · ")))
	b.WriteString("\n")
	switch {
	case m.Filtering:
		b.WriteString("/" + m.Filter + "█")
	case m.Filter != "":
		b.WriteString(listDimStyle.Render(fmt.Sprintf("filter: %s   ↑/↓ navigate  ⏎ details  / filter  q quit", m.Filter)))
	default:
		b.WriteString(listDimStyle.Render("↑/↓ navigate  ⏎ details  / filter  q quit"))
	}
	b.WriteString("\n\n")

	if m.Detail {
		if e, ok := m.Selected(); ok {
			b.WriteString(renderEntry(e))
			b.WriteString("\n" + listDimStyle.Render("⏎ back"))
			return b.String()
		}
	}

	end := min(m.Offset+m.Height, len(m.Visible))
	rows := make([][]string, 0, end-m.Offset)
	for i := m.Offset; i < end; i++ {
		e := m.Lock.Packages[m.Visible[i]]
		cursor := "  "
		if i == m.Cursor {
			cursor = "▸ "
		}
		rows = append(rows, []string{cursor, e.Name, e.Version, strings.Join(e.Groups, ","), orDash(e.Marker)})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("", "Package", "Version", "Groups", "Marker").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return listHeaderStyle
			}
			base := lipgloss.NewStyle()
			if col >= 3 {
				base = base.Foreground(colorDim)
			}
			if m.Offset+row == m.Cursor {
				return base.Foreground(colorGreen).Bold(true)
			}
			return base
		})

	b.WriteString(t.Render())
	b.WriteString("\n\n")
	pos := 0
	if len(m.Visible) > 0 {
		pos = m.Cursor + 1
	}
	b.WriteString(listDimStyle.Render(fmt.Sprintf("  [%d/%d]", pos, len(m.Visible))))
	return b.String()
}

// renderEntry renders the detail pane of one entry.
func renderEntry(e lockfile.Entry) string {
	var b strings.Builder
	line := func(key, value string) {
		if value != "" {
			b.WriteString(detailKeyStyle.Render(key) + " " + StyleValue.Render(value) + "\n")
		}
	}
	b.WriteString(StyleHighlight.Render(e.Name) + " " + e.Version + "\n\n")
	line("Source", e.Source)
	line("Index", e.Index)
	line("Requires-Python", e.RequiresPython)
	line("Marker", e.Marker)
	line("Extras", strings.Join(e.Extras, ", "))
	line("Groups", strings.Join(e.Groups, ", "))
	line("Dependencies", strings.Join(e.Dependencies, ", "))
	if len(e.Files) > 0 {
		b.WriteString(detailKeyStyle.Render("Files") + "\n")
		for _, f := range e.Files {
			b.WriteString("  " + f.Name + " " + listDimStyle.Render(f.Hash) + "\n")
		}
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}
