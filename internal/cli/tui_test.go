package cli

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/stacklock/pkg/lockfile"
)

func browserLock() *lockfile.Lock {
	return &lockfile.Lock{
		Metadata: lockfile.Metadata{Targets: []string{"any:>=3.9"}},
		Packages: []lockfile.Entry{
			{Name: "certifi", Version: "2024.2.2", Groups: []string{"default"}},
			{Name: "charset-normalizer", Version: "3.3.2", Groups: []string{"default"}},
			{Name: "colorama", Version: "0.4.6", Marker: `sys_platform == "win32"`, Groups: []string{"dev"}},
			{Name: "requests", Version: "2.31.0", Groups: []string{"default"}, Dependencies: []string{"certifi", "charset-normalizer"}},
		},
	}
}

func press(m tea.Model, msgs ...tea.Msg) tea.Model {
	for _, msg := range msgs {
		m, _ = m.Update(msg)
	}
	return m
}

var (
	keyDown  = tea.KeyMsg{Type: tea.KeyDown}
	keyUp    = tea.KeyMsg{Type: tea.KeyUp}
	keyEnter = tea.KeyMsg{Type: tea.KeyEnter}
	keyBack  = tea.KeyMsg{Type: tea.KeyBackspace}
)

func runes(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

func TestLockBrowserNavigation(t *testing.T) {
	m := press(NewLockBrowserModel(browserLock()), keyDown, keyDown, keyDown, keyDown, keyUp).(LockBrowserModel)
	assert.Equal(t, 2, m.Cursor)
	e, ok := m.Selected()
	require.True(t, ok)
	assert.Equal(t, "colorama", e.Name)

	m = press(m, keyEnter).(LockBrowserModel)
	assert.True(t, m.Detail)
	assert.Contains(t, m.View(), `sys_platform == "win32"`)

	m = press(m, keyEnter).(LockBrowserModel)
	assert.False(t, m.Detail)
	assert.Contains(t, m.View(), "[3/4]")
}

func TestLockBrowserFilter(t *testing.T) {
	m := press(NewLockBrowserModel(browserLock()), runes("/"), runes("C"), runes("h")).(LockBrowserModel)
	assert.True(t, m.Filtering)
	assert.Equal(t, "Ch", m.Filter)
	require.Len(t, m.Visible, 1)
	e, _ := m.Selected()
	assert.Equal(t, "charset-normalizer", e.Name)

	m = press(m, keyBack, keyEnter).(LockBrowserModel)
	assert.False(t, m.Filtering)
	assert.Len(t, m.Visible, 3, "certifi, charset-normalizer and colorama match c")
	assert.Contains(t, m.View(), "filter: C")

	m = press(m, runes("/"), runes("zzz"), keyEnter).(LockBrowserModel)
	_, ok := m.Selected()
	assert.False(t, ok)
	assert.Contains(t, m.View(), "[0/0]")

	m = press(m, runes("/"), tea.KeyMsg{Type: tea.KeyEsc}).(LockBrowserModel)
	assert.Empty(t, m.Filter)
	assert.Len(t, m.Visible, 4)
}

func TestLockBrowserScrolls(t *testing.T) {
	m := NewLockBrowserModel(browserLock())
	m = press(m, tea.WindowSizeMsg{Height: 2}).(LockBrowserModel)
	assert.Equal(t, 5, m.Height)

	m.Height = 2
	m = press(m, keyDown, keyDown, keyDown).(LockBrowserModel)
	assert.Equal(t, 3, m.Cursor)
	assert.Equal(t, 2, m.Offset)
	m = press(m, keyUp, keyUp, keyUp).(LockBrowserModel)
	assert.Equal(t, 0, m.Offset)
}

func TestLockBrowserQuits(t *testing.T) {
	for _, k := range []tea.KeyMsg{runes("q"), {Type: tea.KeyEsc}, {Type: tea.KeyCtrlC}} {
		_, cmd := NewLockBrowserModel(browserLock()).Update(k)
		require.NotNil(t, cmd, k.String())
		assert.Equal(t, tea.Quit(), cmd(), k.String())
	}
}

func TestRenderEntry(t *testing.T) {
	out := renderEntry(lockfile.Entry{
		Name: "requests", Version: "2.31.0", Index: "pypi",
		Dependencies: []string{"certifi", "idna"},
		Files:        []lockfile.File{{Name: "requests-2.31.0-py3-none-any.whl", Hash: "sha256:aa"}},
	})
	assert.Contains(t, out, "certifi, idna")
	assert.Contains(t, out, "requests-2.31.0-py3-none-any.whl")
	assert.NotContains(t, out, "Source")
}
