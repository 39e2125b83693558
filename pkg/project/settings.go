package project

import (
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

// Source kinds accepted in [[tool.stacklock.source]].
const (
	SourceIndex     = "index"
	SourceFindLinks = "find-links"
)

// Source is a named package source.
type Source struct {
	Name string `toml:"name"`
	URL  string `toml:"url"`
	Type string `toml:"type"` // "index" (default) or "find-links"
}

// Settings is the [tool.stacklock] table.
type Settings struct {
	Strategy         string
	UpdateStrategy   string
	AllowPrereleases bool
	Prereleases      []string // normalized names allowed to resolve to pre-releases
	Targets          []string
	Split            bool
	Sources          []Source
	SourceOrder      string
	Priority         []string
	SourceFor        map[string]string // normalized package name -> source name
	ExcludeNewer     time.Time
	NoBinary         []string
	OnlyBinary       []string
	LockFile         string
}

type rawSettings struct {
	Strategy         string            `toml:"strategy"`
	UpdateStrategy   string            `toml:"update-strategy"`
	AllowPrereleases bool              `toml:"allow-prereleases"`
	Prereleases      []string          `toml:"prereleases"`
	Targets          []string          `toml:"targets"`
	Split            bool              `toml:"split"`
	Sources          []Source          `toml:"source"`
	SourceOrder      string            `toml:"source-order"`
	Priority         []string          `toml:"priority"`
	SourceFor        map[string]string `toml:"source-for"`
	ExcludeNewer     string            `toml:"exclude-newer"`
	NoBinary         []string          `toml:"no-binary"`
	OnlyBinary       []string          `toml:"only-binary"`
	FindLinks        []string          `toml:"find-links"`
	LockFile         string            `toml:"lock-file"`
}

func (r rawSettings) parse() (Settings, error) {
	s := Settings{
		Strategy:         r.Strategy,
		UpdateStrategy:   r.UpdateStrategy,
		AllowPrereleases: r.AllowPrereleases,
		Prereleases:      normalizeNames(r.Prereleases),
		Targets:          r.Targets,
		Split:            r.Split,
		SourceOrder:      r.SourceOrder,
		Priority:         r.Priority,
		SourceFor:        map[string]string{},
		NoBinary:         normalizeNames(r.NoBinary),
		OnlyBinary:       normalizeNames(r.OnlyBinary),
		LockFile:         r.LockFile,
	}

	seen := map[string]bool{}
	for i, src := range r.Sources {
		if src.Name == "" || src.URL == "" {
			return Settings{}, errors.New(errors.ErrCodeInvalidInput, "tool.stacklock.source[%d] needs a name and a url", i)
		}
		if seen[src.Name] {
			return Settings{}, errors.New(errors.ErrCodeInvalidInput, "duplicate source name %q", src.Name)
		}
		seen[src.Name] = true
		if src.Type == "" {
			src.Type = SourceIndex
		}
		if src.Type != SourceIndex && src.Type != SourceFindLinks {
			return Settings{}, errors.New(errors.ErrCodeInvalidInput, "source %q: unknown type %q", src.Name, src.Type)
		}
		// Find-links entries may also be plain directories.
		if src.Type == SourceIndex {
			if err := errors.ValidateURL(os.ExpandEnv(src.URL)); err != nil {
				return Settings{}, errors.Wrap(errors.ErrCodeInvalidInput, err, "source %q", src.Name)
			}
		}
		s.Sources = append(s.Sources, src)
	}
	for i, dir := range r.FindLinks {
		name := findLinksName(i)
		seen[name] = true
		s.Sources = append(s.Sources, Source{Name: name, URL: dir, Type: SourceFindLinks})
	}

	for pkg, src := range r.SourceFor {
		if !seen[src] {
			return Settings{}, errors.New(errors.ErrCodeInvalidInput, "source-for %s names unknown source %q", pkg, src)
		}
		s.SourceFor[requirement.NormalizeName(pkg)] = src
	}
	for _, name := range r.Priority {
		if !seen[name] {
			return Settings{}, errors.New(errors.ErrCodeInvalidInput, "priority names unknown source %q", name)
		}
	}

	if r.ExcludeNewer != "" {
		t, err := parseTime(r.ExcludeNewer)
		if err != nil {
			return Settings{}, err
		}
		s.ExcludeNewer = t
	}
	return s, nil
}

func findLinksName(i int) string {
	if i == 0 {
		return "find-links"
	}
	return "find-links-" + strconv.Itoa(i)
}

// parseTime accepts RFC 3339 timestamps and plain dates.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, errors.Wrap(errors.ErrCodeParse, err, "exclude-newer %q is not a date", s)
	}
	return t.UTC(), nil
}

func normalizeNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == ":all:" || n == ":none:" {
			out = append(out, n)
			continue
		}
		out = append(out, requirement.NormalizeName(n))
	}
	slices.Sort(out)
	return slices.Compact(out)
}
