// Package project loads a Python project's pyproject.toml: the PEP 621
// [project] table, PEP 735 [dependency-groups] and the [tool.stacklock]
// settings that configure resolution.
package project

import (
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/stacklock/pkg/dist"
	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/markers"
	"github.com/matzehuels/stacklock/pkg/pep440"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

const (
	// Filename is the manifest every project directory carries.
	Filename = "pyproject.toml"
	// DefaultGroup holds [project].dependencies.
	DefaultGroup = "default"
	// DefaultLockFile is written next to pyproject.toml.
	DefaultLockFile = "stacklock.lock"

	rootPlaceholder = "${PROJECT_ROOT}"
)

// ErrDynamic is returned by [Project.Metadata] when the version or the
// dependencies are computed by the build backend.
var ErrDynamic = errors.New(errors.ErrCodeSourceUnavailable, "project metadata is dynamic")

// Project is a parsed pyproject.toml.
type Project struct {
	Root                 string // directory holding pyproject.toml
	Name                 string // PEP 503 normalized, empty for unnamed projects
	Version              string
	Dynamic              []string
	RequiresPython       pep440.Specifiers
	Dependencies         []*requirement.Requirement
	OptionalDependencies map[string][]*requirement.Requirement
	DependencyGroups     map[string][]*requirement.Requirement // includes expanded
	Settings             Settings
}

// Group is a named set of root requirements.
type Group struct {
	Name         string
	Requirements []*requirement.Requirement
}

type pyproject struct {
	Project struct {
		Name                 string              `toml:"name"`
		Version              string              `toml:"version"`
		Dynamic              []string            `toml:"dynamic"`
		RequiresPython       string              `toml:"requires-python"`
		Dependencies         []string            `toml:"dependencies"`
		OptionalDependencies map[string][]string `toml:"optional-dependencies"`
	} `toml:"project"`
	DependencyGroups map[string][]any `toml:"dependency-groups"`
	Tool             struct {
		Stacklock rawSettings `toml:"stacklock"`
	} `toml:"tool"`
}

// Load reads dir/pyproject.toml.
func Load(dir string) (*Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(abs, Filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeNotFound, "no %s in %s", Filename, abs)
		}
		return nil, err
	}
	return Parse(data, abs)
}

// Parse parses pyproject.toml content for a project rooted at root.
// "${PROJECT_ROOT}" in requirement strings expands to root.
func Parse(data []byte, root string) (*Project, error) {
	var raw pyproject
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(errors.ErrCodeParse, err, "invalid %s", Filename)
	}

	p := &Project{
		Root:                 root,
		Version:              raw.Project.Version,
		OptionalDependencies: map[string][]*requirement.Requirement{},
		DependencyGroups:     map[string][]*requirement.Requirement{},
	}
	if raw.Project.Name != "" {
		p.Name = requirement.NormalizeName(raw.Project.Name)
	}
	for _, d := range raw.Project.Dynamic {
		p.Dynamic = append(p.Dynamic, strings.ToLower(d))
	}

	var err error
	if p.RequiresPython, err = pep440.ParseSpecifiers(raw.Project.RequiresPython); err != nil {
		return nil, errors.Wrap(errors.ErrCodeParse, err, "project.requires-python")
	}
	if p.Dependencies, err = p.parseList("project.dependencies", raw.Project.Dependencies); err != nil {
		return nil, err
	}
	for extra, list := range raw.Project.OptionalDependencies {
		reqs, err := p.parseList("project.optional-dependencies."+extra, list)
		if err != nil {
			return nil, err
		}
		p.OptionalDependencies[markers.NormalizeExtra(extra)] = reqs
	}
	if err := p.expandGroups(raw.DependencyGroups); err != nil {
		return nil, err
	}
	if p.Settings, err = raw.Tool.Stacklock.parse(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Project) parseList(field string, lines []string) ([]*requirement.Requirement, error) {
	out := make([]*requirement.Requirement, 0, len(lines))
	for _, line := range lines {
		req, err := requirement.Parse(p.expandRoot(line))
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeParse, err, "%s", field)
		}
		out = append(out, req)
	}
	return out, nil
}

func (p *Project) expandRoot(line string) string {
	root := filepath.ToSlash(p.Root)
	line = strings.ReplaceAll(line, "file:///"+rootPlaceholder, "file://"+root)
	return strings.ReplaceAll(line, rootPlaceholder, root)
}

// expandGroups resolves PEP 735 groups, following {include-group = "..."}
// entries and rejecting include cycles.
func (p *Project) expandGroups(raw map[string][]any) error {
	normalized := make(map[string][]any, len(raw))
	for name, items := range raw {
		normalized[requirement.NormalizeName(name)] = items
	}

	var expand func(name string, stack []string) ([]*requirement.Requirement, error)
	expand = func(name string, stack []string) ([]*requirement.Requirement, error) {
		if done, ok := p.DependencyGroups[name]; ok {
			return done, nil
		}
		if slices.Contains(stack, name) {
			return nil, errors.New(errors.ErrCodeInvalidInput, "dependency group include cycle: %s", strings.Join(append(stack, name), " -> "))
		}
		items, ok := normalized[name]
		if !ok {
			return nil, errors.New(errors.ErrCodeInvalidInput, "dependency group %q is not defined", name)
		}
		var out []*requirement.Requirement
		for _, item := range items {
			switch v := item.(type) {
			case string:
				reqs, err := p.parseList("dependency-groups."+name, []string{v})
				if err != nil {
					return nil, err
				}
				out = append(out, reqs...)
			case map[string]any:
				inc, _ := v["include-group"].(string)
				if inc == "" {
					return nil, errors.New(errors.ErrCodeInvalidInput, "dependency-groups.%s: unsupported table entry", name)
				}
				reqs, err := expand(requirement.NormalizeName(inc), append(stack, name))
				if err != nil {
					return nil, err
				}
				out = append(out, reqs...)
			default:
				return nil, errors.New(errors.ErrCodeInvalidInput, "dependency-groups.%s: unsupported entry %v", name, item)
			}
		}
		p.DependencyGroups[name] = out
		return out, nil
	}

	for _, name := range slices.Sorted(maps.Keys(normalized)) {
		if _, err := expand(name, nil); err != nil {
			return err
		}
	}
	return nil
}

// Groups returns every group name: "default" first, then extras and
// dependency groups in sorted order.
func (p *Project) Groups() []string {
	names := map[string]bool{}
	for name := range p.OptionalDependencies {
		names[name] = true
	}
	for name := range p.DependencyGroups {
		names[name] = true
	}
	return append([]string{DefaultGroup}, slices.Sorted(maps.Keys(names))...)
}

// SelectGroups returns the requirements of the named groups. A nil or empty
// selection means every group. Unknown names are an error.
func (p *Project) SelectGroups(names []string) ([]Group, error) {
	if len(names) == 0 {
		names = p.Groups()
	}
	out := make([]Group, 0, len(names))
	for _, name := range names {
		reqs, ok := p.group(name)
		if !ok {
			return nil, errors.New(errors.ErrCodeInvalidInput, "unknown dependency group %q (have %s)", name, strings.Join(p.Groups(), ", "))
		}
		out = append(out, Group{Name: name, Requirements: reqs})
	}
	return out, nil
}

func (p *Project) group(name string) ([]*requirement.Requirement, bool) {
	if name == DefaultGroup {
		return p.Dependencies, true
	}
	if reqs, ok := p.OptionalDependencies[markers.NormalizeExtra(name)]; ok {
		return reqs, true
	}
	reqs, ok := p.DependencyGroups[requirement.NormalizeName(name)]
	return reqs, ok
}

// Targets returns the configured targets, each narrowed to requires-python.
// Without configured targets the project gets one target covering its
// requires-python range on every platform.
func (p *Project) Targets() ([]markers.Target, error) {
	if len(p.Settings.Targets) == 0 {
		return []markers.Target{{Python: p.RequiresPython}}, nil
	}
	out := make([]markers.Target, 0, len(p.Settings.Targets))
	for _, s := range p.Settings.Targets {
		t, err := markers.ParseTarget(s)
		if err != nil {
			return nil, err
		}
		t.Python = t.Python.Intersect(p.RequiresPython)
		if t.Python.IsEmpty() {
			return nil, errors.New(errors.ErrCodeInvalidInput, "target %q is outside requires-python %s", s, p.RequiresPython)
		}
		out = append(out, t)
	}
	return out, nil
}

// LockPath returns the lock file location.
func (p *Project) LockPath() string {
	name := p.Settings.LockFile
	if name == "" {
		name = DefaultLockFile
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(p.Root, name)
}

// Metadata returns the project's core metadata when it is fully static, so
// that a path dependency on this project can be resolved without a build.
func (p *Project) Metadata() (*dist.Metadata, error) {
	if p.Name == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "%s in %s has no project name", Filename, p.Root)
	}
	for _, d := range p.Dynamic {
		if d == "version" || d == "dependencies" || d == "optional-dependencies" || d == "requires-python" {
			return nil, errors.Wrap(errors.ErrCodeSourceUnavailable, ErrDynamic, "%s declares %s dynamic", p.Name, d)
		}
	}
	v, err := pep440.Parse(p.Version)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeParse, err, "version of %s", p.Name)
	}

	md := &dist.Metadata{
		MetadataVersion: "2.3",
		Name:            p.Name,
		Version:         v,
		RequiresPython:  p.RequiresPython,
		RequiresDist:    slices.Clone(p.Dependencies),
	}
	for _, extra := range slices.Sorted(maps.Keys(p.OptionalDependencies)) {
		md.ProvidesExtra = append(md.ProvidesExtra, extra)
		gate := markers.MustParse(`extra == "` + extra + `"`)
		for _, req := range p.OptionalDependencies[extra] {
			md.RequiresDist = append(md.RequiresDist, req.WithMarker(markers.And(req.Marker, gate)))
		}
	}
	return md, nil
}
