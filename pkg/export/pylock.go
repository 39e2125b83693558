package export

import (
	"bytes"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/lockfile"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

// PylockVersion is the pylock.toml format version written by [Pylock].
const PylockVersion = "1.0"

// defaultGroup holds the project's own dependencies. Its packages are
// installed unconditionally.
const defaultGroup = "default"

type pylockDoc struct {
	LockVersion      string          `toml:"lock-version"`
	Environments     []string        `toml:"environments,omitempty"`
	DependencyGroups []string        `toml:"dependency-groups,omitempty"`
	CreatedBy        string          `toml:"created-by"`
	Packages         []pylockPackage `toml:"packages"`
}

type pylockPackage struct {
	Name           string           `toml:"name"`
	Version        string           `toml:"version,omitempty"`
	Marker         string           `toml:"marker,omitempty"`
	RequiresPython string           `toml:"requires-python,omitempty"`
	Index          string           `toml:"index,omitempty"`
	Dependencies   []pylockDep      `toml:"dependencies,omitempty"`
	VCS            *pylockVCS       `toml:"vcs,omitempty"`
	Directory      *pylockDir       `toml:"directory,omitempty"`
	Archive        *pylockArchive   `toml:"archive,omitempty"`
	Sdist          *pylockArtifact  `toml:"sdist,omitempty"`
	Wheels         []pylockArtifact `toml:"wheels,omitempty"`
}

type pylockDep struct {
	Name string `toml:"name"`
}

type pylockVCS struct {
	Type              string `toml:"type"`
	URL               string `toml:"url"`
	RequestedRevision string `toml:"requested-revision,omitempty"`
	CommitID          string `toml:"commit-id"`
	Subdirectory      string `toml:"subdirectory,omitempty"`
}

type pylockDir struct {
	Path         string `toml:"path"`
	Subdirectory string `toml:"subdirectory,omitempty"`
}

type pylockArchive struct {
	URL          string            `toml:"url"`
	Hashes       map[string]string `toml:"hashes,omitempty"`
	Subdirectory string            `toml:"subdirectory,omitempty"`
}

type pylockArtifact struct {
	Name   string            `toml:"name"`
	Hashes map[string]string `toml:"hashes,omitempty"`
}

// Pylock renders the lock as a pylock.toml document (PEP 751).
//
// Packages found on an index carry the index URL with their file names and
// hashes; the lock does not record file URLs, so installers look files up
// on that index. Packages outside the default group are gated on
// dependency_groups markers. Self is ignored.
func Pylock(l *lockfile.Lock, opts Options) ([]byte, error) {
	entries := l.Packages
	if len(opts.Targets) > 0 {
		var err error
		if entries, err = l.ForTargets(opts.Targets); err != nil {
			return nil, err
		}
	}
	indexURLs := make(map[string]string, len(opts.Indexes))
	for _, idx := range opts.Indexes {
		indexURLs[idx.Name] = opts.expand(idx.URL)
	}

	doc := pylockDoc{LockVersion: PylockVersion, CreatedBy: "stacklock"}
	targets, err := l.Targets()
	if err != nil {
		return nil, err
	}
	for _, t := range targets {
		if m := t.Marker().String(); m != "" {
			doc.Environments = append(doc.Environments, m)
		}
	}

	groups := map[string]bool{}
	for _, e := range entries {
		if !inGroups(e, opts.Groups) {
			continue
		}
		pkg, err := pylockEntry(e, opts, indexURLs)
		if err != nil {
			return nil, err
		}
		for _, g := range e.Groups {
			if g != defaultGroup && (len(opts.Groups) == 0 || slices.Contains(opts.Groups, g)) {
				groups[g] = true
			}
		}
		doc.Packages = append(doc.Packages, pkg)
	}
	for g := range groups {
		doc.DependencyGroups = append(doc.DependencyGroups, g)
	}
	slices.Sort(doc.DependencyGroups)

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "encode pylock")
	}
	return buf.Bytes(), nil
}

func pylockEntry(e lockfile.Entry, opts Options, indexURLs map[string]string) (pylockPackage, error) {
	pkg := pylockPackage{
		Name:           e.Name,
		RequiresPython: e.RequiresPython,
		Marker:         pylockMarker(e, opts.Groups),
	}
	for _, d := range e.Dependencies {
		pkg.Dependencies = append(pkg.Dependencies, pylockDep{Name: d})
	}

	if e.Source == "" {
		pkg.Version = e.Version
		pkg.Index = indexURLs[e.Index]
		for _, f := range e.Files {
			a := pylockArtifact{Name: f.Name, Hashes: pylockHashes(f.Hash)}
			switch {
			case strings.HasSuffix(f.Name, ".whl"):
				pkg.Wheels = append(pkg.Wheels, a)
			case pkg.Sdist == nil:
				pkg.Sdist = &a
			}
		}
		return pkg, nil
	}

	src, err := requirement.ParseSource(opts.expand(e.Source))
	if err != nil {
		return pylockPackage{}, errors.Wrap(errors.ErrCodeParse, err, "source of %s", e.Name)
	}
	switch src.Kind {
	case requirement.SourceVCS:
		pkg.Version = e.Version
		pkg.VCS = &pylockVCS{
			Type:              src.VCS,
			URL:               src.URL,
			RequestedRevision: src.Ref,
			CommitID:          src.Revision,
			Subdirectory:      src.Subdirectory,
		}
	case requirement.SourcePath:
		pkg.Directory = &pylockDir{Path: src.URL, Subdirectory: src.Subdirectory}
	default:
		pkg.Version = e.Version
		pkg.Archive = &pylockArchive{URL: src.URL, Hashes: pylockHashes(src.Hash), Subdirectory: src.Subdirectory}
	}
	return pkg, nil
}

// pylockHashes turns "algo:hex" into the {algo = hex} table.
func pylockHashes(h string) map[string]string {
	algo, digest, ok := strings.Cut(h, ":")
	if !ok || digest == "" {
		return nil
	}
	return map[string]string{algo: digest}
}

// pylockMarker combines the entry's marker with the dependency groups that
// need it. Packages of the default group are never gated.
func pylockMarker(e lockfile.Entry, selected []string) string {
	var gates []string
	if !slices.Contains(e.Groups, defaultGroup) {
		for _, g := range e.Groups {
			if len(selected) == 0 || slices.Contains(selected, g) {
				gates = append(gates, "'"+g+"' in dependency_groups")
			}
		}
	}
	gate := strings.Join(gates, " or ")
	switch {
	case gate == "":
		return e.Marker
	case e.Marker == "":
		return gate
	}
	return parenthesize(e.Marker) + " and " + parenthesize(gate)
}

func parenthesize(m string) string {
	if strings.Contains(m, " or ") {
		return "(" + m + ")"
	}
	return m
}
