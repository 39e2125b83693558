// Package lockfile turns a resolution into a persisted lock and checks a
// lock against the inputs it was made from.
//
// A lock is a TOML document with three parts: [metadata] (format version,
// fingerprint, strategy, groups and targets), [manifest] (the root
// requirements and canonical settings the fingerprint covers) and one
// [[package]] table per pin, sorted by name and then marker. Entries that
// share a name only appear after split resolution and carry mutually
// exclusive markers.
//
// # Usage
//
//	lock, err := lockfile.Build(result, inputs, time.Now())
//	if err != nil {
//	    return err
//	}
//	if err := lock.WriteFile(path); err != nil {
//	    return err
//	}
//
//	status := lockfile.Validate(lock, inputs)
//	if !status.Fresh {
//	    fmt.Println("lock is stale:", status.Reason)
//	}
package lockfile

import (
	"slices"
	"strings"
	"time"

	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/markers"
	"github.com/matzehuels/stacklock/pkg/pep440"
	"github.com/matzehuels/stacklock/pkg/resolver"
)

// Version is the lock format version written by this package. Locks with a
// different major version are always stale.
const Version = "1.0"

// Lock is a parsed lock file.
type Lock struct {
	Metadata Metadata `toml:"metadata"`
	Manifest Manifest `toml:"manifest"`
	Packages []Entry  `toml:"package"`
}

// Metadata is the lock header.
type Metadata struct {
	LockVersion string   `toml:"lock_version"`
	Fingerprint string   `toml:"fingerprint"`
	Strategy    string   `toml:"strategy"`
	Groups      []string `toml:"groups"`
	Targets     []string `toml:"targets"`
	Split       bool     `toml:"split,omitempty"`
	// Generated is only set on request and is not part of the fingerprint.
	Generated *time.Time `toml:"generated,omitempty"`
}

// Manifest records the inputs behind the fingerprint so that a stale lock
// can say what changed.
type Manifest struct {
	// Groups maps a group name to its sorted root requirements.
	Groups map[string][]string `toml:"groups"`
	// Config holds the canonical resolution settings, one "key=value" each.
	Config []string `toml:"config"`
}

// Entry is one locked package.
type Entry struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	// Source is the direct reference of a path, URL or VCS package. VCS
	// references carry the resolved revision.
	Source string `toml:"source,omitempty"`
	// Index names the index the package was found in.
	Index          string   `toml:"index,omitempty"`
	RequiresPython string   `toml:"requires_python,omitempty"`
	Marker         string   `toml:"marker,omitempty"`
	Extras         []string `toml:"extras,omitempty"`
	Dependencies   []string `toml:"dependencies,omitempty"`
	Groups         []string `toml:"groups"`
	Files          []File   `toml:"files,omitempty"`
}

// File is one artifact of an entry.
type File struct {
	Name string `toml:"file"`
	Hash string `toml:"hash,omitempty"`
}

// ParsedMarker returns the entry's marker.
func (e *Entry) ParsedMarker() (markers.Marker, error) {
	return markers.Parse(e.Marker)
}

// Hashes returns the sorted, distinct file hashes.
func (e *Entry) Hashes() []string {
	var out []string
	for _, f := range e.Files {
		if f.Hash != "" {
			out = append(out, f.Hash)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Build creates a lock from a resolution. generated may be zero.
func Build(res *resolver.Result, in Inputs, generated time.Time) (*Lock, error) {
	in = in.normalize()
	targets := res.Targets
	if len(targets) == 0 {
		targets = in.Targets
	}
	l := &Lock{
		Metadata: Metadata{
			LockVersion: Version,
			Fingerprint: Fingerprint(in),
			Strategy:    in.strategy(),
			Groups:      in.groupNames(),
			Targets:     targetStrings(targets),
			Split:       in.Split,
		},
		Manifest: in.manifest(),
	}
	if !generated.IsZero() {
		t := generated.UTC().Truncate(time.Second)
		l.Metadata.Generated = &t
	}
	for _, p := range res.Packages {
		l.Packages = append(l.Packages, entryFor(p))
	}
	l.normalize()
	if err := l.CheckMarkers(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "resolution produced an invalid lock")
	}
	return l, nil
}

func entryFor(p *resolver.Package) Entry {
	c := p.Candidate
	e := Entry{
		Name:           c.Name,
		Version:        c.Version.String(),
		RequiresPython: c.RequiresPython.String(),
		Marker:         p.Marker.String(),
		Extras:         slices.Clone(p.Extras),
		Dependencies:   slices.Clone(p.Dependencies),
		Groups:         slices.Clone(p.Groups),
	}
	if c.Source != nil {
		e.Source = c.Source.LockURL()
	} else {
		e.Index = c.Index
	}
	for _, a := range c.Artifacts {
		e.Files = append(e.Files, File{Name: a.Filename, Hash: a.Hash})
	}
	return e
}

// normalize sorts everything whose order carries no meaning.
func (l *Lock) normalize() {
	for i := range l.Packages {
		e := &l.Packages[i]
		slices.Sort(e.Extras)
		slices.Sort(e.Dependencies)
		slices.Sort(e.Groups)
		slices.SortFunc(e.Files, func(a, b File) int {
			if c := strings.Compare(a.Name, b.Name); c != 0 {
				return c
			}
			return strings.Compare(a.Hash, b.Hash)
		})
		e.Files = slices.Compact(e.Files)
	}
	slices.SortStableFunc(l.Packages, func(a, b Entry) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.Marker, b.Marker)
	})
}

// Targets parses the targets recorded in the lock.
func (l *Lock) Targets() ([]markers.Target, error) {
	out := make([]markers.Target, 0, len(l.Metadata.Targets))
	for _, s := range l.Metadata.Targets {
		t, err := markers.ParseTarget(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Lookup returns the entries for name.
func (l *Lock) Lookup(name string) []Entry {
	var out []Entry
	for _, e := range l.Packages {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Pins returns the locked version of every name, for use as preferred
// versions in the next resolution. A name locked more than once keeps its
// highest version.
func (l *Lock) Pins() map[string]pep440.Version {
	out := make(map[string]pep440.Version, len(l.Packages))
	for _, e := range l.Packages {
		v, err := pep440.Parse(e.Version)
		if err != nil {
			continue
		}
		if prev, ok := out[e.Name]; !ok || prev.Less(v) {
			out[e.Name] = v
		}
	}
	return out
}

// CheckMarkers verifies that entries sharing a name have markers that never
// hold together in any of the lock's targets.
func (l *Lock) CheckMarkers() error {
	targets, err := l.Targets()
	if err != nil {
		return err
	}
	byName := make(map[string][]markers.Marker)
	for i := range l.Packages {
		e := &l.Packages[i]
		m, err := e.ParsedMarker()
		if err != nil {
			return errors.Wrap(errors.ErrCodeParse, err, "marker of %s %s", e.Name, e.Version)
		}
		for _, other := range byName[e.Name] {
			if !markers.Disjoint(m, other, targets) {
				return errors.New(errors.ErrCodeInvalidInput, "%s is locked more than once for the same environment (%q and %q)", e.Name, other, m)
			}
		}
		byName[e.Name] = append(byName[e.Name], m)
	}
	return nil
}

// CheckTargets returns the requested targets the lock can be applied to. A
// requested target is covered when one of the lock's targets contains all
// of its environments. Without allowPartial every requested target must be
// covered. No requested targets means the lock's own targets.
func (l *Lock) CheckTargets(requested []markers.Target, allowPartial bool) ([]markers.Target, error) {
	locked, err := l.Targets()
	if err != nil {
		return nil, err
	}
	if len(requested) == 0 {
		return locked, nil
	}
	var covered []markers.Target
	var missing []string
	for _, t := range requested {
		if slices.ContainsFunc(locked, func(lt markers.Target) bool { return lt.Covers(t) }) {
			covered = append(covered, t)
		} else {
			missing = append(missing, t.String())
		}
	}
	if len(missing) == 0 || (allowPartial && len(covered) > 0) {
		return covered, nil
	}
	return nil, errors.New(errors.ErrCodeIncompatibleEnvironment,
		"lock was generated for %s and does not cover %s", strings.Join(l.Metadata.Targets, ", "), strings.Join(missing, ", "))
}

// ForTargets returns the entries whose marker can hold in at least one of
// targets, in lock order.
func (l *Lock) ForTargets(targets []markers.Target) ([]Entry, error) {
	var out []Entry
	for _, e := range l.Packages {
		m, err := e.ParsedMarker()
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeParse, err, "marker of %s %s", e.Name, e.Version)
		}
		if m.EvaluateAny(targets) {
			out = append(out, e)
		}
	}
	return out, nil
}

func targetStrings(targets []markers.Target) []string {
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = t.String()
	}
	return out
}
