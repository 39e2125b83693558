package repository

import (
	"slices"
	"strings"
	"time"

	"github.com/matzehuels/stacklock/pkg/dist"
	"github.com/matzehuels/stacklock/pkg/markers"
	"github.com/matzehuels/stacklock/pkg/pep440"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

// Candidate is one concrete version of a project from one source.
// Candidates with the same Key are interchangeable.
type Candidate struct {
	Name    string
	Version pep440.Version
	// Source is set for candidates of explicit requirements (path, VCS, URL).
	// VCS sources carry the resolved revision.
	Source *requirement.Source
	// Index names the index or find-links source the candidate came from.
	Index          string
	RequiresPython pep440.Specifiers
	Artifacts      []Artifact
	Yanked         bool

	origin Repository
}

// Artifact is one downloadable file of a candidate.
type Artifact struct {
	Filename       string
	URL            string
	Hash           string // "sha256:<hex>", empty if the source does not publish one
	Kind           dist.Kind
	RequiresPython pep440.Specifiers
	UploadTime     time.Time
	Yanked         bool
	// Metadata reports whether the index serves a PEP 658 metadata file.
	Metadata bool

	file *dist.Filename
}

// Key identifies the candidate: name, version and source identity.
func (c *Candidate) Key() string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteString("==")
	b.WriteString(c.Version.String())
	if c.Source != nil {
		b.WriteString(" @ ")
		b.WriteString(c.Source.String())
	} else if c.Index != "" {
		b.WriteString(" from ")
		b.WriteString(c.Index)
	}
	return b.String()
}

func (c *Candidate) String() string { return c.Name + " " + c.Version.String() }

// Hashes returns the sorted artifact hashes.
func (c *Candidate) Hashes() []string {
	var out []string
	for _, a := range c.Artifacts {
		if a.Hash != "" {
			out = append(out, a.Hash)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Supports reports whether the candidate can be installed somewhere in t:
// its requires-python must overlap the target's interpreter range and at
// least one artifact must apply.
func (c *Candidate) Supports(t markers.Target) bool {
	if c.RequiresPython.Set().Intersect(t.Python.Set()).IsEmpty() {
		return false
	}
	if len(c.Artifacts) == 0 {
		return true
	}
	for _, a := range c.Artifacts {
		if a.supports(t) {
			return true
		}
	}
	return false
}

// SupportsAny reports whether the candidate supports at least one target.
// An empty list means the universal target.
func (c *Candidate) SupportsAny(targets []markers.Target) bool {
	if len(targets) == 0 {
		return c.Supports(markers.Target{})
	}
	for _, t := range targets {
		if c.Supports(t) {
			return true
		}
	}
	return false
}

func (a Artifact) supports(t markers.Target) bool {
	if a.RequiresPython.Set().Intersect(t.Python.Set()).IsEmpty() {
		return false
	}
	if a.file == nil || a.file.Kind != dist.KindWheel {
		return true
	}
	return a.file.Supports(t)
}

// Origin returns the repository that produced c, or nil.
func (c *Candidate) Origin() Repository { return c.origin }

// sortCandidates orders candidates best first: highest version, then by key
// so that equal versions from different sources are stable.
func sortCandidates(cands []*Candidate) {
	slices.SortStableFunc(cands, func(a, b *Candidate) int {
		if c := b.Version.Compare(a.Version); c != 0 {
			return c
		}
		return strings.Compare(a.Key(), b.Key())
	})
}
