package repository

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/matzehuels/stacklock/pkg/dist"
)

// AllPackages in NoBinary or OnlyBinary applies the policy to every package.
const AllPackages = ":all:"

// Filters drop artifacts before candidates are formed.
type Filters struct {
	// ExcludeNewer drops artifacts uploaded after this instant. Artifacts
	// without an upload time are kept.
	ExcludeNewer time.Time
	// NoBinary lists packages that must be built from source.
	NoBinary []string
	// OnlyBinary lists packages that must be installed from wheels.
	OnlyBinary []string
}

// Allows reports whether an artifact of the named package passes the
// filters.
func (f Filters) Allows(name string, a Artifact) bool {
	if !f.ExcludeNewer.IsZero() && !a.UploadTime.IsZero() && a.UploadTime.After(f.ExcludeNewer) {
		return false
	}
	switch a.Kind {
	case dist.KindWheel:
		return !applies(f.NoBinary, name)
	case dist.KindSdist:
		return !applies(f.OnlyBinary, name)
	}
	return true
}

func applies(list []string, name string) bool {
	return slices.Contains(list, name) || (slices.Contains(list, AllPackages) && !slices.Contains(list, ":none:"))
}

// group turns a flat artifact list into one candidate per version. Artifacts
// rejected by the filters are dropped first; a version is yanked only when
// every remaining artifact is.
func (f Filters) group(name, index string, origin Repository, artifacts []Artifact) []*Candidate {
	byVersion := map[string]*Candidate{}
	var order []*Candidate
	for _, a := range artifacts {
		if a.file == nil || a.file.Name != name || !f.Allows(name, a) {
			continue
		}
		key := a.file.Version.String()
		c, ok := byVersion[key]
		if !ok {
			c = &Candidate{
				Name:           name,
				Version:        a.file.Version,
				Index:          index,
				RequiresPython: a.RequiresPython,
				Yanked:         true,
				origin:         origin,
			}
			byVersion[key] = c
			order = append(order, c)
		}
		c.Artifacts = append(c.Artifacts, a)
		if !a.Yanked {
			c.Yanked = false
		}
		// Requires-Python is per file; the candidate is as permissive as
		// its most permissive artifact.
		if a.RequiresPython.IsAny() {
			c.RequiresPython = nil
		}
	}
	for _, c := range order {
		slices.SortFunc(c.Artifacts, func(a, b Artifact) int {
			return cmp.Or(cmp.Compare(a.Kind, b.Kind), strings.Compare(a.Filename, b.Filename))
		})
	}
	sortCandidates(order)
	return order
}
