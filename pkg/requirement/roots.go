package requirement

import (
	"fmt"

	"github.com/matzehuels/stacklock/pkg/errors"
)

// DuplicateRootError reports two root requirements that claim the same
// project from different sources. Silently keeping either would shadow the
// other.
type DuplicateRootError struct {
	Name          string
	First, Second *Requirement
}

func (e *DuplicateRootError) Error() string {
	return fmt.Sprintf("duplicate root requirement %q: %q conflicts with %q", e.Name, e.First, e.Second)
}

// Code maps the error onto the resolution conflict category.
func (e *DuplicateRootError) Code() errors.Code { return errors.ErrCodeResolutionConflict }

// ValidateRoots checks a project's root requirements before resolution and
// returns them with exact duplicates removed. The same name may appear more
// than once (for example with different markers) only if every occurrence
// uses the same source.
func ValidateRoots(reqs []*Requirement) ([]*Requirement, error) {
	first := make(map[string]*Requirement, len(reqs))
	seen := make(map[string]bool, len(reqs))
	out := make([]*Requirement, 0, len(reqs))
	for _, r := range reqs {
		if prev, ok := first[r.Name]; ok && !prev.Source.Equal(r.Source) {
			return nil, &DuplicateRootError{Name: r.Name, First: prev, Second: r}
		}
		if _, ok := first[r.Name]; !ok {
			first[r.Name] = r
		}
		if key := r.String(); !seen[key] {
			seen[key] = true
			out = append(out, r)
		}
	}
	return out, nil
}
