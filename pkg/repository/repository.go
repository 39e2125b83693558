// Package repository answers the two questions the resolver asks about a
// project: which candidates exist for a requirement, and what a candidate
// depends on.
//
// A [Repository] is implemented by a closed set of source variants ([Kind]):
// simple indexes, find-links directories, local project trees, VCS checkouts
// and direct artifact URLs. [Chain] combines indexes and find-links
// directories under a [SourceOrder] policy, [Router] sends explicit
// requirements to the matching variant, and [Memo] deduplicates lookups
// within one run so that the [Prefetcher] can warm it concurrently.
package repository

import (
	"context"
	"io"
	"iter"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/stacklock/pkg/dist"
	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/markers"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

// Kind is a source variant.
type Kind int

const (
	KindIndex Kind = iota + 1
	KindFindLinks
	KindLocal
	KindVCS
	KindURL
)

func (k Kind) String() string {
	switch k {
	case KindIndex:
		return "index"
	case KindFindLinks:
		return "find-links"
	case KindLocal:
		return "local"
	case KindVCS:
		return "vcs"
	case KindURL:
		return "url"
	}
	return "unknown"
}

// Sequence yields candidates best match first. Ranging over it again starts
// from the beginning.
type Sequence = iter.Seq[*Candidate]

// Repository is the capability the resolver consumes.
//
//go:generate mockgen -source=repository.go -destination=mocks/mock_repository.go -package=mocks
type Repository interface {
	// FindCandidates returns the candidates whose version satisfies
	// req's specifiers, pre-releases included. Markers and extras are
	// ignored.
	FindCandidates(ctx context.Context, req *requirement.Requirement) (Sequence, error)
	// Dependencies returns every Requires-Dist entry of c, including those
	// gated on extras.
	Dependencies(ctx context.Context, c *Candidate) ([]*requirement.Requirement, error)
}

// MetadataBuilder computes core metadata for a source tree or source
// archive whose metadata is not static, typically by invoking the
// project's build backend.
type MetadataBuilder interface {
	BuildMetadata(ctx context.Context, path string) (*dist.Metadata, error)
}

// Options are shared by every source variant.
type Options struct {
	// Targets restrict candidates and artifacts to those installable in at
	// least one target.
	Targets []markers.Target
	Filters Filters
	// Builder is asked for metadata that cannot be read statically. Nil
	// means such candidates are unavailable.
	Builder MetadataBuilder
	// Refresh bypasses cached index pages.
	Refresh bool
	Logger  *log.Logger
}

// WithDefaults returns a copy of o with a discard logger when none is set.
func (o Options) WithDefaults() Options {
	if o.Logger == nil {
		o.Logger = log.New(io.Discard)
	}
	return o
}

// Slice returns a Sequence over cands.
func Slice(cands []*Candidate) Sequence { return slices.Values(cands) }

// Collect drains seq.
func Collect(seq Sequence) []*Candidate {
	if seq == nil {
		return nil
	}
	return slices.Collect(seq)
}

// Empty is the sequence with no candidates.
func Empty() Sequence { return func(func(*Candidate) bool) {} }

// Unavailable wraps err as a SOURCE_UNAVAILABLE failure for source.
func Unavailable(source string, err error) error {
	return errors.Wrap(errors.ErrCodeSourceUnavailable, err, "source %s is unavailable", source)
}

// matching keeps the candidates whose version satisfies req's specifiers and
// which support one of the targets. Yanked candidates survive only an exact
// "==" pin.
func matching(cands []*Candidate, req *requirement.Requirement, targets []markers.Target) []*Candidate {
	pinned := req.IsPinned()
	var out []*Candidate
	for _, c := range cands {
		if !req.Specifiers.Contains(c.Version) {
			continue
		}
		if c.Yanked && !pinned {
			continue
		}
		if !c.SupportsAny(targets) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// buildMetadata asks b for the metadata of the tree or archive at path.
// cause explains why static metadata was not enough.
func buildMetadata(ctx context.Context, b MetadataBuilder, path string, cause error) (*dist.Metadata, error) {
	if b == nil {
		return nil, Unavailable(path, cause)
	}
	md, err := b.BuildMetadata(ctx, path)
	if err != nil {
		return nil, Unavailable(path, err)
	}
	return md, nil
}
