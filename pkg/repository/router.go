package repository

import (
	"context"

	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

// Router sends each requirement to the variant that can serve it: the chain
// for plain requirements, and the path, VCS or URL source for requirements
// with an explicit source. A requirement with an explicit source never
// reaches the chain, and failures of explicit sources are fatal.
type Router struct {
	Chain Repository
	Local Repository
	VCS   Repository
	URL   Repository
}

func (r *Router) route(req *requirement.Requirement) (Repository, error) {
	var repo Repository
	if req.Source == nil {
		repo = r.Chain
	} else {
		switch req.Source.Kind {
		case requirement.SourcePath:
			repo = r.Local
		case requirement.SourceVCS:
			repo = r.VCS
		case requirement.SourceURL:
			repo = r.URL
		}
	}
	if repo == nil {
		return nil, errors.New(errors.ErrCodeUnsupported, "no source configured for %s", req)
	}
	return repo, nil
}

func (r *Router) FindCandidates(ctx context.Context, req *requirement.Requirement) (Sequence, error) {
	repo, err := r.route(req)
	if err != nil {
		return nil, err
	}
	seq, err := repo.FindCandidates(ctx, req)
	if err != nil && req.Source != nil && errors.GetCode(err) == "" && contextError(err) == nil {
		return nil, Unavailable(req.Source.String(), err)
	}
	return seq, err
}

// Dependencies asks the repository that produced c.
func (r *Router) Dependencies(ctx context.Context, c *Candidate) ([]*requirement.Requirement, error) {
	if c.origin != nil {
		return c.origin.Dependencies(ctx, c)
	}
	repo, err := r.route(&requirement.Requirement{Name: c.Name, Source: c.Source})
	if err != nil {
		return nil, err
	}
	return repo.Dependencies(ctx, c)
}

var _ Repository = (*Router)(nil)
