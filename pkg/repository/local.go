package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/matzehuels/stacklock/pkg/dist"
	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/project"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

// Local serves path requirements: project directories on disk.
type Local struct {
	root  string
	opts  Options
	trees flight[*dist.Metadata]
}

// NewLocal creates a local source. Relative paths are resolved against root,
// the directory of the project being locked.
func NewLocal(root string, opts Options) *Local {
	return &Local{root: root, opts: opts.WithDefaults()}
}

func (r *Local) FindCandidates(ctx context.Context, req *requirement.Requirement) (Sequence, error) {
	if req.Source == nil || req.Source.Kind != requirement.SourcePath {
		return nil, errors.New(errors.ErrCodeInvalidInput, "%s is not a path requirement", req)
	}
	dir := r.dir(req.Source)
	md, err := r.metadata(ctx, dir)
	if err != nil {
		return nil, err
	}
	if md.Name != req.Name {
		return nil, errors.New(errors.ErrCodeInvalidInput, "%s provides %s, not %s", req.Source, md.Name, req.Name)
	}
	src := *req.Source
	c := &Candidate{
		Name:           md.Name,
		Version:        md.Version,
		Source:         &src,
		RequiresPython: md.RequiresPython,
		origin:         r,
	}
	return Slice(matching([]*Candidate{c}, req, r.opts.Targets)), nil
}

// Dependencies returns the tree's requirements. Nested relative path
// requirements are rewritten relative to the project root.
func (r *Local) Dependencies(ctx context.Context, c *Candidate) ([]*requirement.Requirement, error) {
	if c.Source == nil || c.Source.Kind != requirement.SourcePath {
		return nil, fmt.Errorf("%s is not a path candidate", c)
	}
	dir := r.dir(c.Source)
	md, err := r.metadata(ctx, dir)
	if err != nil {
		return nil, err
	}
	deps, err := dependenciesOf(c, md)
	if err != nil {
		return nil, err
	}
	return rebase(deps, dir, r.root), nil
}

func (r *Local) dir(src *requirement.Source) string {
	dir := filepath.FromSlash(src.URL)
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(r.root, dir)
	}
	if src.Subdirectory != "" {
		dir = filepath.Join(dir, filepath.FromSlash(src.Subdirectory))
	}
	return filepath.Clean(dir)
}

func (r *Local) metadata(ctx context.Context, dir string) (*dist.Metadata, error) {
	return r.trees.do(dir, func() (*dist.Metadata, error) {
		return treeMetadata(ctx, dir, r.opts.Builder)
	})
}

// treeMetadata reads the metadata of a source tree: static pyproject.toml
// first, then a PKG-INFO left by an sdist, then the builder.
func treeMetadata(ctx context.Context, dir string, b MetadataBuilder) (*dist.Metadata, error) {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, Unavailable(dir, fmt.Errorf("not a directory"))
	}
	p, err := project.Load(dir)
	switch {
	case err == nil:
		md, err := p.Metadata()
		if err == nil {
			return md, nil
		}
		if !errors.Is(err, errors.ErrCodeSourceUnavailable) {
			return nil, err
		}
		return buildMetadata(ctx, b, dir, err)
	case !errors.Is(err, errors.ErrCodeNotFound):
		return nil, err
	}

	if data, err := os.ReadFile(filepath.Join(dir, "PKG-INFO")); err == nil {
		md, err := dist.ParseMetadata(data)
		if err == nil && md.StaticDependencies(dist.KindSdist) {
			return md, nil
		}
	}
	return buildMetadata(ctx, b, dir, fmt.Errorf("no static metadata in %s", dir))
}

// rebase rewrites relative path requirements found in the tree at from so
// that they are relative to root.
func rebase(deps []*requirement.Requirement, from, root string) []*requirement.Requirement {
	out := make([]*requirement.Requirement, len(deps))
	for i, d := range deps {
		out[i] = d
		if d.Source == nil || d.Source.Kind != requirement.SourcePath || filepath.IsAbs(d.Source.URL) {
			continue
		}
		abs := filepath.Join(from, filepath.FromSlash(d.Source.URL))
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, ".") {
			rel = "./" + rel
		}
		src := *d.Source
		src.URL = rel
		cp := *d
		cp.Source = &src
		out[i] = &cp
	}
	return out
}

var _ Repository = (*Local)(nil)
