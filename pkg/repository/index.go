package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/matzehuels/stacklock/pkg/dist"
	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/integrations/pypi"
	"github.com/matzehuels/stacklock/pkg/pep440"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

// Source is a named index-like repository that can take part in a [Chain].
type Source interface {
	Repository
	Name() string
	Kind() Kind
	// Has reports whether the source knows the project at all, regardless
	// of versions.
	Has(ctx context.Context, name string) (bool, error)
}

// Index serves candidates from a PEP 691 simple index.
type Index struct {
	name   string
	client *pypi.Client
	opts   Options
	pages  flight[[]*Candidate]
}

// NewIndex creates an index source.
func NewIndex(name string, client *pypi.Client, opts Options) *Index {
	return &Index{name: name, client: client, opts: opts.WithDefaults()}
}

func (r *Index) Name() string { return r.name }
func (r *Index) Kind() Kind   { return KindIndex }
func (r *Index) URL() string  { return r.client.IndexURL() }

// Has reports whether the index lists any file for name.
func (r *Index) Has(ctx context.Context, name string) (bool, error) {
	cands, err := r.all(ctx, name)
	return len(cands) > 0, err
}

// FindCandidates lists the index's releases of req.Name that satisfy req.
func (r *Index) FindCandidates(ctx context.Context, req *requirement.Requirement) (Sequence, error) {
	if req.Source != nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "index %s cannot serve %s", r.name, req)
	}
	cands, err := r.all(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	return Slice(matching(cands, req, r.opts.Targets)), nil
}

// all returns every candidate of name, fetching the project page once per
// run. A project the index does not know has no candidates.
func (r *Index) all(ctx context.Context, name string) ([]*Candidate, error) {
	return r.pages.do(name, func() ([]*Candidate, error) {
		p, err := r.client.Project(ctx, name, r.opts.Refresh)
		if errors.Is(err, errors.ErrCodeNotFound) {
			r.opts.Logger.Debug("project not on index", "index", r.name, "project", name)
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		artifacts := make([]Artifact, 0, len(p.Files))
		for _, f := range p.Files {
			if a, ok := fileArtifact(f); ok {
				artifacts = append(artifacts, a)
			}
		}
		return r.opts.Filters.group(name, r.name, r, artifacts), nil
	})
}

func fileArtifact(f pypi.File) (Artifact, bool) {
	if !dist.IsDistribution(f.Filename) {
		return Artifact{}, false
	}
	fn, err := dist.ParseFilename(f.Filename)
	if err != nil {
		return Artifact{}, false
	}
	requiresPython, _ := pep440.ParseSpecifiers(f.RequiresPython)
	return Artifact{
		Filename:       f.Filename,
		URL:            f.URL,
		Hash:           dist.FormatHash(f.Hashes),
		Kind:           fn.Kind,
		RequiresPython: requiresPython,
		UploadTime:     f.UploadTime,
		Yanked:         f.Yanked.Yanked,
		Metadata:       f.HasMetadata(),
		file:           fn,
	}, true
}

// Dependencies reads the candidate's metadata from the index.
func (r *Index) Dependencies(ctx context.Context, c *Candidate) ([]*requirement.Requirement, error) {
	md, err := artifactMetadata(ctx, r, r.opts.Builder, c)
	if err != nil {
		return nil, fmt.Errorf("metadata of %s: %w", c, err)
	}
	return dependenciesOf(c, md)
}

func (r *Index) metadataFile(ctx context.Context, name string, a Artifact) ([]byte, error) {
	return r.client.Metadata(ctx, name, a.pypiFile())
}

func (r *Index) download(ctx context.Context, a Artifact) ([]byte, error) {
	var data []byte
	err := r.client.Retry(ctx, func() error {
		var err error
		data, err = r.client.GetBytes(ctx, a.URL, map[string]string{"Accept": "*/*"})
		return err
	})
	if err != nil {
		return nil, err
	}
	if a.Hash != "" && dist.SHA256(data) != a.Hash {
		return nil, fmt.Errorf("%s: hash mismatch", a.Filename)
	}
	return data, nil
}

func (a Artifact) pypiFile() pypi.File {
	f := pypi.File{
		Filename:     a.Filename,
		URL:          a.URL,
		CoreMetadata: pypi.CoreMetadata{Available: a.Metadata},
	}
	if hash, ok := strings.CutPrefix(a.Hash, "sha256:"); ok {
		f.Hashes = map[string]string{"sha256": hash}
	}
	return f
}

var (
	_ Source  = (*Index)(nil)
	_ fetcher = (*Index)(nil)
)
