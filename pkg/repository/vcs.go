package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/vcs"
	"github.com/cespare/xxhash/v2"

	"github.com/matzehuels/stacklock/pkg/dist"
	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

// VCS serves requirements that point at a version-control repository. Each
// (url, ref) is checked out once per run under the cache directory and
// locked to the commit the ref resolved to.
type VCS struct {
	dir  string
	opts Options

	checkouts flight[checkout]
}

type checkout struct {
	path     string
	revision string
	md       *dist.Metadata
}

// NewVCS creates a VCS source that keeps checkouts under cacheDir/vcs.
func NewVCS(cacheDir string, opts Options) *VCS {
	return &VCS{dir: filepath.Join(cacheDir, "vcs"), opts: opts.WithDefaults()}
}

func (r *VCS) FindCandidates(ctx context.Context, req *requirement.Requirement) (Sequence, error) {
	if req.Source == nil || req.Source.Kind != requirement.SourceVCS {
		return nil, errors.New(errors.ErrCodeInvalidInput, "%s is not a VCS requirement", req)
	}
	co, err := r.checkout(ctx, req.Source)
	if err != nil {
		return nil, err
	}
	if co.md.Name != req.Name {
		return nil, errors.New(errors.ErrCodeInvalidInput, "%s provides %s, not %s", req.Source, co.md.Name, req.Name)
	}
	src := *req.Source
	src.Revision = co.revision
	// The candidate carries the revision; map it to the same checkout.
	r.checkouts.store(checkoutKey(&src), co)
	c := &Candidate{
		Name:           co.md.Name,
		Version:        co.md.Version,
		Source:         &src,
		RequiresPython: co.md.RequiresPython,
		origin:         r,
	}
	return Slice(matching([]*Candidate{c}, req, r.opts.Targets)), nil
}

func (r *VCS) Dependencies(ctx context.Context, c *Candidate) ([]*requirement.Requirement, error) {
	if c.Source == nil || c.Source.Kind != requirement.SourceVCS {
		return nil, fmt.Errorf("%s is not a VCS candidate", c)
	}
	co, err := r.checkout(ctx, c.Source)
	if err != nil {
		return nil, err
	}
	return dependenciesOf(c, co.md)
}

// checkoutKey prefers the resolved revision over the requested ref.
func checkoutKey(src *requirement.Source) string {
	ref := src.Ref
	if src.Revision != "" {
		ref = src.Revision
	}
	return src.VCS + "+" + src.URL + "@" + ref + "#" + src.Subdirectory
}

func (r *VCS) checkout(ctx context.Context, src *requirement.Source) (checkout, error) {
	key := checkoutKey(src)
	return r.checkouts.do(key, func() (checkout, error) {
		if err := ctx.Err(); err != nil {
			return checkout{}, err
		}
		path := filepath.Join(r.dir, checkoutDir(src.URL, key))
		repo, err := newRepo(src.VCS, src.URL, path)
		if err != nil {
			return checkout{}, Unavailable(src.String(), err)
		}
		if err := syncRepo(repo); err != nil {
			return checkout{}, Unavailable(src.String(), err)
		}
		ref := src.Revision
		if ref == "" {
			ref = src.Ref
		}
		if ref != "" {
			if err := repo.UpdateVersion(ref); err != nil {
				return checkout{}, Unavailable(src.String(), fmt.Errorf("checkout %s: %w", ref, err))
			}
		}
		rev, err := repo.Version()
		if err != nil {
			return checkout{}, Unavailable(src.String(), err)
		}
		r.opts.Logger.Debug("checked out", "url", src.URL, "ref", ref, "revision", rev)

		tree := path
		if src.Subdirectory != "" {
			tree = filepath.Join(path, filepath.FromSlash(src.Subdirectory))
		}
		md, err := treeMetadata(ctx, tree, r.opts.Builder)
		if err != nil {
			return checkout{}, err
		}
		return checkout{path: path, revision: strings.TrimSpace(rev), md: md}, nil
	})
}

func newRepo(kind, remote, local string) (vcs.Repo, error) {
	switch kind {
	case "git":
		return vcs.NewGitRepo(remote, local)
	case "hg":
		return vcs.NewHgRepo(remote, local)
	case "svn":
		return vcs.NewSvnRepo(remote, local)
	case "bzr":
		return vcs.NewBzrRepo(remote, local)
	}
	return nil, errors.New(errors.ErrCodeUnsupported, "unsupported VCS %q", kind)
}

// syncRepo clones the repository or refreshes an existing clone.
func syncRepo(repo vcs.Repo) error {
	if repo.CheckLocal() {
		return repo.Update()
	}
	if err := os.MkdirAll(filepath.Dir(repo.LocalPath()), 0o755); err != nil {
		return err
	}
	return repo.Get()
}

// checkoutDir names a checkout after the repository with a hash suffix that
// keeps different refs apart.
func checkoutDir(remote, key string) string {
	base := strings.TrimSuffix(filepath.Base(strings.TrimRight(remote, "/")), ".git")
	if base == "" || base == "." || base == "/" {
		base = "repo"
	}
	return fmt.Sprintf("%s-%016x", base, xxhash.Sum64String(key))
}

var _ Repository = (*VCS)(nil)
