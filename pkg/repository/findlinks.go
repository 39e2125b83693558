package repository

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/matzehuels/stacklock/pkg/dist"
	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

const findLinksPattern = "**/*.{whl,tar.gz,zip,tar.bz2,tgz}"

// FindLinks serves candidates from a flat directory of artifacts. The
// directory may be given as a path or a file:// URL and is scanned once,
// subdirectories included.
type FindLinks struct {
	name string
	dir  string
	opts Options

	once     sync.Once
	err      error
	projects map[string][]*Candidate
}

// NewFindLinks creates a find-links source over location.
func NewFindLinks(name, location string, opts Options) (*FindLinks, error) {
	dir := location
	if strings.Contains(location, "://") {
		u, err := url.Parse(location)
		if err != nil || u.Scheme != "file" {
			return nil, errors.New(errors.ErrCodeUnsupported, "find-links %q: only local directories are supported", location)
		}
		dir = u.Path
	}
	return &FindLinks{name: name, dir: filepath.Clean(dir), opts: opts.WithDefaults()}, nil
}

func (r *FindLinks) Name() string { return r.name }
func (r *FindLinks) Kind() Kind   { return KindFindLinks }
func (r *FindLinks) Dir() string  { return r.dir }

func (r *FindLinks) scan() error {
	r.once.Do(func() {
		if info, err := os.Stat(r.dir); err != nil || !info.IsDir() {
			r.err = Unavailable(r.dir, fmt.Errorf("not a directory"))
			return
		}
		matches, err := doublestar.Glob(os.DirFS(r.dir), findLinksPattern, doublestar.WithFailOnIOErrors())
		if err != nil {
			r.err = Unavailable(r.dir, err)
			return
		}
		byName := map[string][]Artifact{}
		for _, rel := range matches {
			fn, err := dist.ParseFilename(filepath.Base(rel))
			if err != nil {
				r.opts.Logger.Debug("skipping unrecognized artifact", "dir", r.dir, "file", rel)
				continue
			}
			p := filepath.Join(r.dir, filepath.FromSlash(rel))
			data, err := os.ReadFile(p)
			if err != nil {
				r.err = Unavailable(r.dir, err)
				return
			}
			byName[fn.Name] = append(byName[fn.Name], Artifact{
				Filename: fn.Raw,
				URL:      (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String(),
				Hash:     dist.SHA256(data),
				Kind:     fn.Kind,
				file:     fn,
			})
		}
		r.projects = make(map[string][]*Candidate, len(byName))
		for name, artifacts := range byName {
			r.projects[name] = r.opts.Filters.group(name, r.name, r, artifacts)
		}
	})
	return r.err
}

// Has reports whether the directory holds any artifact of name.
func (r *FindLinks) Has(_ context.Context, name string) (bool, error) {
	if err := r.scan(); err != nil {
		return false, err
	}
	return len(r.projects[name]) > 0, nil
}

func (r *FindLinks) FindCandidates(_ context.Context, req *requirement.Requirement) (Sequence, error) {
	if req.Source != nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "find-links %s cannot serve %s", r.name, req)
	}
	if err := r.scan(); err != nil {
		return nil, err
	}
	return Slice(matching(r.projects[req.Name], req, r.opts.Targets)), nil
}

func (r *FindLinks) Dependencies(ctx context.Context, c *Candidate) ([]*requirement.Requirement, error) {
	md, err := artifactMetadata(ctx, r, r.opts.Builder, c)
	if err != nil {
		return nil, fmt.Errorf("metadata of %s: %w", c, err)
	}
	return dependenciesOf(c, md)
}

func (r *FindLinks) metadataFile(context.Context, string, Artifact) ([]byte, error) {
	return nil, errors.New(errors.ErrCodeUnsupported, "find-links directories serve no metadata files")
}

func (r *FindLinks) download(_ context.Context, a Artifact) ([]byte, error) {
	u, err := url.Parse(a.URL)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.FromSlash(u.Path))
	if err != nil {
		return nil, err
	}
	if a.Hash != "" && dist.SHA256(data) != a.Hash {
		return nil, fmt.Errorf("%s changed on disk", a.Filename)
	}
	return data, nil
}

var (
	_ Source  = (*FindLinks)(nil)
	_ fetcher = (*FindLinks)(nil)
)
