package repository

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/matzehuels/stacklock/pkg/dist"
	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/integrations"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

// URL serves requirements that point directly at a wheel or source archive,
// over HTTP(S) or as a file:// URL.
type URL struct {
	client *integrations.Client
	opts   Options

	artifacts flight[urlArtifact]
}

type urlArtifact struct {
	artifact Artifact
	md       *dist.Metadata
}

// NewURL creates a direct-URL source. client fetches remote archives and may
// be nil when only file:// URLs are used.
func NewURL(client *integrations.Client, opts Options) *URL {
	return &URL{client: client, opts: opts.WithDefaults()}
}

func (r *URL) FindCandidates(ctx context.Context, req *requirement.Requirement) (Sequence, error) {
	if req.Source == nil || req.Source.Kind != requirement.SourceURL {
		return nil, errors.New(errors.ErrCodeInvalidInput, "%s is not a URL requirement", req)
	}
	ua, err := r.load(ctx, req.Source)
	if err != nil {
		return nil, err
	}
	if ua.md.Name != req.Name {
		return nil, errors.New(errors.ErrCodeInvalidInput, "%s provides %s, not %s", req.Source, ua.md.Name, req.Name)
	}
	src := *req.Source
	if src.Hash == "" {
		src.Hash = ua.artifact.Hash
	}
	c := &Candidate{
		Name:           ua.md.Name,
		Version:        ua.md.Version,
		Source:         &src,
		RequiresPython: ua.md.RequiresPython,
		Artifacts:      []Artifact{ua.artifact},
		origin:         r,
	}
	return Slice(matching([]*Candidate{c}, req, r.opts.Targets)), nil
}

func (r *URL) Dependencies(ctx context.Context, c *Candidate) ([]*requirement.Requirement, error) {
	if c.Source == nil || c.Source.Kind != requirement.SourceURL {
		return nil, fmt.Errorf("%s is not a URL candidate", c)
	}
	ua, err := r.load(ctx, c.Source)
	if err != nil {
		return nil, err
	}
	return dependenciesOf(c, ua.md)
}

func (r *URL) load(ctx context.Context, src *requirement.Source) (urlArtifact, error) {
	return r.artifacts.do(src.URL, func() (urlArtifact, error) {
		u, err := url.Parse(src.URL)
		if err != nil {
			return urlArtifact{}, errors.Wrap(errors.ErrCodeParse, err, "invalid URL %q", src.URL)
		}
		filename := path.Base(u.Path)
		data, err := r.fetch(ctx, u)
		if err != nil {
			return urlArtifact{}, Unavailable(src.URL, err)
		}
		hash := dist.SHA256(data)
		if src.Hash != "" && src.Hash != hash {
			return urlArtifact{}, Unavailable(src.URL, fmt.Errorf("hash mismatch: want %s, got %s", src.Hash, hash))
		}

		a := Artifact{Filename: filename, URL: src.URL, Hash: hash, Kind: dist.KindSdist}
		if fn, err := dist.ParseFilename(filename); err == nil {
			a.Kind, a.file = fn.Kind, fn
		}
		md, err := r.metadata(ctx, a, data)
		if err != nil {
			return urlArtifact{}, err
		}
		return urlArtifact{artifact: a, md: md}, nil
	})
}

func (r *URL) metadata(ctx context.Context, a Artifact, data []byte) (*dist.Metadata, error) {
	if a.Kind == dist.KindWheel {
		raw, err := dist.WheelMetadata(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, err
		}
		return dist.ParseMetadata(raw)
	}
	raw, err := dist.SdistMetadata(a.Filename, data)
	if err == nil {
		md, err := dist.ParseMetadata(raw)
		if err == nil && md.StaticDependencies(dist.KindSdist) {
			return md, nil
		}
	}
	return buildFromArchive(ctx, r.opts.Builder, a, data, fmt.Errorf("%s has no static metadata", a.Filename))
}

func (r *URL) fetch(ctx context.Context, u *url.URL) ([]byte, error) {
	if u.Scheme == "file" {
		return os.ReadFile(filepath.FromSlash(u.Path))
	}
	if r.client == nil {
		return nil, errors.New(errors.ErrCodeUnsupported, "no HTTP client for %s", u)
	}
	var data []byte
	err := r.client.Retry(ctx, func() error {
		var err error
		data, err = r.client.GetBytes(ctx, u.String(), nil)
		return err
	})
	return data, err
}

var _ Repository = (*URL)(nil)
