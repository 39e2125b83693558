package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/matzehuels/stacklock/pkg/dist"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

// fetcher is how index-like sources hand out artifact bytes.
type fetcher interface {
	// metadataFile returns the PEP 658 metadata file of a, if served.
	metadataFile(ctx context.Context, name string, a Artifact) ([]byte, error)
	download(ctx context.Context, a Artifact) ([]byte, error)
}

// artifactMetadata reads the core metadata of a candidate formed from
// artifacts, as cheaply as possible: a served metadata file, then a wheel,
// then a source distribution with static metadata, then the builder.
func artifactMetadata(ctx context.Context, f fetcher, builder MetadataBuilder, c *Candidate) (*dist.Metadata, error) {
	for _, a := range c.Artifacts {
		if a.Kind == dist.KindWheel && a.Metadata {
			data, err := f.metadataFile(ctx, c.Name, a)
			if err == nil {
				return dist.ParseMetadata(data)
			}
		}
	}
	for _, a := range c.Artifacts {
		if a.Kind != dist.KindWheel {
			continue
		}
		data, err := f.download(ctx, a)
		if err != nil {
			return nil, Unavailable(a.URL, err)
		}
		raw, err := dist.ArtifactMetadata(a.file, data)
		if err != nil {
			return nil, err
		}
		return dist.ParseMetadata(raw)
	}
	for _, a := range c.Artifacts {
		if a.Kind != dist.KindSdist {
			continue
		}
		data, err := f.download(ctx, a)
		if err != nil {
			return nil, Unavailable(a.URL, err)
		}
		raw, err := dist.ArtifactMetadata(a.file, data)
		if err == nil {
			md, err := dist.ParseMetadata(raw)
			if err == nil && md.StaticDependencies(dist.KindSdist) {
				return md, nil
			}
		}
		return buildFromArchive(ctx, builder, a, data, fmt.Errorf("%s has no static metadata", a.Filename))
	}
	return nil, Unavailable(c.Key(), fmt.Errorf("no artifacts"))
}

func buildFromArchive(ctx context.Context, b MetadataBuilder, a Artifact, data []byte, cause error) (*dist.Metadata, error) {
	if b == nil {
		return nil, Unavailable(a.Filename, cause)
	}
	dir, err := os.MkdirTemp("", "stacklock-build-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, a.Filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, err
	}
	return buildMetadata(ctx, b, path, cause)
}

// dependenciesOf checks that md describes c and returns its requirements.
func dependenciesOf(c *Candidate, md *dist.Metadata) ([]*requirement.Requirement, error) {
	if md.Name != c.Name || !md.Version.Equal(c.Version) {
		return nil, Unavailable(c.Key(), fmt.Errorf("metadata describes %s %s", md.Name, md.Version))
	}
	return md.RequiresDist, nil
}
