package pipeline

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/matzehuels/stacklock/pkg/export"
	"github.com/matzehuels/stacklock/pkg/integrations"
	"github.com/matzehuels/stacklock/pkg/integrations/pypi"
	"github.com/matzehuels/stacklock/pkg/markers"
	"github.com/matzehuels/stacklock/pkg/project"
	"github.com/matzehuels/stacklock/pkg/repository"
)

// indexSources returns the configured index sources, or the default index
// when the project declares none.
func indexSources(s project.Settings) []project.Source {
	var out []project.Source
	hasIndex := false
	for _, src := range s.Sources {
		if src.Type == project.SourceIndex {
			hasIndex = true
		}
		out = append(out, src)
	}
	if !hasIndex {
		out = append([]project.Source{{Name: DefaultIndexName, URL: DefaultIndexURL, Type: project.SourceIndex}}, out...)
	}
	return out
}

// newRepository wires the configured sources into a router: a chain of
// indexes and find-links directories for plain requirements, plus the
// local, VCS and URL sources for explicit ones.
func (r *Runner) newRepository(p *project.Project, s project.Settings, targets []markers.Target, refresh bool) (repository.Repository, error) {
	order, err := repository.ParseSourceOrder(s.SourceOrder)
	if err != nil {
		return nil, err
	}
	opts := repository.Options{
		Targets: targets,
		Filters: repository.Filters{
			ExcludeNewer: s.ExcludeNewer,
			NoBinary:     s.NoBinary,
			OnlyBinary:   s.OnlyBinary,
		},
		Refresh: refresh,
		Logger:  r.Logger,
	}

	var sources []repository.Source
	for _, src := range indexSources(s) {
		switch src.Type {
		case project.SourceFindLinks:
			loc := os.ExpandEnv(src.URL)
			if !filepath.IsAbs(loc) && !hasScheme(loc) {
				loc = filepath.Join(p.Root, loc)
			}
			fl, err := repository.NewFindLinks(src.Name, loc, opts)
			if err != nil {
				return nil, err
			}
			sources = append(sources, fl)
		default:
			// Credentials may come from the environment as ${VAR}.
			client := pypi.NewClient(r.Cache, DefaultCacheTTL, os.ExpandEnv(src.URL))
			sources = append(sources, repository.NewIndex(src.Name, client, opts))
		}
	}

	chain, err := repository.NewChain(sources, repository.ChainOptions{
		Order:     order,
		Priority:  s.Priority,
		SourceFor: s.SourceFor,
		Logger:    r.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &repository.Router{
		Chain: chain,
		Local: repository.NewLocal(p.Root, opts),
		VCS:   repository.NewVCS(r.CacheDir, opts),
		URL:   repository.NewURL(integrations.NewClient(r.Cache, "url", DefaultCacheTTL, nil), opts),
	}, nil
}

func hasScheme(s string) bool { return strings.Contains(s, "://") }

// indexes lists the index sources for requirements export.
func indexes(s project.Settings) []export.Index {
	var out []export.Index
	for _, src := range indexSources(s) {
		if src.Type == project.SourceIndex {
			out = append(out, export.Index{Name: src.Name, URL: src.URL})
		}
	}
	return out
}
