package pipeline

import (
	"github.com/matzehuels/stacklock/pkg/lockfile"
	"github.com/matzehuels/stacklock/pkg/markers"
	"github.com/matzehuels/stacklock/pkg/project"
	"github.com/matzehuels/stacklock/pkg/resolver"
)

// plan is everything derived from the project before resolving.
type plan struct {
	project  *project.Project
	settings project.Settings
	groups   []project.Group
	targets  []markers.Target
	roots    []resolver.Root
	inputs   lockfile.Inputs
}

func newPlan(p *project.Project, groups []string, o Options) (*plan, error) {
	settings, err := o.settings(p)
	if err != nil {
		return nil, err
	}
	selected, err := p.SelectGroups(groups)
	if err != nil {
		return nil, err
	}
	withSettings := *p
	withSettings.Settings = settings
	targets, err := withSettings.Targets()
	if err != nil {
		return nil, err
	}

	pl := &plan{project: p, settings: settings, groups: selected, targets: targets}
	for _, g := range selected {
		for _, req := range g.Requirements {
			pl.roots = append(pl.roots, resolver.Root{Requirement: req, Group: g.Name})
		}
	}
	pl.inputs = inputsFor(selected, targets, settings)
	return pl, nil
}

// inputsFor maps the project's view of a run onto fingerprint inputs.
func inputsFor(groups []project.Group, targets []markers.Target, s project.Settings) lockfile.Inputs {
	in := lockfile.Inputs{
		Targets:          targets,
		Strategy:         s.Strategy,
		AllowPrereleases: s.AllowPrereleases,
		Prereleases:      s.Prereleases,
		Split:            s.Split,
		SourceOrder:      s.SourceOrder,
		Priority:         s.Priority,
		SourceFor:        s.SourceFor,
		ExcludeNewer:     s.ExcludeNewer,
		NoBinary:         s.NoBinary,
		OnlyBinary:       s.OnlyBinary,
	}
	for _, g := range groups {
		in.Groups = append(in.Groups, lockfile.Group{Name: g.Name, Requirements: g.Requirements})
	}
	for _, src := range s.Sources {
		in.Sources = append(in.Sources, src.Name+" "+src.URL)
	}
	return in
}

// resolverOptions builds the resolver configuration. previous may be nil.
func (pl *plan) resolverOptions(o Options, previous *lockfile.Lock) resolver.Options {
	strategy, _ := resolver.ParseStrategy(pl.settings.Strategy)
	update, _ := resolver.ParseUpdateStrategy(pl.settings.UpdateStrategy)
	ro := resolver.Options{
		AllowPrereleases: pl.settings.AllowPrereleases,
		Prereleases:      pl.settings.Prereleases,
		Strategy:         strategy,
		UpdateStrategy:   update,
		Tracked:          normalizeNames(o.Update),
		Targets:          pl.targets,
		Split:            pl.settings.Split,
	}
	if previous != nil {
		ro.Preferred = previous.Pins()
	}
	return ro
}
