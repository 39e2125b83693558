// Package pipeline runs the lock workflow shared by every stacklock entry
// point: load settings, build root requirements and targets, resolve,
// build the lock and write it.
//
// # Architecture
//
// A run goes through three stages:
//
//  1. Inputs: project groups, targets and [tool.stacklock] settings are
//     turned into resolver roots, resolver options and lockfile inputs
//  2. Resolve: the resolver drives a repository built from the configured
//     sources, preferring the pins of the existing lock
//  3. Lock: the resolution becomes a lock manifest that is written
//     atomically unless it is unchanged
//
// [Runner.Check] compares an existing lock with the current inputs and
// [Runner.Export] renders a fresh lock in another format.
//
// # Usage
//
//	runner := pipeline.NewRunner(cache, history, logger)
//	res, err := runner.Lock(ctx, proj, pipeline.Options{})
//	if err != nil {
//	    return err
//	}
//	fmt.Println(len(res.Lock.Packages), "packages locked")
package pipeline

import (
	"slices"
	"time"

	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/export"
	"github.com/matzehuels/stacklock/pkg/lockfile"
	"github.com/matzehuels/stacklock/pkg/markers"
	"github.com/matzehuels/stacklock/pkg/observability"
	"github.com/matzehuels/stacklock/pkg/project"
	"github.com/matzehuels/stacklock/pkg/resolver"
)

const (
	// DefaultIndexName and DefaultIndexURL are used when a project declares
	// no index source.
	DefaultIndexName = "pypi"
	DefaultIndexURL  = "https://pypi.org/simple"

	// DefaultCacheTTL is how long index pages stay cached.
	DefaultCacheTTL = 10 * time.Minute
)

// Options configure a lock run. Zero values fall back to the project's
// [tool.stacklock] settings.
type Options struct {
	// Groups to lock; empty means every group.
	Groups []string
	// Targets override the configured targets.
	Targets []string

	Strategy         string
	AllowPrereleases bool
	Split            bool

	// UpdateStrategy and Update control which pins of the existing lock
	// are kept. Update names the packages to release.
	UpdateStrategy string
	Update         []string

	// Refresh bypasses cached index pages.
	Refresh bool
	// DryRun resolves without writing the lock.
	DryRun bool

	// Progress receives resolver events for this run instead of the
	// registered resolver hooks.
	Progress observability.ResolverHooks
}

// LockResult describes a finished lock run.
type LockResult struct {
	RunID string
	Lock  *lockfile.Lock
	Path  string
	// Changes against the previous lock. Without one every package is
	// an addition.
	Changes []lockfile.Change
	// Written is false for dry runs and when the lock did not change.
	Written  bool
	Rounds   int
	Duration time.Duration
}

// CheckOptions configure [Runner.Check].
type CheckOptions struct {
	Groups []string
	// Environments are the targets the lock is about to be applied to.
	// Empty skips the environment check.
	Environments []string
	// AllowPartial accepts a lock that covers only some environments.
	AllowPartial bool
}

// CheckResult describes a lock checked against the project.
type CheckResult struct {
	RunID  string
	Path   string
	Status lockfile.Status
	// Covered are the requested environments the lock can serve.
	Covered []markers.Target
}

// ExportOptions configure [Runner.Export].
type ExportOptions struct {
	Format      export.Format
	Groups      []string
	Targets     []string
	WithHashes  bool
	WithMarkers bool
	WithExtras  bool
	Self        string
	// ExpandVars expands environment variables in index and source URLs.
	ExpandVars bool
	// AllowStale exports a lock that no longer matches the project.
	AllowStale bool
}

// settings merges o into the project's settings.
func (o Options) settings(p *project.Project) (project.Settings, error) {
	s := p.Settings
	if o.Strategy != "" {
		s.Strategy = o.Strategy
	}
	if o.UpdateStrategy != "" {
		s.UpdateStrategy = o.UpdateStrategy
	}
	if o.AllowPrereleases {
		s.AllowPrereleases = true
	}
	if o.Split {
		s.Split = true
	}
	if len(o.Targets) > 0 {
		s.Targets = slices.Clone(o.Targets)
	}
	if _, err := resolver.ParseStrategy(s.Strategy); err != nil {
		return s, err
	}
	if _, err := resolver.ParseUpdateStrategy(s.UpdateStrategy); err != nil {
		return s, err
	}
	return s, nil
}

// parseTargets parses --target style strings.
func parseTargets(specs []string) ([]markers.Target, error) {
	out := make([]markers.Target, 0, len(specs))
	for _, s := range specs {
		t, err := markers.ParseTarget(s)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "target %q", s)
		}
		out = append(out, t)
	}
	return out, nil
}
