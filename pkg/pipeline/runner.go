package pipeline

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/stacklock/pkg/cache"
	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/export"
	"github.com/matzehuels/stacklock/pkg/history"
	"github.com/matzehuels/stacklock/pkg/lockfile"
	"github.com/matzehuels/stacklock/pkg/markers"
	"github.com/matzehuels/stacklock/pkg/observability"
	"github.com/matzehuels/stacklock/pkg/project"
	"github.com/matzehuels/stacklock/pkg/repository"
	"github.com/matzehuels/stacklock/pkg/requirement"
	"github.com/matzehuels/stacklock/pkg/resolver"
)

// RepositoryFunc builds the repository for one run.
type RepositoryFunc func(p *project.Project, s project.Settings, targets []markers.Target, refresh bool) (repository.Repository, error)

// Runner executes lock, check and export runs.
//
// The Runner keeps no state between runs besides its collaborators, so one
// Runner can serve concurrent runs on different projects.
type Runner struct {
	Cache cache.Cache
	// CacheDir holds VCS checkouts.
	CacheDir string
	History  history.Store
	Logger   *log.Logger
	Hooks    observability.PipelineHooks

	// Repository replaces the source wiring derived from the project's
	// settings when set.
	Repository RepositoryFunc
	// Now stamps generated locks. When nil the lock carries no timestamp
	// and locking the same inputs yields the same bytes.
	Now func() time.Time
}

// NewRunner creates a runner. A nil cache disables caching, a nil store
// discards run history and a nil logger discards log output.
func NewRunner(c cache.Cache, store history.Store, logger *log.Logger) *Runner {
	if c == nil {
		c = cache.NewNullCache()
	}
	if store == nil {
		store = history.Nop{}
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Runner{
		Cache:   c,
		History: store,
		Logger:  logger,
		Hooks:   observability.Pipeline(),
	}
}

// Lock resolves the project and writes its lock file. The pins of an
// existing lock are preferred according to the update strategy. Nothing is
// written when the run fails or is cancelled.
func (r *Runner) Lock(ctx context.Context, p *project.Project, o Options) (*LockResult, error) {
	rec := history.Start("lock", p.Name)
	res, err := r.lock(ctx, p, o, rec.ID)

	fingerprint, packages := "", 0
	if res != nil {
		fingerprint, packages = res.Lock.Metadata.Fingerprint, len(res.Lock.Packages)
		res.Duration = time.Since(rec.StartedAt)
	}
	rec.Finish(fingerprint, packages, err)
	r.record(ctx, rec)
	return res, err
}

func (r *Runner) lock(ctx context.Context, p *project.Project, o Options, runID string) (*LockResult, error) {
	pl, err := newPlan(p, o.Groups, o)
	if err != nil {
		return nil, err
	}
	path := p.LockPath()
	previous := r.previous(path)

	repoFn := r.Repository
	if repoFn == nil {
		repoFn = r.newRepository
	}
	repo, err := repoFn(p, pl.settings, pl.targets, o.Refresh)
	if err != nil {
		return nil, err
	}

	logger := r.Logger.With("run", runID)
	logger.Info("resolving", "project", p.Name, "roots", len(pl.roots), "targets", len(pl.targets))
	r.Hooks.OnLockStart(ctx, p.Name, len(pl.targets))
	start := time.Now()

	ropts := pl.resolverOptions(o, previous)
	ropts.Logger = logger
	if o.Progress != nil {
		ropts.Hooks = o.Progress
	}
	res, err := resolver.Resolve(ctx, pl.roots, repo, ropts)
	if err != nil {
		r.Hooks.OnLockComplete(ctx, p.Name, 0, time.Since(start), err)
		return nil, err
	}
	lock, err := lockfile.Build(res, pl.inputs, r.now())
	r.Hooks.OnLockComplete(ctx, p.Name, len(res.Packages), time.Since(start), err)
	if err != nil {
		return nil, err
	}

	out := &LockResult{RunID: runID, Lock: lock, Path: path, Rounds: res.Rounds, Changes: lockfile.Diff(previous, lock)}
	if o.DryRun {
		return out, nil
	}
	if previous != nil && sameContent(previous, lock) {
		logger.Info("lock file is up to date", "path", path)
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCancelled, err, "lock cancelled")
	}
	if err := lock.WriteFile(path); err != nil {
		return nil, err
	}
	out.Written = true
	logger.Info("wrote lock file", "path", path, "packages", len(lock.Packages), "changes", len(out.Changes))
	return out, nil
}

// previous reads the existing lock. A missing or unreadable lock means
// there are no pins to prefer.
func (r *Runner) previous(path string) *lockfile.Lock {
	l, err := lockfile.ReadFile(path)
	if err != nil {
		if !errors.Is(err, errors.ErrCodeNotFound) {
			r.Logger.Warn("ignoring existing lock file", "path", path, "err", errors.UserMessage(err))
		}
		return nil
	}
	return l
}

// sameContent reports whether two locks differ only in their generation
// time.
func sameContent(a, b *lockfile.Lock) bool {
	ac, bc := *a, *b
	ac.Metadata.Generated, bc.Metadata.Generated = nil, nil
	ad, err := ac.Marshal()
	if err != nil {
		return false
	}
	bd, err := bc.Marshal()
	if err != nil {
		return false
	}
	return bytes.Equal(ad, bd)
}

// Check compares the existing lock with the project. A stale lock returns
// the result together with a STALE_LOCK error; a lock that cannot serve
// the requested environments fails with INCOMPATIBLE_ENVIRONMENT.
func (r *Runner) Check(ctx context.Context, p *project.Project, o CheckOptions) (*CheckResult, error) {
	rec := history.Start("check", p.Name)
	res, l, err := r.check(ctx, p, o, rec.ID)

	fingerprint, packages := "", 0
	if l != nil {
		fingerprint, packages = l.Metadata.Fingerprint, len(l.Packages)
	}
	rec.Finish(fingerprint, packages, err)
	r.record(ctx, rec)
	return res, err
}

func (r *Runner) check(ctx context.Context, p *project.Project, o CheckOptions, runID string) (*CheckResult, *lockfile.Lock, error) {
	pl, err := newPlan(p, o.Groups, Options{})
	if err != nil {
		return nil, nil, err
	}
	path := p.LockPath()
	l, err := lockfile.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	res := &CheckResult{RunID: runID, Path: path, Status: lockfile.Validate(l, pl.inputs)}
	r.Hooks.OnCheckComplete(ctx, p.Name, res.Status.Fresh, res.Status.Reason)
	if !res.Status.Fresh {
		r.Logger.Debug("lock is stale", "changes", res.Status.Changes)
		return res, l, res.Status.Err()
	}

	if len(o.Environments) > 0 {
		envs, err := parseTargets(o.Environments)
		if err != nil {
			return nil, l, err
		}
		if res.Covered, err = l.CheckTargets(envs, o.AllowPartial); err != nil {
			return res, l, err
		}
	}
	return res, l, nil
}

// Export renders the project's lock. The lock must be fresh unless
// AllowStale is set.
func (r *Runner) Export(ctx context.Context, p *project.Project, o ExportOptions) ([]byte, error) {
	pl, err := newPlan(p, nil, Options{})
	if err != nil {
		return nil, err
	}
	l, err := lockfile.ReadFile(p.LockPath())
	if err != nil {
		return nil, err
	}
	if st := lockfile.Validate(l, pl.inputs); !st.Fresh {
		if !o.AllowStale {
			return nil, st.Err()
		}
		r.Logger.Warn("exporting a stale lock", "reason", st.Reason)
	}

	switch o.Format {
	case export.FormatDOT:
		return []byte(export.DOT(l)), nil
	case export.FormatSVG:
		return export.SVG(ctx, export.DOT(l))
	}
	targets, err := parseTargets(o.Targets)
	if err != nil {
		return nil, err
	}
	eo := export.Options{
		WithHashes:  o.WithHashes,
		WithMarkers: o.WithMarkers,
		WithExtras:  o.WithExtras,
		Groups:      o.Groups,
		Targets:     targets,
		Self:        o.Self,
		Indexes:     indexes(pl.settings),
		ExpandVars:  o.ExpandVars,
	}
	if o.Format == export.FormatPylock {
		return export.Pylock(l, eo)
	}
	out, err := export.Requirements(l, eo)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

func (r *Runner) record(ctx context.Context, rec *history.Record) {
	// A cancelled run is still recorded.
	if err := r.History.Record(context.WithoutCancel(ctx), rec); err != nil {
		r.Logger.Warn("could not record run", "err", err)
	}
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Time{}
	}
	return r.Now()
}

// Close releases the cache and the history store.
func (r *Runner) Close() error {
	var errs []error
	if r.Cache != nil {
		errs = append(errs, r.Cache.Close())
	}
	if r.History != nil {
		errs = append(errs, r.History.Close())
	}
	return stderrors.Join(errs...)
}

func normalizeNames(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = requirement.NormalizeName(n)
	}
	return out
}
