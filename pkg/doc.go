// Package pkg provides the libraries behind stacklock, a dependency resolver
// and lock engine for Python projects.
//
// # Overview
//
// Stacklock reads the requirements declared in pyproject.toml, resolves them
// against package indexes, find-links directories, local paths, VCS
// repositories and direct URLs, and writes a lock file that reproduces the
// same set of packages on every target environment it was generated for.
//
// # Architecture
//
// The data flow through stacklock:
//
//	pyproject.toml
//	     ↓
//	[project] (groups, settings, targets)
//	     ↓
//	[resolver] ←→ [repository] ←→ [integrations/pypi], local, VCS, URL
//	     ↓
//	[lockfile] (build, fingerprint, validate, write)
//	     ↓
//	stacklock.lock → [export] (requirements.txt, DOT, SVG)
//
// [pipeline] runs this flow for the CLI and records each run in [history].
//
// # Quick Start
//
//	proj, err := project.Load(".")
//	if err != nil {
//	    return err
//	}
//	runner := pipeline.NewRunner(cache.NewNullCache(), nil, logger)
//	res, err := runner.Lock(ctx, proj, pipeline.Options{})
//	if err != nil {
//	    return err // errors.ExitCode(err) is 3 for a conflict
//	}
//	fmt.Println(len(res.Lock.Packages), "packages locked")
//
// # Main Packages
//
// ## Algebra
//
// [pep440] - Versions and specifier sets with intersection and membership.
//
// [markers] - PEP 508 environment markers and target environments. Markers
// evaluate against concrete or partial environments.
//
// [requirement] - PEP 508 requirements and explicit sources (path, VCS, URL).
//
// ## Resolution
//
// [dist] - Wheel and sdist filenames, core metadata and wheel tags.
//
// [repository] - Candidate sources behind one interface, chained with an
// explicit source order, memoized per run and prefetched by a worker pool.
//
// [resolver] - Backtracking resolver with preferred pins, strategies, split
// resolution per environment and minimal conflict reports.
//
// [lockfile] - Lock model, fingerprint, staleness checks and the TOML
// format.
//
// ## Supporting Layers
//
// [project] - pyproject.toml loading and [tool.stacklock] settings.
//
// [export] - requirements.txt, Graphviz DOT and SVG output.
//
// [indexserver] - Serves a directory of distributions as a simple index.
//
// [history] - Run history in a local JSON lines file or MongoDB.
//
// [cache] - Byte cache backends (file, Redis, memory, null).
//
// [integrations] - HTTP client with caching and retries; [integrations/pypi]
// speaks the simple repository API.
//
// [observability] - Hooks for pipeline, resolver, cache and HTTP events.
//
// [errors] - Error codes and exit statuses.
//
// # Testing
//
//	go test ./pkg/...                    # All tests
//	go test ./pkg/resolver/...           # Specific package
//	STACKLOCK_TEST_REDIS_URL=redis://localhost:6379/0 go test ./pkg/cache
//	STACKLOCK_TEST_MONGO_URI=mongodb://localhost:27017 go test ./pkg/history
package pkg
