package resolver

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/markers"
	"github.com/matzehuels/stacklock/pkg/pep440"
	"github.com/matzehuels/stacklock/pkg/repository"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

// fakeRepo is an in-memory index. Dependencies are keyed by "name==version".
type fakeRepo struct {
	versions       map[string][]string
	deps           map[string][]string
	requiresPython map[string]string
	// sourced maps an explicit source to the version found there.
	sourced map[string]string

	mu    sync.Mutex
	finds []string
}

func (f *fakeRepo) FindCandidates(_ context.Context, req *requirement.Requirement) (repository.Sequence, error) {
	f.mu.Lock()
	f.finds = append(f.finds, repository.RequirementKey(req))
	f.mu.Unlock()

	if req.Source != nil {
		v, ok := f.sourced[req.Source.String()]
		if !ok {
			return nil, errors.New(errors.ErrCodeSourceUnavailable, "cannot reach %s", req.Source)
		}
		src := *req.Source
		return repository.Slice([]*repository.Candidate{{Name: req.Name, Version: pep440.MustParse(v), Source: &src}}), nil
	}
	var out []*repository.Candidate
	for _, v := range f.versions[req.Name] {
		c := &repository.Candidate{Name: req.Name, Version: pep440.MustParse(v), Index: "test"}
		if rp := f.requiresPython[req.Name+"=="+v]; rp != "" {
			c.RequiresPython = pep440.MustParseSpecifiers(rp)
		}
		if req.Specifiers.Contains(c.Version) {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b *repository.Candidate) int { return b.Version.Compare(a.Version) })
	return repository.Slice(out), nil
}

func (f *fakeRepo) Dependencies(_ context.Context, c *repository.Candidate) ([]*requirement.Requirement, error) {
	var out []*requirement.Requirement
	for _, s := range f.deps[c.Name+"=="+c.Version.String()] {
		out = append(out, requirement.MustParse(s))
	}
	return out, nil
}

func (f *fakeRepo) looked(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Contains(f.finds, key)
}

func rootsOf(reqs ...string) []Root {
	out := make([]Root, len(reqs))
	for i, r := range reqs {
		out[i] = Root{Requirement: requirement.MustParse(r), Group: "default"}
	}
	return out
}

// pins flattens a result to name -> version.
func pins(res *Result) map[string]string {
	out := make(map[string]string, len(res.Packages))
	for _, p := range res.Packages {
		out[p.Name()] = p.Candidate.Version.String()
	}
	return out
}

func target(t *testing.T, s string) markers.Target {
	t.Helper()
	tg, err := markers.ParseTarget(s)
	require.NoError(t, err)
	return tg
}

type recordingHooks struct {
	mu         sync.Mutex
	pins       int
	backtracks []string
	completed  int
	err        error
}

func (h *recordingHooks) OnPin(context.Context, string, string, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pins++
}

func (h *recordingHooks) OnBacktrack(_ context.Context, name string, _ int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.backtracks = append(h.backtracks, name)
}

func (h *recordingHooks) OnResolveComplete(_ context.Context, _, _ int, _ time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.completed++
	h.err = err
}

func TestResolveOnlySatisfyingPair(t *testing.T) {
	repo := &fakeRepo{
		versions: map[string][]string{"a": {"1.0", "2.5", "2.9"}, "b": {"1.0"}},
		deps:     map[string][]string{"b==1.0": {"a==2.5"}},
	}
	tests := []struct {
		name  string
		roots []string
		opts  Options
	}{
		{"a first", []string{"a>=1,<3", "b==1.0"}, Options{}},
		{"b first", []string{"b==1.0", "a>=1,<3"}, Options{}},
		{"lowest", []string{"a>=1,<3", "b==1.0"}, Options{Strategy: StrategyLowest}},
		{"serial fetching", []string{"a>=1,<3", "b==1.0"}, Options{Concurrency: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Resolve(context.Background(), rootsOf(tt.roots...), repo, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"a": "2.5", "b": "1.0"}, pins(res))
		})
	}
}

func TestResolveBacktracks(t *testing.T) {
	repo := &fakeRepo{
		versions: map[string][]string{"a": {"1.0", "2.0"}, "b": {"1.0", "2.0", "3.0"}, "c": {"1.0", "2.0"}},
		deps: map[string][]string{
			"a==2.0": {"c==2.0"},
			"a==1.0": {"c==1.0"},
			"b==1.0": {"c==1.0"},
			"b==2.0": {"c==1.0"},
			"b==3.0": {"c==1.0"},
		},
	}
	hooks := &recordingHooks{}
	res, err := Resolve(context.Background(), rootsOf("a", "b"), repo, Options{Hooks: hooks})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1.0", "b": "3.0", "c": "1.0"}, pins(res))
	assert.NotEmpty(t, hooks.backtracks)
	assert.Equal(t, 1, hooks.completed)
	assert.NoError(t, hooks.err)
	assert.GreaterOrEqual(t, hooks.pins, 3)
}

func TestResolveBackjumpsOverUnrelatedPins(t *testing.T) {
	// z is pinned between a and the conflict on x but never involved in it.
	repo := &fakeRepo{
		versions: map[string][]string{
			"a": {"1.0", "2.0"},
			"c": {"1.0", "2.0", "3.0", "4.0"},
			"x": {"1.0", "2.0"},
			"z": {"1.0", "2.0", "3.0"},
		},
		deps: map[string][]string{
			"a==2.0": {"x==2.0"},
			"a==1.0": {"x==1.0"},
			"c==1.0": {"x==1.0"},
			"c==2.0": {"x==1.0"},
			"c==3.0": {"x==1.0"},
			"c==4.0": {"x==1.0"},
		},
	}
	hooks := &recordingHooks{}
	res, err := Resolve(context.Background(), rootsOf("a", "z", "c"), repo, Options{Hooks: hooks, Concurrency: 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1.0", "c": "4.0", "x": "1.0", "z": "3.0"}, pins(res))
	assert.Contains(t, hooks.backtracks, "a")
	assert.NotContains(t, hooks.backtracks, "z")
}

func TestResolveRejectsDuplicateRoots(t *testing.T) {
	repo := &fakeRepo{versions: map[string][]string{"a": {"1.0"}}}
	roots := rootsOf(`a==1.0; sys_platform == "win32"`, "a @ git+https://example.com/a.git@main")

	_, err := Resolve(context.Background(), roots, repo, Options{})
	require.Error(t, err)
	var dup *requirement.DuplicateRootError
	require.True(t, stderrors.As(err, &dup))
	assert.Equal(t, "a", dup.Name)
	assert.True(t, errors.Is(err, errors.ErrCodeResolutionConflict))
	assert.Empty(t, repo.finds, "nothing is looked up for ambiguous roots")
}

func TestResolveIsDeterministic(t *testing.T) {
	repo := &fakeRepo{
		versions: map[string][]string{
			"web": {"1.0", "2.0"}, "db": {"1.0", "1.5"}, "log": {"0.1", "0.2", "0.3"}, "util": {"1.0", "2.0"},
		},
		deps: map[string][]string{
			"web==2.0":  {"util>=2", "log"},
			"web==1.0":  {"util", "log<0.3"},
			"db==1.5":   {"util<2", `log; python_version >= "3.10"`},
			"db==1.0":   {"util"},
			"util==1.0": {"log>=0.2"},
		},
	}
	summary := func(res *Result) []string {
		var out []string
		for _, p := range res.Packages {
			out = append(out, fmt.Sprintf("%s %s [%s] %v %v", p.Name(), p.Candidate.Version, p.Marker, p.Dependencies, p.Groups))
		}
		return out
	}
	var first []string
	for i := range 5 {
		res, err := Resolve(context.Background(), rootsOf("web", "db"), repo, Options{Concurrency: i + 1})
		require.NoError(t, err)
		if i == 0 {
			first = summary(res)
			continue
		}
		assert.Equal(t, first, summary(res))
	}
	require.NotEmpty(t, first)
}

func TestResolveExtrasOnlyAdd(t *testing.T) {
	repo := &fakeRepo{
		versions: map[string][]string{"app": {"1.0"}, "lib": {"1.0", "2.0"}, "fastjson": {"1.0"}, "plugin": {"1.0"}},
		deps: map[string][]string{
			"app==1.0":    {"lib>=1", `fastjson; extra == "fast"`},
			"plugin==1.0": {"app[fast]"},
		},
	}
	ctx := context.Background()

	plain, err := Resolve(ctx, rootsOf("app"), repo, Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"app": "1.0", "lib": "2.0"}, pins(plain))

	withExtra, err := Resolve(ctx, rootsOf("app[fast]"), repo, Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"app": "1.0", "lib": "2.0", "fastjson": "1.0"}, pins(withExtra))
	assert.Equal(t, []string{"fast"}, withExtra.Lookup("app")[0].Extras)

	// The extra is requested by a dependency after app was pinned without it.
	late, err := Resolve(ctx, rootsOf("app", "plugin"), repo, Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"app": "1.0", "lib": "2.0", "fastjson": "1.0", "plugin": "1.0"}, pins(late))
	assert.Equal(t, []string{"fast"}, late.Lookup("app")[0].Extras)
	assert.Equal(t, []string{"fastjson", "lib"}, late.Lookup("app")[0].Dependencies)
}

func TestResolveDropsDeadMarkers(t *testing.T) {
	repo := &fakeRepo{
		versions: map[string][]string{"app": {"1.0"}, "legacy": {"0.5", "2.0"}},
		deps:     map[string][]string{"app==1.0": {`legacy<1; python_version < "3.0"`}},
	}
	roots := rootsOf("app", "legacy>=2", `winonly>=99; sys_platform == "win32"`)

	res, err := Resolve(context.Background(), roots, repo, Options{Targets: []markers.Target{target(t, "linux:>=3.9")}})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"app": "1.0", "legacy": "2.0"}, pins(res))
	assert.False(t, repo.looked("winonly>=99"), "dead roots are never looked up")
	assert.False(t, repo.looked("legacy<1"), "dead edges are never looked up")

	// Without the target restriction both requirements are live and clash.
	_, err = Resolve(context.Background(), rootsOf("app", "legacy>=2"), repo, Options{})
	assert.True(t, errors.Is(err, errors.ErrCodeResolutionConflict))
}

func TestResolveConflictReport(t *testing.T) {
	repo := &fakeRepo{
		versions: map[string][]string{"a": {"1.0", "2.0"}, "b": {"1.0"}, "c": {"1.0"}, "top": {"1.0"}},
		deps: map[string][]string{
			"b==1.0":   {"a<2"},
			"c==1.0":   {"a"},
			"top==1.0": {"b==1.0"},
		},
	}
	_, err := Resolve(context.Background(), rootsOf("a>=2", "top", "c"), repo, Options{})
	require.Error(t, err)

	var conflict *ConflictError
	require.True(t, stderrors.As(err, &conflict))
	assert.Equal(t, 3, errors.ExitCode(err))
	require.Len(t, conflict.Conflicts, 1)
	got := conflict.Conflicts[0]
	assert.Equal(t, "a", got.Package)

	var reqs []string
	for _, c := range got.Causes {
		reqs = append(reqs, c.Requirement.String())
	}
	assert.ElementsMatch(t, []string{"a>=2", "a<2"}, reqs, "the requirement from c is not part of the conflict")

	for _, c := range got.Causes {
		if c.Parent == nil {
			assert.Nil(t, c.Chain)
			continue
		}
		assert.Equal(t, "b 1.0", c.Parent.String())
		assert.Equal(t, []string{"top 1.0", "b 1.0"}, c.Chain)
	}
	assert.Contains(t, conflict.Explain(), "project -> top 1.0 -> b 1.0")
}

func TestResolveCancellation(t *testing.T) {
	repo := &fakeRepo{
		versions: map[string][]string{"a": {"1.0"}, "b": {"1.0"}},
		deps:     map[string][]string{"a==1.0": {"b"}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Resolve(ctx, rootsOf("a"), repo, Options{})
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, errors.ErrCodeCancelled))
	assert.Equal(t, 130, errors.ExitCode(err))

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	res, err = Resolve(ctx, rootsOf("a"), &cancellingRepo{fakeRepo: repo, cancel: cancel}, Options{})
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, errors.ErrCodeCancelled))
}

// cancellingRepo cancels the run as soon as any dependencies are read.
type cancellingRepo struct {
	*fakeRepo
	cancel context.CancelFunc
}

func (c *cancellingRepo) Dependencies(ctx context.Context, cand *repository.Candidate) ([]*requirement.Requirement, error) {
	c.cancel()
	return c.fakeRepo.Dependencies(ctx, cand)
}

func TestResolveStrategies(t *testing.T) {
	repo := &fakeRepo{
		versions: map[string][]string{"a": {"1.0", "2.0"}, "b": {"1.0", "2.0"}},
		deps:     map[string][]string{"a==1.0": {"b"}, "a==2.0": {"b"}},
	}
	tests := []struct {
		strategy Strategy
		want     map[string]string
	}{
		{StrategyHighest, map[string]string{"a": "2.0", "b": "2.0"}},
		{StrategyLowest, map[string]string{"a": "1.0", "b": "1.0"}},
		{StrategyLowestDirect, map[string]string{"a": "1.0", "b": "2.0"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			res, err := Resolve(context.Background(), rootsOf("a"), repo, Options{Strategy: tt.strategy})
			require.NoError(t, err)
			assert.Equal(t, tt.want, pins(res))
		})
	}
}

func TestResolvePreferredPins(t *testing.T) {
	repo := &fakeRepo{
		versions: map[string][]string{"a": {"1.0", "2.0"}, "b": {"1.0", "2.0"}, "c": {"1.0", "2.0"}},
		deps:     map[string][]string{"a==1.0": {"b"}, "a==2.0": {"b"}},
	}
	locked := map[string]pep440.Version{
		"a": pep440.MustParse("1.0"),
		"b": pep440.MustParse("1.0"),
		"c": pep440.MustParse("1.0"),
	}
	tests := []struct {
		name    string
		update  UpdateStrategy
		tracked []string
		want    map[string]string
	}{
		{"reuse everything", UpdateReuse, nil, map[string]string{"a": "1.0", "b": "1.0", "c": "1.0"}},
		{"reuse but a", UpdateReuse, []string{"a"}, map[string]string{"a": "2.0", "b": "1.0", "c": "1.0"}},
		{"all below a", UpdateAll, []string{"A"}, map[string]string{"a": "2.0", "b": "2.0", "c": "1.0"}},
		{"all", UpdateAll, nil, map[string]string{"a": "2.0", "b": "2.0", "c": "2.0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Resolve(context.Background(), rootsOf("a", "c"), repo, Options{
				Preferred:      locked,
				UpdateStrategy: tt.update,
				Tracked:        tt.tracked,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, pins(res))
		})
	}

	// A preferred pin that no longer satisfies the roots is ignored.
	res, err := Resolve(context.Background(), rootsOf("a>=2", "c"), repo, Options{Preferred: locked})
	require.NoError(t, err)
	assert.Equal(t, "2.0", pins(res)["a"])
}

func TestResolvePrereleases(t *testing.T) {
	repo := &fakeRepo{versions: map[string][]string{"a": {"1.0", "2.0rc1"}, "beta": {"1.0b1"}}}
	tests := []struct {
		name string
		root string
		opts Options
		want string
	}{
		{"excluded by default", "a", Options{}, "1.0"},
		{"allowed globally", "a", Options{AllowPrereleases: true}, "2.0rc1"},
		{"allowed per package", "a", Options{Prereleases: []string{"A"}}, "2.0rc1"},
		{"named by the specifier", "a>=2.0rc1", Options{}, "2.0rc1"},
		{"only pre-releases exist", "beta", Options{}, "1.0b1"},
		{"preferred pre-release", "a", Options{Preferred: map[string]pep440.Version{"a": pep440.MustParse("2.0rc1")}}, "2.0rc1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Resolve(context.Background(), rootsOf(tt.root), repo, tt.opts)
			require.NoError(t, err)
			pkgs := res.Packages
			require.Len(t, pkgs, 1)
			assert.Equal(t, tt.want, pkgs[0].Candidate.Version.String())
		})
	}
}

func TestResolveExplicitSource(t *testing.T) {
	repo := &fakeRepo{
		versions: map[string][]string{"lib": {"9.0"}, "app": {"1.0"}},
		deps:     map[string][]string{"app==1.0": {"lib>=0.1"}},
		sourced:  map[string]string{"./lib": "0.5"},
	}
	res, err := Resolve(context.Background(), rootsOf("lib @ ./lib", "app"), repo, Options{})
	require.NoError(t, err)
	lib := res.Lookup("lib")
	require.Len(t, lib, 1)
	assert.Equal(t, "0.5", lib[0].Candidate.Version.String())
	require.NotNil(t, lib[0].Candidate.Source)
	assert.Equal(t, "./lib", lib[0].Candidate.Source.URL)

	_, err = Resolve(context.Background(), rootsOf("gone @ ./gone"), repo, Options{})
	assert.True(t, errors.Is(err, errors.ErrCodeSourceUnavailable))
}

func TestResolveMarkersAndGroups(t *testing.T) {
	repo := &fakeRepo{
		versions: map[string][]string{"a": {"1.0"}, "b": {"1.0"}, "c": {"1.0"}},
		deps: map[string][]string{
			"a==1.0": {`b; python_version >= "3.10"`},
			"c==1.0": {"b"},
		},
	}
	ctx := context.Background()

	res, err := Resolve(ctx, rootsOf(`a; sys_platform == "linux"`), repo, Options{})
	require.NoError(t, err)
	b := res.Lookup("b")
	require.Len(t, b, 1)
	want := markers.And(markers.MustParse(`sys_platform == "linux"`), markers.MustParse(`python_version >= "3.10"`))
	assert.True(t, b[0].Marker.Equal(want), b[0].Marker.String())
	assert.False(t, b[0].Direct)
	assert.True(t, res.Lookup("a")[0].Direct)

	roots := []Root{
		{Requirement: requirement.MustParse(`a; sys_platform == "linux"`), Group: "default"},
		{Requirement: requirement.MustParse("c"), Group: "dev"},
	}
	res, err = Resolve(ctx, roots, repo, Options{})
	require.NoError(t, err)
	b = res.Lookup("b")
	require.Len(t, b, 1)
	assert.True(t, b[0].Marker.IsAny(), "an unconditional path wins")
	assert.Equal(t, []string{"default", "dev"}, b[0].Groups)
	assert.Equal(t, []string{"dev"}, res.Lookup("c")[0].Groups)
	assert.Equal(t, []string{"b"}, res.Lookup("c")[0].Dependencies)
}

func TestResolveCycle(t *testing.T) {
	repo := &fakeRepo{
		versions: map[string][]string{"a": {"1.0"}, "b": {"1.0"}},
		deps:     map[string][]string{"a==1.0": {"b"}, "b==1.0": {`a; os_name == "posix"`}},
	}
	res, err := Resolve(context.Background(), rootsOf(`a; python_version >= "3.8"`), repo, Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1.0", "b": "1.0"}, pins(res))
	for _, p := range res.Packages {
		assert.True(t, p.Marker.Equal(markers.MustParse(`python_version >= "3.8"`)), "%s: %s", p.Name(), p.Marker)
	}
}

func TestResolveSplit(t *testing.T) {
	repo := &fakeRepo{
		versions:       map[string][]string{"numpy": {"1.24", "2.0"}, "six": {"1.16"}},
		requiresPython: map[string]string{"numpy==1.24": ">=3.8", "numpy==2.0": ">=3.9"},
	}
	targets := []markers.Target{target(t, ":>=3.8,<3.9"), target(t, ":>=3.9")}
	ctx := context.Background()

	joint, err := Resolve(ctx, rootsOf("numpy", "six"), repo, Options{Targets: targets})
	require.NoError(t, err)
	assert.Len(t, joint.Lookup("numpy"), 1)

	split, err := Resolve(ctx, rootsOf("numpy", "six"), repo, Options{Targets: targets, Split: true})
	require.NoError(t, err)
	numpy := split.Lookup("numpy")
	require.Len(t, numpy, 2)
	versions := []string{numpy[0].Candidate.Version.String(), numpy[1].Candidate.Version.String()}
	assert.ElementsMatch(t, []string{"1.24", "2.0"}, versions)
	assert.True(t, markers.Disjoint(numpy[0].Marker, numpy[1].Marker, targets))

	six := split.Lookup("six")
	require.Len(t, six, 1)
	assert.True(t, six[0].Marker.IsAny(), "identical pins keep their own marker")
}

func TestMergeSplitRejectsOverlap(t *testing.T) {
	targets := []markers.Target{target(t, ":>=3.8"), target(t, ":>=3.9")}
	pkg := func(v string) *Package {
		return &Package{Candidate: &repository.Candidate{Name: "a", Version: pep440.MustParse(v), Index: "test"}}
	}
	_, err := mergeSplit(targets, []*Result{
		{Packages: []*Package{pkg("1.0")}},
		{Packages: []*Package{pkg("2.0")}},
	})
	assert.True(t, errors.Is(err, errors.ErrCodeResolutionConflict))
}

func TestParseStrategies(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyHighest, s)
	s, err = ParseStrategy("lowest-direct")
	require.NoError(t, err)
	assert.Equal(t, StrategyLowestDirect, s)
	_, err = ParseStrategy("newest")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	u, err := ParseUpdateStrategy("")
	require.NoError(t, err)
	assert.Equal(t, UpdateReuse, u)
	_, err = ParseUpdateStrategy("eager")
	assert.Error(t, err)
}
