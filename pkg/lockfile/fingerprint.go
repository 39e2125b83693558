package lockfile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/markers"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

// Group is a named set of root requirements.
type Group struct {
	Name         string
	Requirements []*requirement.Requirement
}

// Inputs are everything a resolution depends on besides the indexes'
// contents. Two runs with equal inputs produce the same fingerprint.
type Inputs struct {
	Groups           []Group
	Targets          []markers.Target
	Strategy         string
	AllowPrereleases bool
	Prereleases      []string
	Split            bool
	// Sources lists the configured sources as "name url".
	Sources      []string
	SourceOrder  string
	Priority     []string
	SourceFor    map[string]string
	ExcludeNewer time.Time
	NoBinary     []string
	OnlyBinary   []string
}

func (in Inputs) normalize() Inputs {
	in.Groups = slices.Clone(in.Groups)
	slices.SortFunc(in.Groups, func(a, b Group) int { return strings.Compare(a.Name, b.Name) })
	return in
}

func (in Inputs) strategy() string {
	if in.Strategy == "" {
		return "highest"
	}
	return in.Strategy
}

func (in Inputs) groupNames() []string {
	out := make([]string, len(in.Groups))
	for i, g := range in.Groups {
		out[i] = g.Name
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (in Inputs) manifest() Manifest {
	m := Manifest{Groups: make(map[string][]string, len(in.Groups)), Config: in.config()}
	for _, g := range in.Groups {
		m.Groups[g.Name] = append(m.Groups[g.Name], requirementStrings(g.Requirements)...)
	}
	for name, reqs := range m.Groups {
		slices.Sort(reqs)
		m.Groups[name] = slices.Compact(reqs)
	}
	return m
}

func requirementStrings(reqs []*requirement.Requirement) []string {
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.String()
	}
	return out
}

// config renders the solver settings in a fixed order.
func (in Inputs) config() []string {
	sorted := func(s []string) string {
		c := slices.Clone(s)
		slices.Sort(c)
		return strings.Join(slices.Compact(c), ",")
	}
	excludeNewer := ""
	if !in.ExcludeNewer.IsZero() {
		excludeNewer = in.ExcludeNewer.UTC().Format(time.RFC3339)
	}
	var sourceFor []string
	for _, name := range slices.Sorted(maps.Keys(in.SourceFor)) {
		sourceFor = append(sourceFor, name+":"+in.SourceFor[name])
	}
	sourceOrder := in.SourceOrder
	if sourceOrder == "" {
		sourceOrder = "respect-order"
	}
	return []string{
		"strategy=" + in.strategy(),
		"allow-prereleases=" + strconv.FormatBool(in.AllowPrereleases),
		"prereleases=" + sorted(in.Prereleases),
		"split=" + strconv.FormatBool(in.Split),
		"sources=" + strings.Join(in.Sources, ","),
		"source-order=" + sourceOrder,
		"priority=" + strings.Join(in.Priority, ","),
		"source-for=" + strings.Join(sourceFor, ","),
		"exclude-newer=" + excludeNewer,
		"no-binary=" + sorted(in.NoBinary),
		"only-binary=" + sorted(in.OnlyBinary),
	}
}

// Fingerprint digests the inputs: every group's sorted root requirements,
// the canonical settings and the sorted targets.
func Fingerprint(in Inputs) string {
	in = in.normalize()
	m := in.manifest()
	h := sha256.New()
	for _, name := range slices.Sorted(maps.Keys(m.Groups)) {
		fmt.Fprintf(h, "group %s\n", name)
		for _, r := range m.Groups[name] {
			fmt.Fprintf(h, "  %s\n", r)
		}
	}
	for _, line := range m.Config {
		fmt.Fprintf(h, "config %s\n", line)
	}
	targets := targetStrings(in.Targets)
	slices.Sort(targets)
	for _, t := range targets {
		fmt.Fprintf(h, "target %s\n", t)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// Status is the outcome of [Validate].
type Status struct {
	Fresh bool
	// Reason summarizes Changes for a stale lock.
	Reason  string
	Changes []string
}

// Err returns a STALE_LOCK error for a stale status and nil otherwise.
func (s Status) Err() error {
	if s.Fresh {
		return nil
	}
	return errors.New(errors.ErrCodeStaleLock, "lock file is out of date: %s", s.Reason)
}

// Validate compares a lock with the current inputs.
func Validate(l *Lock, in Inputs) Status {
	in = in.normalize()
	var changes []string
	if major(l.Metadata.LockVersion) != major(Version) {
		changes = append(changes, fmt.Sprintf("lock format %s, current format is %s", l.Metadata.LockVersion, Version))
	}
	changes = append(changes, groupChanges(l.Manifest.Groups, in.manifest().Groups)...)
	if old, cur := l.Manifest.Config, in.config(); !slices.Equal(old, cur) {
		changes = append(changes, configChanges(old, cur)...)
	}
	old, cur := slices.Sorted(slices.Values(l.Metadata.Targets)), targetStrings(in.Targets)
	slices.Sort(cur)
	if !slices.Equal(old, cur) {
		changes = append(changes, fmt.Sprintf("targets changed from [%s] to [%s]", strings.Join(old, ", "), strings.Join(cur, ", ")))
	}
	if len(changes) == 0 && l.Metadata.Fingerprint != Fingerprint(in) {
		changes = append(changes, "fingerprint does not match the recorded inputs")
	}
	if len(changes) == 0 {
		return Status{Fresh: true}
	}
	return Status{Reason: strings.Join(changes, "; "), Changes: changes}
}

func major(v string) string {
	m, _, _ := strings.Cut(v, ".")
	return m
}

func groupChanges(old, cur map[string][]string) []string {
	var out []string
	for _, g := range slices.Sorted(maps.Keys(cur)) {
		prev, ok := old[g]
		if !ok {
			out = append(out, fmt.Sprintf("group %s added", g))
			continue
		}
		out = append(out, requirementChanges(g, prev, cur[g])...)
	}
	for _, g := range slices.Sorted(maps.Keys(old)) {
		if _, ok := cur[g]; !ok {
			out = append(out, fmt.Sprintf("group %s removed", g))
		}
	}
	return out
}

// requirementChanges pairs requirements by project name.
func requirementChanges(group string, old, cur []string) []string {
	byName := func(reqs []string) map[string][]string {
		out := make(map[string][]string)
		for _, s := range reqs {
			name := s
			if r, err := requirement.Parse(s); err == nil {
				name = r.Name
			}
			out[name] = append(out[name], s)
		}
		return out
	}
	o, c := byName(old), byName(cur)
	names := slices.Sorted(maps.Keys(o))
	for name := range c {
		if _, ok := o[name]; !ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	var out []string
	for _, name := range names {
		a, b := o[name], c[name]
		switch {
		case slices.Equal(a, b):
		case len(a) == 0:
			out = append(out, fmt.Sprintf("group %s: %s added", group, strings.Join(b, ", ")))
		case len(b) == 0:
			out = append(out, fmt.Sprintf("group %s: %s removed", group, strings.Join(a, ", ")))
		default:
			out = append(out, fmt.Sprintf("group %s: %s changed to %s", group, strings.Join(a, ", "), strings.Join(b, ", ")))
		}
	}
	return out
}

func configChanges(old, cur []string) []string {
	prev := make(map[string]string, len(old))
	for _, line := range old {
		k, v, _ := strings.Cut(line, "=")
		prev[k] = v
	}
	var out []string
	for _, line := range cur {
		k, v, _ := strings.Cut(line, "=")
		if was, ok := prev[k]; !ok || was != v {
			out = append(out, fmt.Sprintf("setting %s changed from %q to %q", k, was, v))
		}
	}
	if len(out) == 0 {
		out = append(out, "settings changed")
	}
	return out
}
