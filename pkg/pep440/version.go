// Package pep440 implements Python package versions and version specifiers.
//
// Versions follow the PEP 440 scheme: an optional epoch, a release of one or
// more numeric segments, and optional pre-release, post-release, development
// and local parts. Ordering is total:
//
//	1.0.dev0 < 1.0a1 < 1.0b2 < 1.0rc1 < 1.0 == 1.0.0 < 1.0.post1
//
// Local versions ("1.0+cpu") are ignored for ordering but kept for identity,
// so [Version.Compare] treats "1.0+cpu" and "1.0" as equal while
// [Version.Equal] does not.
//
// Specifiers ("~=1.4", ">=2,<3", "==1.1.*") are parsed into [Specifiers],
// which support membership tests and intersection. Intersection emptiness is
// decided on [VersionSet], a normalized union of version intervals.
package pep440

import (
	"cmp"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/matzehuels/stacklock/pkg/errors"
)

var versionPattern = regexp.MustCompile(`(?i)^\s*v?` +
	`(?:(?P<epoch>[0-9]+)!)?` +
	`(?P<release>[0-9]+(?:\.[0-9]+)*)` +
	`(?P<pre>[-_\.]?(?P<pre_l>alpha|a|beta|b|preview|pre|c|rc)[-_\.]?(?P<pre_n>[0-9]+)?)?` +
	`(?P<post>(?:-(?P<post_n1>[0-9]+))|(?:[-_\.]?(?P<post_l>post|rev|r)[-_\.]?(?P<post_n2>[0-9]+)?))?` +
	`(?P<dev>[-_\.]?(?P<dev_l>dev)[-_\.]?(?P<dev_n>[0-9]+)?)?` +
	`(?:\+(?P<local>[a-z0-9]+(?:[-_\.][a-z0-9]+)*))?\s*$`)

// Version is a parsed PEP 440 version. The zero value is not a valid version;
// use [Parse] or [MustParse].
type Version struct {
	epoch   int
	release []int
	preL    string // "a", "b", "rc" or empty
	preN    int
	post    int // -1 when absent
	dev     int // -1 when absent
	local   string
}

// Parse parses s as a PEP 440 version. Alternative spellings are normalized:
// "1.0-alpha.1" parses as "1.0a1" and "1.0-1" as "1.0.post1".
func Parse(s string) (Version, error) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, errors.New(errors.ErrCodeParse, "invalid version %q", s)
	}
	group := func(name string) string { return m[versionPattern.SubexpIndex(name)] }

	v := Version{post: -1, dev: -1}
	var err error
	if e := group("epoch"); e != "" {
		if v.epoch, err = atoi(e, s); err != nil {
			return Version{}, err
		}
	}
	for _, part := range strings.Split(group("release"), ".") {
		n, err := atoi(part, s)
		if err != nil {
			return Version{}, err
		}
		v.release = append(v.release, n)
	}
	if l := group("pre_l"); l != "" {
		v.preL = normalizePreLabel(l)
		if n := group("pre_n"); n != "" {
			if v.preN, err = atoi(n, s); err != nil {
				return Version{}, err
			}
		}
	}
	if group("post") != "" {
		v.post = 0
		n := group("post_n1")
		if n == "" {
			n = group("post_n2")
		}
		if n != "" {
			if v.post, err = atoi(n, s); err != nil {
				return Version{}, err
			}
		}
	}
	if group("dev") != "" {
		v.dev = 0
		if n := group("dev_n"); n != "" {
			if v.dev, err = atoi(n, s); err != nil {
				return Version{}, err
			}
		}
	}
	if l := group("local"); l != "" {
		v.local = strings.NewReplacer("-", ".", "_", ".").Replace(strings.ToLower(l))
	}
	return v, nil
}

// MustParse is like [Parse] but panics on malformed input.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func atoi(s, version string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeParse, err, "invalid version %q", version)
	}
	return n, nil
}

func normalizePreLabel(l string) string {
	switch strings.ToLower(l) {
	case "a", "alpha":
		return "a"
	case "b", "beta":
		return "b"
	default:
		return "rc"
	}
}

// IsZero reports whether v is the zero value.
func (v Version) IsZero() bool { return len(v.release) == 0 }

// Epoch returns the version epoch (0 when absent).
func (v Version) Epoch() int { return v.epoch }

// Release returns a copy of the numeric release segments.
func (v Version) Release() []int { return slices.Clone(v.release) }

// Local returns the normalized local version label, or "".
func (v Version) Local() string { return v.local }

// IsPrerelease reports whether v is a pre-release or development release.
func (v Version) IsPrerelease() bool { return v.preL != "" || v.dev >= 0 }

// IsPostRelease reports whether v has a post-release segment.
func (v Version) IsPostRelease() bool { return v.post >= 0 }

// IsDevRelease reports whether v has a development segment.
func (v Version) IsDevRelease() bool { return v.dev >= 0 }

// Public returns v without its local label.
func (v Version) Public() Version {
	v.local = ""
	return v
}

// BaseVersion returns the epoch and release of v only.
func (v Version) BaseVersion() Version {
	return Version{epoch: v.epoch, release: v.release, post: -1, dev: -1}
}

// Compare returns -1, 0 or +1 depending on whether v sorts before, equal to
// or after o. Local labels are ignored.
func (v Version) Compare(o Version) int {
	if c := cmp.Compare(v.epoch, o.epoch); c != 0 {
		return c
	}
	if c := compareRelease(v.release, o.release); c != 0 {
		return c
	}
	vr, vn := v.preKey()
	or, on := o.preKey()
	if c := cmp.Compare(vr, or); c != 0 {
		return c
	}
	if c := cmp.Compare(vn, on); c != 0 {
		return c
	}
	if c := cmp.Compare(v.post, o.post); c != 0 {
		return c
	}
	return cmp.Compare(devKey(v.dev), devKey(o.dev))
}

// Equal reports whether v and o denote the same version including the local label.
func (v Version) Equal(o Version) bool {
	return v.Compare(o) == 0 && v.local == o.local
}

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

// preKey ranks the pre-release segment. A development release of a final
// version sorts before every pre-release; a final release after all of them.
func (v Version) preKey() (int, int) {
	switch {
	case v.preL == "" && v.post < 0 && v.dev >= 0:
		return -1, 0
	case v.preL == "":
		return 3, 0
	case v.preL == "a":
		return 0, v.preN
	case v.preL == "b":
		return 1, v.preN
	default:
		return 2, v.preN
	}
}

func devKey(dev int) int {
	if dev < 0 {
		return int(^uint(0) >> 1)
	}
	return dev
}

func compareRelease(a, b []int) int {
	n := max(len(a), len(b))
	for i := range n {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if c := cmp.Compare(x, y); c != 0 {
			return c
		}
	}
	return 0
}

// String returns the normalized form of v.
func (v Version) String() string {
	if v.IsZero() {
		return ""
	}
	var b strings.Builder
	if v.epoch != 0 {
		b.WriteString(strconv.Itoa(v.epoch))
		b.WriteByte('!')
	}
	for i, n := range v.release {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(n))
	}
	if v.preL != "" {
		b.WriteString(v.preL)
		b.WriteString(strconv.Itoa(v.preN))
	}
	if v.post >= 0 {
		b.WriteString(".post")
		b.WriteString(strconv.Itoa(v.post))
	}
	if v.dev >= 0 {
		b.WriteString(".dev")
		b.WriteString(strconv.Itoa(v.dev))
	}
	if v.local != "" {
		b.WriteByte('+')
		b.WriteString(v.local)
	}
	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// withDev0 returns the lowest version sharing v's epoch and release.
func withDev0(epoch int, release []int) Version {
	return Version{epoch: epoch, release: release, post: -1, dev: 0}
}

// bump increments the last of the first n release segments.
func bump(release []int, n int) []int {
	out := slices.Clone(release[:n])
	out[n-1]++
	return out
}

// Sort sorts versions in ascending order.
func Sort(vs []Version) {
	slices.SortStableFunc(vs, Version.Compare)
}
