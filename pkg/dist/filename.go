// Package dist reads Python distribution artifacts: wheel and sdist
// filenames, wheel compatibility tags and core metadata (METADATA, PKG-INFO).
package dist

import (
	"strings"

	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/pep440"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

// Kind distinguishes built and source distributions.
type Kind int

const (
	KindWheel Kind = iota + 1
	KindSdist
)

func (k Kind) String() string {
	switch k {
	case KindWheel:
		return "wheel"
	case KindSdist:
		return "sdist"
	}
	return "unknown"
}

var sdistSuffixes = []string{".tar.gz", ".zip", ".tar.bz2", ".tgz", ".tar"}

// Filename is a parsed distribution filename.
type Filename struct {
	Raw     string
	Kind    Kind
	Name    string // PEP 503 normalized
	Version pep440.Version
	Build   string // wheel build tag, usually empty
	Tags    []Tag  // wheels only
}

// ParseFilename parses a wheel or sdist filename.
func ParseFilename(name string) (*Filename, error) {
	if strings.HasSuffix(name, ".whl") {
		return ParseWheelFilename(name)
	}
	return ParseSdistFilename(name)
}

// IsDistribution reports whether name has a wheel or sdist suffix.
func IsDistribution(name string) bool {
	if strings.HasSuffix(name, ".whl") {
		return true
	}
	return sdistSuffix(name) != ""
}

func sdistSuffix(name string) string {
	for _, s := range sdistSuffixes {
		if strings.HasSuffix(name, s) {
			return s
		}
	}
	return ""
}

// ParseWheelFilename parses
// {name}-{version}(-{build})?-{python}-{abi}-{platform}.whl.
func ParseWheelFilename(name string) (*Filename, error) {
	stem, ok := strings.CutSuffix(name, ".whl")
	if !ok {
		return nil, errors.New(errors.ErrCodeParse, "%q is not a wheel filename", name)
	}
	parts := strings.Split(stem, "-")
	if len(parts) != 5 && len(parts) != 6 {
		return nil, errors.New(errors.ErrCodeParse, "invalid wheel filename %q", name)
	}
	v, err := pep440.Parse(parts[1])
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeParse, err, "invalid wheel filename %q", name)
	}
	f := &Filename{
		Raw:     name,
		Kind:    KindWheel,
		Name:    requirement.NormalizeName(parts[0]),
		Version: v,
	}
	if len(parts) == 6 {
		f.Build = parts[2]
	}
	n := len(parts)
	f.Tags = ExpandTags(parts[n-3], parts[n-2], parts[n-1])
	return f, nil
}

// ParseSdistFilename parses {name}-{version}.tar.gz and the other archive
// forms. Legacy names may contain dashes, so the version is the longest
// dash-separated suffix that parses.
func ParseSdistFilename(name string) (*Filename, error) {
	suffix := sdistSuffix(name)
	if suffix == "" {
		return nil, errors.New(errors.ErrCodeParse, "%q is not a source distribution", name)
	}
	stem := strings.TrimSuffix(name, suffix)
	for i := strings.Index(stem, "-"); i > 0; {
		if v, err := pep440.Parse(stem[i+1:]); err == nil {
			return &Filename{
				Raw:     name,
				Kind:    KindSdist,
				Name:    requirement.NormalizeName(stem[:i]),
				Version: v,
			}, nil
		}
		next := strings.Index(stem[i+1:], "-")
		if next < 0 {
			break
		}
		i += next + 1
	}
	return nil, errors.New(errors.ErrCodeParse, "cannot find a version in %q", name)
}
