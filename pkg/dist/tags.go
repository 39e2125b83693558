package dist

import (
	"strconv"
	"strings"

	"github.com/matzehuels/stacklock/pkg/markers"
	"github.com/matzehuels/stacklock/pkg/pep440"
)

// Tag is one wheel compatibility triple.
type Tag struct {
	Python   string
	ABI      string
	Platform string
}

func (t Tag) String() string { return t.Python + "-" + t.ABI + "-" + t.Platform }

// ExpandTags expands compressed tag sets such as "py2.py3-none-any".
func ExpandTags(python, abi, platform string) []Tag {
	var out []Tag
	for _, py := range strings.Split(python, ".") {
		for _, a := range strings.Split(abi, ".") {
			for _, p := range strings.Split(platform, ".") {
				out = append(out, Tag{Python: py, ABI: a, Platform: p})
			}
		}
	}
	return out
}

// Supports reports whether some tag of the wheel could be installed on some
// environment described by t. Unspecified target fields match anything.
func (f *Filename) Supports(t markers.Target) bool {
	if f.Kind != KindWheel {
		return true
	}
	for _, tag := range f.Tags {
		if tag.supports(t) {
			return true
		}
	}
	return false
}

func (tag Tag) supports(t markers.Target) bool {
	if !platformMatches(tag.Platform, t.Platform) {
		return false
	}
	impl, set := tag.pythonSet()
	if t.Implementation != "" && impl != "py" && impl != implementationPrefix[t.Implementation] {
		return false
	}
	return !set.Intersect(t.Python.Set()).IsEmpty()
}

var implementationPrefix = map[string]string{"cpython": "cp", "pypy": "pp"}

// pythonSet returns the interpreter family and the python versions a tag
// covers: "py3" is every 3.x, "cp39" is 3.9.*, and "cp39" with an abi3 ABI
// is 3.9 and newer.
func (tag Tag) pythonSet() (string, pep440.VersionSet) {
	if len(tag.Python) < 3 {
		return tag.Python, pep440.All()
	}
	impl, digits := tag.Python[:2], tag.Python[2:]
	if _, err := strconv.Atoi(digits); err != nil {
		return impl, pep440.All()
	}
	major := digits[:1]
	if len(digits) == 1 {
		return impl, specSet("==" + major + ".*")
	}
	minor := digits[1:]
	if tag.ABI == "abi3" {
		return impl, specSet(">=" + major + "." + minor)
	}
	return impl, specSet("==" + major + "." + minor + ".*")
}

func specSet(s string) pep440.VersionSet {
	specs, err := pep440.ParseSpecifiers(s)
	if err != nil {
		return pep440.All()
	}
	return specs.Set()
}

func platformMatches(tag, platform string) bool {
	if tag == "any" || platform == "" {
		return true
	}
	switch platform {
	case "linux":
		return strings.HasPrefix(tag, "manylinux") || strings.HasPrefix(tag, "musllinux") || strings.HasPrefix(tag, "linux")
	case "macos":
		return strings.HasPrefix(tag, "macosx")
	case "windows":
		return strings.HasPrefix(tag, "win")
	}
	return false
}
