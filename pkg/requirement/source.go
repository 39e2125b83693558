package requirement

import (
	"net/url"
	"path/filepath"
	"slices"
	"strings"

	"github.com/matzehuels/stacklock/pkg/errors"
)

// SourceKind is the closed set of explicit requirement sources.
type SourceKind int

const (
	// SourcePath is a local project directory.
	SourcePath SourceKind = iota + 1
	// SourceVCS is a version-control repository at a ref.
	SourceVCS
	// SourceURL is a direct link to a wheel or source archive.
	SourceURL
)

func (k SourceKind) String() string {
	switch k {
	case SourcePath:
		return "path"
	case SourceVCS:
		return "vcs"
	case SourceURL:
		return "url"
	}
	return "unknown"
}

var vcsSchemes = []string{"git", "hg", "svn", "bzr"}

// Source is an explicit location for a requirement.
type Source struct {
	Kind SourceKind
	// URL is the repository URL (VCS, without the vcs+ prefix and ref), the
	// artifact URL (URL) or the file path (path).
	URL          string
	VCS          string // git, hg, svn or bzr
	Ref          string // requested branch, tag or commit
	Revision     string // resolved commit, filled in by the VCS source
	Subdirectory string
	Hash         string // "sha256:<hex>" from a URL fragment
}

// ParseSource parses the URL part of a direct reference.
func ParseSource(raw string) (*Source, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New(errors.ErrCodeParse, "empty source URL")
	}

	if scheme, rest, ok := strings.Cut(raw, "+"); ok && isVCS(scheme) {
		return parseVCS(scheme, rest)
	}

	if strings.HasPrefix(raw, "./") || strings.HasPrefix(raw, "../") || filepath.IsAbs(raw) {
		return pathOrArchive(raw, "", ""), nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeParse, err, "invalid source URL %q", raw)
	}
	frag := parseFragment(u.Fragment)
	u.Fragment = ""

	switch u.Scheme {
	case "file":
		return pathOrArchive(u.Path, frag.Get("subdirectory"), hashFromFragment(frag)), nil
	case "http", "https":
		return &Source{
			Kind:         SourceURL,
			URL:          u.String(),
			Subdirectory: frag.Get("subdirectory"),
			Hash:         hashFromFragment(frag),
		}, nil
	}
	return nil, errors.New(errors.ErrCodeParse, "unsupported source URL %q", raw)
}

func isVCS(scheme string) bool { return slices.Contains(vcsSchemes, scheme) }

// parseVCS handles "git+https://host/repo.git@ref#subdirectory=sub" and the
// lock-file form "git+https://host/repo.git?rev=ref#<commit>".
func parseVCS(vcs, rest string) (*Source, error) {
	u, err := url.Parse(rest)
	if err != nil || u.Scheme == "" {
		return nil, errors.New(errors.ErrCodeParse, "invalid %s URL %q", vcs, rest)
	}
	src := &Source{Kind: SourceVCS, VCS: vcs}

	if i := strings.LastIndex(u.Path, "@"); i >= 0 {
		src.Ref = u.Path[i+1:]
		u.Path = u.Path[:i]
	}
	if rev := u.Query().Get("rev"); rev != "" {
		src.Ref = rev
		u.RawQuery = ""
	}
	if u.Fragment != "" && !strings.Contains(u.Fragment, "=") {
		src.Revision = u.Fragment
	} else {
		src.Subdirectory = parseFragment(u.Fragment).Get("subdirectory")
	}
	u.Fragment = ""
	src.URL = u.String()
	return src, nil
}

func parseFragment(fragment string) url.Values {
	v, _ := url.ParseQuery(fragment)
	return v
}

func hashFromFragment(frag url.Values) string {
	for _, algo := range []string{"sha256", "sha384", "sha512"} {
		if h := frag.Get(algo); h != "" {
			return algo + ":" + h
		}
	}
	return ""
}

var archiveSuffixes = []string{".whl", ".tar.gz", ".zip", ".tar.bz2", ".tgz"}

func pathOrArchive(path, subdir, hash string) *Source {
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(path, suffix) {
			return &Source{Kind: SourceURL, URL: (&url.URL{Scheme: "file", Path: path}).String(), Hash: hash}
		}
	}
	return &Source{Kind: SourcePath, URL: path, Subdirectory: subdir}
}

// IsWheel reports whether a URL source points at a wheel.
func (s *Source) IsWheel() bool {
	return s.Kind == SourceURL && strings.HasSuffix(strings.ToLower(s.URL), ".whl")
}

// String returns the direct-reference URL.
func (s *Source) String() string {
	switch s.Kind {
	case SourceVCS:
		out := s.VCS + "+" + s.URL
		if s.Ref != "" {
			out += "@" + s.Ref
		}
		if s.Subdirectory != "" {
			out += "#subdirectory=" + s.Subdirectory
		}
		return out
	case SourcePath:
		if strings.HasPrefix(s.URL, ".") {
			return s.URL
		}
		out := (&url.URL{Scheme: "file", Path: s.URL}).String()
		if s.Subdirectory != "" {
			out += "#subdirectory=" + s.Subdirectory
		}
		return out
	default:
		out := s.URL
		if s.Hash != "" {
			algo, hex, _ := strings.Cut(s.Hash, ":")
			out += "#" + algo + "=" + hex
		}
		return out
	}
}

// LockURL returns the URL recorded in lock files: VCS sources are pinned to
// their resolved revision.
func (s *Source) LockURL() string {
	if s.Kind != SourceVCS || s.Revision == "" {
		return s.String()
	}
	out := s.VCS + "+" + s.URL
	if s.Ref != "" {
		out += "?rev=" + s.Ref
	}
	return out + "#" + s.Revision
}

// Equal reports whether s and o name the same location.
func (s *Source) Equal(o *Source) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.Kind == o.Kind && s.URL == o.URL && s.VCS == o.VCS && s.Ref == o.Ref && s.Subdirectory == o.Subdirectory
}
