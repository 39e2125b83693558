package export

import (
	"os"
	"slices"
	"strings"

	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/lockfile"
	"github.com/matzehuels/stacklock/pkg/markers"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

// Index is a package index written as --index-url / --extra-index-url.
type Index struct {
	Name string
	URL  string
}

// Options configures [Requirements].
type Options struct {
	// WithHashes adds --hash options for every locked file.
	WithHashes bool
	// WithMarkers keeps environment markers. Without them the output is
	// only valid on the targets it was filtered for.
	WithMarkers bool
	// WithExtras keeps extras in package names.
	WithExtras bool
	// Groups selects the groups to export; empty means every group.
	Groups []string
	// Targets drops entries whose marker cannot hold in any of them;
	// empty keeps everything.
	Targets []markers.Target
	// Self is written first when set, typically "." or "-e .".
	Self string
	// Indexes are emitted in order; the first is the primary index.
	Indexes []Index
	// ExpandVars replaces $VAR and ${VAR} in index and source URLs with
	// values from the environment. Otherwise they are written as declared.
	ExpandVars bool
}

func (o Options) expand(s string) string {
	if !o.ExpandVars {
		return s
	}
	return os.ExpandEnv(s)
}

const requirementsHeader = "# This file is generated by stacklock from the lock file.\n# Do not edit it by hand.\n"

// Requirements renders the lock as a requirements.txt file.
func Requirements(l *lockfile.Lock, opts Options) (string, error) {
	entries := l.Packages
	if len(opts.Targets) > 0 {
		var err error
		if entries, err = l.ForTargets(opts.Targets); err != nil {
			return "", err
		}
	}

	var b strings.Builder
	b.WriteString(requirementsHeader)
	for i, idx := range opts.Indexes {
		if i == 0 {
			b.WriteString("--index-url " + opts.expand(idx.URL) + "\n")
		} else {
			b.WriteString("--extra-index-url " + opts.expand(idx.URL) + "\n")
		}
	}
	b.WriteByte('\n')
	if opts.Self != "" {
		b.WriteString(opts.Self + "\n")
	}

	for _, e := range entries {
		if !inGroups(e, opts.Groups) {
			continue
		}
		line, err := requirementLine(e, opts)
		if err != nil {
			return "", err
		}
		b.WriteString(line)
		if opts.WithHashes && e.Source == "" {
			for _, h := range e.Hashes() {
				b.WriteString(" \\\n    --hash=" + h)
			}
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// inGroups reports whether e belongs to one of groups; no groups selects
// every entry.
func inGroups(e lockfile.Entry, groups []string) bool {
	return len(groups) == 0 || slices.ContainsFunc(e.Groups, func(g string) bool { return slices.Contains(groups, g) })
}

func requirementLine(e lockfile.Entry, opts Options) (string, error) {
	name := e.Name
	if opts.WithExtras && len(e.Extras) > 0 {
		name += "[" + strings.Join(e.Extras, ",") + "]"
	}
	var line string
	if e.Source == "" {
		line = name + "==" + e.Version
	} else {
		ref, err := DirectReference(opts.expand(e.Source))
		if err != nil {
			return "", errors.Wrap(errors.ErrCodeParse, err, "source of %s", e.Name)
		}
		line = name + " @ " + ref
	}
	if opts.WithMarkers && e.Marker != "" {
		sep := "; "
		if e.Source != "" {
			// A marker right after a URL needs whitespace before the semicolon.
			sep = " ; "
		}
		line += sep + e.Marker
	}
	return line, nil
}

// DirectReference converts a locked source into a PEP 508 URL. VCS sources
// are pinned to their resolved revision.
func DirectReference(lockURL string) (string, error) {
	src, err := requirement.ParseSource(lockURL)
	if err != nil {
		return "", err
	}
	if src.Kind != requirement.SourceVCS || src.Revision == "" {
		return src.String(), nil
	}
	pinned := *src
	pinned.Ref = src.Revision
	return pinned.String(), nil
}
