package requirement

import (
	"bufio"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/matzehuels/stacklock/pkg/errors"
)

// File is the parsed content of a requirements.txt file.
type File struct {
	Requirements   []*Requirement
	IndexURL       string
	ExtraIndexURLs []string
	FindLinks      []string
}

var eggRE = regexp.MustCompile(`[#&]egg=([A-Za-z0-9][A-Za-z0-9._-]*)`)

// IsRequirementsFile reports whether name looks like a requirements file.
func IsRequirementsFile(name string) bool {
	return name == "requirements.txt" ||
		(strings.HasPrefix(name, "requirements") && strings.HasSuffix(name, ".txt"))
}

// ParseFile reads a requirements file, following "-r" includes relative to
// the including file.
func ParseFile(path string) (*File, error) {
	out := &File{}
	if err := parseFileInto(path, out, map[string]bool{}); err != nil {
		return nil, err
	}
	return out, nil
}

func parseFileInto(path string, out *File, visiting map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if visiting[abs] {
		return errors.New(errors.ErrCodeParse, "requirements include cycle at %s", path)
	}
	visiting[abs] = true
	defer delete(visiting, abs)

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return parseReader(f, filepath.Dir(path), out, func(include string) error {
		return parseFileInto(include, out, visiting)
	})
}

// ParseReader parses requirements from r. Includes are rejected.
func ParseReader(r io.Reader) (*File, error) {
	out := &File{}
	err := parseReader(r, ".", out, func(include string) error {
		return errors.New(errors.ErrCodeUnsupported, "cannot include %s from a stream", include)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func parseReader(r io.Reader, dir string, out *File, include func(string) error) error {
	scanner := bufio.NewScanner(r)
	var pending string
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.HasSuffix(line, "\\") {
			pending += strings.TrimSuffix(line, "\\") + " "
			continue
		}
		line = stripComment(pending + line)
		pending = ""
		if line == "" {
			continue
		}
		if err := parseLine(line, dir, out, include); err != nil {
			return errors.Wrap(errors.ErrCodeParse, err, "line %d", lineNo)
		}
	}
	return scanner.Err()
}

func stripComment(line string) string {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "#") {
		return ""
	}
	if i := strings.Index(line, " #"); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

func parseLine(line, dir string, out *File, include func(string) error) error {
	if strings.HasPrefix(line, "-") {
		opt, value := splitOption(line)
		switch opt {
		case "-r", "--requirement":
			return include(filepath.Join(dir, value))
		case "-i", "--index-url":
			out.IndexURL = value
		case "--extra-index-url":
			out.ExtraIndexURLs = append(out.ExtraIndexURLs, value)
		case "-f", "--find-links":
			out.FindLinks = append(out.FindLinks, value)
		case "-e", "--editable":
			req, err := parseDirect(value, dir)
			if err != nil {
				return err
			}
			out.Requirements = append(out.Requirements, req)
		}
		// Other pip options (-c, --pre, --trusted-host, ...) have no effect
		// on resolution inputs.
		return nil
	}

	// Per-requirement options such as --hash follow the requirement.
	if i := strings.Index(line, " --"); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if strings.Contains(line, "://") && !strings.Contains(line, "@") || strings.HasPrefix(line, "git+") {
		req, err := parseDirect(line, dir)
		if err != nil {
			return err
		}
		out.Requirements = append(out.Requirements, req)
		return nil
	}
	req, err := Parse(line)
	if err != nil {
		return err
	}
	out.Requirements = append(out.Requirements, req)
	return nil
}

func splitOption(line string) (string, string) {
	if opt, value, ok := strings.Cut(line, "="); ok && !strings.Contains(opt, " ") {
		return opt, strings.TrimSpace(value)
	}
	opt, value, _ := strings.Cut(line, " ")
	return opt, strings.TrimSpace(value)
}

// parseDirect turns a bare URL or path ("git+https://...#egg=name",
// "./pkg") into a requirement. The name comes from the egg fragment, or for
// local paths from the directory name.
func parseDirect(value, dir string) (*Requirement, error) {
	if !strings.Contains(value, "://") && !strings.HasPrefix(value, "git+") {
		path := value
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		return &Requirement{
			Name:   NormalizeName(filepath.Base(abs)),
			Source: &Source{Kind: SourcePath, URL: abs},
		}, nil
	}

	m := eggRE.FindStringSubmatch(value)
	if m == nil {
		return nil, errors.New(errors.ErrCodeParse, "direct reference %q needs #egg=<name>", value)
	}
	src, err := ParseSource(stripEgg(value))
	if err != nil {
		return nil, err
	}
	return &Requirement{Name: NormalizeName(m[1]), Source: src}, nil
}

func stripEgg(value string) string {
	base, frag, ok := strings.Cut(value, "#")
	if !ok {
		return value
	}
	q, err := url.ParseQuery(frag)
	if err != nil {
		return base
	}
	q.Del("egg")
	if len(q) == 0 {
		return base
	}
	return base + "#" + q.Encode()
}
