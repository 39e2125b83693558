// Package indexserver serves a directory of distribution files as a simple
// package index.
//
// Projects are listed at /simple/ and /simple/{project}/ in both the PEP 691
// JSON form and the PEP 503 HTML form, chosen by the Accept header. Files
// are served from /files/{filename}; wheels additionally get a PEP 658
// metadata file at /files/{filename}.metadata so clients can resolve
// without downloading them.
//
// # Usage
//
//	srv, err := indexserver.New("./wheels", indexserver.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	http.ListenAndServe(":8080", srv.Handler())
package indexserver

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"

	"github.com/matzehuels/stacklock/pkg/dist"
	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/integrations/pypi"
)

const pattern = "**/*.{whl,tar.gz,zip,tar.bz2,tgz}"

// Options configures a [Server].
type Options struct {
	Logger *log.Logger
}

// WithDefaults returns a copy of o with a discard logger when none is set.
func (o Options) WithDefaults() Options {
	if o.Logger == nil {
		o.Logger = log.New(io.Discard)
	}
	return o
}

// Server is a simple index over one directory. It is safe for concurrent
// use; [Server.Rescan] swaps the listing atomically.
type Server struct {
	dir  string
	opts Options

	mu       sync.RWMutex
	projects map[string][]*file
	files    map[string]*file
}

// file is one served artifact.
type file struct {
	name           string
	path           string
	hash           string // "sha256:<hex>"
	requiresPython string
	metadata       []byte // wheels only
}

// New scans dir and returns a server for it.
func New(dir string, opts Options) (*Server, error) {
	s := &Server{dir: filepath.Clean(dir), opts: opts.WithDefaults()}
	if err := s.Rescan(); err != nil {
		return nil, err
	}
	return s, nil
}

// Rescan reads the directory again, subdirectories included.
func (s *Server) Rescan() error {
	if info, err := os.Stat(s.dir); err != nil || !info.IsDir() {
		return errors.New(errors.ErrCodeInvalidPath, "%s is not a directory", s.dir)
	}
	matches, err := doublestar.Glob(os.DirFS(s.dir), pattern, doublestar.WithFailOnIOErrors())
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidPath, err, "scan %s", s.dir)
	}

	projects := make(map[string][]*file)
	files := make(map[string]*file)
	for _, rel := range matches {
		base := filepath.Base(rel)
		fn, err := dist.ParseFilename(base)
		if err != nil {
			s.opts.Logger.Debug("skipping unrecognized file", "file", rel)
			continue
		}
		if _, dup := files[base]; dup {
			s.opts.Logger.Warn("duplicate file name, keeping the first", "file", rel)
			continue
		}
		f, err := s.load(filepath.Join(s.dir, filepath.FromSlash(rel)), fn)
		if err != nil {
			s.opts.Logger.Warn("skipping unreadable file", "file", rel, "err", err)
			continue
		}
		files[base] = f
		projects[fn.Name] = append(projects[fn.Name], f)
	}
	for _, fs := range projects {
		slices.SortFunc(fs, func(a, b *file) int { return strings.Compare(a.name, b.name) })
	}

	s.mu.Lock()
	s.projects, s.files = projects, files
	s.mu.Unlock()
	s.opts.Logger.Debug("scanned index directory", "dir", s.dir, "projects", len(projects), "files", len(files))
	return nil
}

func (s *Server) load(path string, fn *dist.Filename) (*file, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f := &file{name: fn.Raw, path: path, hash: dist.SHA256(data)}
	if fn.Kind != dist.KindWheel {
		return f, nil
	}
	md, err := dist.WheelMetadata(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	f.metadata = md
	if parsed, err := dist.ParseMetadata(md); err == nil {
		f.requiresPython = parsed.RequiresPython.String()
	}
	return f, nil
}

// Projects returns the normalized project names, sorted.
func (s *Server) Projects() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.projects))
	for name := range s.projects {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func (s *Server) project(name string) []*file {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projects[name]
}

func (s *Server) file(name string) (*file, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[name]
	return f, ok
}

// projectPage is the PEP 691 project response.
type projectPage struct {
	Meta  meta        `json:"meta"`
	Name  string      `json:"name"`
	Files []pypi.File `json:"files"`
}

type meta struct {
	APIVersion string `json:"api-version"`
}

type indexPage struct {
	Meta     meta          `json:"meta"`
	Projects []projectLink `json:"projects"`
}

type projectLink struct {
	Name string `json:"name"`
}

func hashMap(h string) map[string]string {
	algo, hex, ok := strings.Cut(h, ":")
	if !ok {
		return map[string]string{}
	}
	return map[string]string{algo: hex}
}

func (f *file) wire() pypi.File {
	out := pypi.File{
		Filename:       f.name,
		URL:            "../../files/" + f.name,
		Hashes:         hashMap(f.hash),
		RequiresPython: f.requiresPython,
	}
	if f.metadata != nil {
		out.CoreMetadata = pypi.CoreMetadata{Available: true, Hashes: hashMap(dist.SHA256(f.metadata))}
	}
	return out
}
