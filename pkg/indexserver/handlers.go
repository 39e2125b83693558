package indexserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

const (
	contentJSON = "application/vnd.pypi.simple.v1+json"
	contentHTML = "text/html; charset=utf-8"
	apiVersion  = "1.1"
)

// Handler returns the HTTP handler serving the index.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/simple/", http.StatusFound)
	})
	r.Get("/simple", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/simple/", http.StatusMovedPermanently)
	})
	r.Get("/simple/", s.handleIndex)
	r.Get("/simple/{project}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/simple/"+chi.URLParam(r, "project")+"/", http.StatusMovedPermanently)
	})
	r.Get("/simple/{project}/", s.handleProject)
	r.Get("/files/{file}", s.handleFile)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.opts.Logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "bytes", ww.BytesWritten(), "elapsed", time.Since(start))
	})
}

// wantsJSON reports whether the client asked for the PEP 691 JSON form.
func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), contentJSON) || r.URL.Query().Get("format") == contentJSON
}

func writeJSON(w http.ResponseWriter, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentJSON)
	w.Write(buf.Bytes())
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	names := s.Projects()
	if wantsJSON(r) {
		page := indexPage{Meta: meta{APIVersion: apiVersion}, Projects: make([]projectLink, len(names))}
		for i, n := range names {
			page.Projects[i] = projectLink{Name: n}
		}
		writeJSON(w, page)
		return
	}
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><meta name=\"pypi:repository-version\" content=\"" + apiVersion + "\"><title>Simple index</title></head><body>\n")
	for _, n := range names {
		fmt.Fprintf(&b, "<a href=\"%s/\">%s</a><br>\n", html.EscapeString(n), html.EscapeString(n))
	}
	b.WriteString("</body></html>\n")
	w.Header().Set("Content-Type", contentHTML)
	w.Write([]byte(b.String()))
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "project")
	name := requirement.NormalizeName(raw)
	if name != raw {
		// PEP 503: redirect to the normalized name.
		http.Redirect(w, r, "/simple/"+name+"/", http.StatusMovedPermanently)
		return
	}
	files := s.project(name)
	if len(files) == 0 {
		http.NotFound(w, r)
		return
	}

	if wantsJSON(r) {
		page := projectPage{Meta: meta{APIVersion: apiVersion}, Name: name}
		for _, f := range files {
			page.Files = append(page.Files, f.wire())
		}
		writeJSON(w, page)
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<!DOCTYPE html>\n<html><head><meta name=\"pypi:repository-version\" content=\"%s\"><title>Links for %s</title></head><body>\n", apiVersion, html.EscapeString(name))
	for _, f := range files {
		wire := f.wire()
		href := wire.URL
		if algo, hex, ok := strings.Cut(f.hash, ":"); ok {
			href += "#" + algo + "=" + hex
		}
		attrs := ""
		if f.requiresPython != "" {
			attrs += fmt.Sprintf(" data-requires-python=\"%s\"", html.EscapeString(f.requiresPython))
		}
		if f.metadata != nil {
			for algo, hex := range wire.CoreMetadata.Hashes {
				attrs += fmt.Sprintf(" data-core-metadata=\"%s=%s\"", algo, hex)
			}
		}
		fmt.Fprintf(&b, "<a href=\"%s\"%s>%s</a><br>\n", html.EscapeString(href), attrs, html.EscapeString(f.name))
	}
	b.WriteString("</body></html>\n")
	w.Header().Set("Content-Type", contentHTML)
	w.Write([]byte(b.String()))
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "file")
	if err := errors.ValidateFilename(name); err != nil {
		http.Error(w, errors.UserMessage(err), http.StatusBadRequest)
		return
	}
	if base, ok := strings.CutSuffix(name, ".metadata"); ok {
		f, found := s.file(base)
		if !found || f.metadata == nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write(f.metadata)
		return
	}

	f, ok := s.file(name)
	if !ok {
		http.NotFound(w, r)
		return
	}
	fh, err := os.Open(f.path)
	if err != nil {
		s.opts.Logger.Warn("cannot open file", "file", f.path, "err", err)
		http.NotFound(w, r)
		return
	}
	defer fh.Close()
	info, err := fh.Stat()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, f.name, info.ModTime(), fh)
}
