package dist

import (
	"bufio"
	"bytes"
	"io"
	"net/textproto"
	"strings"

	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/markers"
	"github.com/matzehuels/stacklock/pkg/pep440"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

// Metadata is the part of a core metadata file the resolver needs.
type Metadata struct {
	MetadataVersion string
	Name            string
	Version         pep440.Version
	RequiresPython  pep440.Specifiers
	RequiresDist    []*requirement.Requirement
	ProvidesExtra   []string
	Dynamic         []string // lower-cased field names
}

// ParseMetadata parses a METADATA or PKG-INFO file. The headers use RFC 822
// syntax; the long description after the first blank line is ignored.
func ParseMetadata(data []byte) (*Metadata, error) {
	r := textproto.NewReader(bufio.NewReader(io.MultiReader(bytes.NewReader(data), strings.NewReader("\r\n\r\n"))))
	h, err := r.ReadMIMEHeader()
	if err != nil && len(h) == 0 {
		return nil, errors.Wrap(errors.ErrCodeParse, err, "invalid core metadata")
	}

	name := h.Get("Name")
	if name == "" {
		return nil, errors.New(errors.ErrCodeParse, "core metadata has no Name")
	}
	v, err := pep440.Parse(h.Get("Version"))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeParse, err, "core metadata for %s", name)
	}
	md := &Metadata{
		MetadataVersion: h.Get("Metadata-Version"),
		Name:            requirement.NormalizeName(name),
		Version:         v,
	}
	for _, d := range h.Values("Dynamic") {
		md.Dynamic = append(md.Dynamic, strings.ToLower(strings.TrimSpace(d)))
	}

	if rp := h.Get("Requires-Python"); rp != "" {
		specs, err := pep440.ParseSpecifiers(rp)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeParse, err, "Requires-Python of %s", name)
		}
		md.RequiresPython = specs
	}
	for _, line := range h.Values("Requires-Dist") {
		req, err := requirement.Parse(line)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeParse, err, "Requires-Dist of %s", name)
		}
		md.RequiresDist = append(md.RequiresDist, req)
	}
	for _, extra := range h.Values("Provides-Extra") {
		md.ProvidesExtra = append(md.ProvidesExtra, markers.NormalizeExtra(extra))
	}
	return md, nil
}

var metadata22 = pep440.MustParse("2.2")

// StaticDependencies reports whether RequiresDist can be trusted without a
// build. Wheels always qualify; source distributions only from metadata 2.2
// on, and only when Requires-Dist is not declared dynamic.
func (m *Metadata) StaticDependencies(kind Kind) bool {
	if kind == KindWheel {
		return true
	}
	if v, err := pep440.Parse(m.MetadataVersion); err != nil || v.Less(metadata22) {
		return false
	}
	for _, d := range m.Dynamic {
		if d == "requires-dist" || d == "requires-python" {
			return false
		}
	}
	return true
}

// Dependencies returns the requirements that apply when extras are
// requested. Requirements gated on other extras are dropped; the extra
// clauses are removed from the markers of those that remain.
func (m *Metadata) Dependencies(extras []string) []*requirement.Requirement {
	var out []*requirement.Requirement
	for _, req := range m.RequiresDist {
		mk, ok := req.Marker.WithExtras(extras)
		if !ok {
			continue
		}
		out = append(out, req.WithMarker(mk))
	}
	return out
}
