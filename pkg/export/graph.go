package export

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/matzehuels/stacklock/pkg/errors"
	"github.com/matzehuels/stacklock/pkg/lockfile"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

// projectNode stands for the locked project itself.
const projectNode = "<project>"

// DOT renders the locked dependency graph in Graphviz DOT format. Every
// entry is a node labelled "name version"; the project node points at the
// root requirements of every group. Edges to a name locked more than once
// reach each of its entries, labelled with the entry's marker.
func DOT(l *lockfile.Lock) string {
	byName := make(map[string][]lockfile.Entry)
	for _, e := range l.Packages {
		byName[e.Name] = append(byName[e.Name], e)
	}
	id := func(e lockfile.Entry) string { return e.Name + " " + e.Version }

	var buf bytes.Buffer
	buf.WriteString("digraph G {\n")
	buf.WriteString("  rankdir=TB;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontsize=14, margin=\"0.2,0.1\"];\n")
	buf.WriteString("  ranksep=0.5;\n")
	buf.WriteString("  nodesep=0.3;\n")
	buf.WriteString("\n")

	fmt.Fprintf(&buf, "  %q [fillcolor=lightgrey];\n", projectNode)
	for _, e := range l.Packages {
		label := id(e)
		if e.Source != "" {
			label += "\n" + e.Source
		}
		fmt.Fprintf(&buf, "  %q [label=%q];\n", id(e), label)
	}

	buf.WriteString("\n")
	roots := map[string]bool{}
	for _, reqs := range l.Manifest.Groups {
		for _, s := range reqs {
			if r, err := requirement.Parse(s); err == nil {
				roots[r.Name] = true
			}
		}
	}
	for _, name := range slices.Sorted(maps.Keys(roots)) {
		for _, to := range byName[name] {
			writeEdge(&buf, projectNode, id(to), to, len(byName[name]) > 1)
		}
	}
	for _, e := range l.Packages {
		for _, dep := range e.Dependencies {
			for _, to := range byName[dep] {
				writeEdge(&buf, id(e), id(to), to, len(byName[dep]) > 1)
			}
		}
	}
	buf.WriteString("}\n")
	return buf.String()
}

func writeEdge(buf *bytes.Buffer, from, to string, target lockfile.Entry, split bool) {
	if split && target.Marker != "" {
		fmt.Fprintf(buf, "  %q -> %q [label=%q, fontsize=10];\n", from, to, target.Marker)
		return
	}
	fmt.Fprintf(buf, "  %q -> %q;\n", from, to)
}

// SVG renders a DOT graph to SVG with Graphviz.
func SVG(ctx context.Context, dot string) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return normalizeViewBox(buf.Bytes()), nil
}

var (
	svgTagRe  = regexp.MustCompile(`<svg[^>]*>`)
	viewBoxRe = regexp.MustCompile(`viewBox="([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)"`)
)

// normalizeViewBox rewrites the root element so the drawing scales with its
// container.
func normalizeViewBox(svg []byte) []byte {
	match := viewBoxRe.FindSubmatch(svg)
	if match == nil {
		return svg
	}
	w, _ := strconv.ParseFloat(string(match[3]), 64)
	h, _ := strconv.ParseFloat(string(match[4]), 64)
	if w == 0 || h == 0 {
		return svg
	}
	tag := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %.2f %.2f" width="%.0f" height="%.0f">`, w, h, w, h)
	return svgTagRe.ReplaceAll(svg, []byte(tag))
}

// Format names an export format.
type Format string

const (
	FormatRequirements Format = "requirements"
	FormatDOT          Format = "dot"
	FormatSVG          Format = "svg"
	FormatPylock       Format = "pylock"
)

// Formats lists the supported formats.
func Formats() []string {
	return []string{string(FormatRequirements), string(FormatPylock), string(FormatDOT), string(FormatSVG)}
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "", FormatRequirements:
		return FormatRequirements, nil
	case FormatPylock, FormatDOT, FormatSVG:
		return f, nil
	}
	return "", errors.New(errors.ErrCodeInvalidInput, "unknown export format %q (want one of %s)", s, strings.Join(Formats(), ", "))
}
