// Package export renders a lock file for other tools.
//
// [Requirements] writes a requirements.txt that pip can install with
// --require-hashes, [Pylock] writes a PEP 751 pylock.toml, [DOT] writes the locked dependency graph in Graphviz
// DOT format and [SVG] renders such a graph in process through
// [github.com/goccy/go-graphviz].
//
// # Usage
//
//	txt, err := export.Requirements(lock, export.Options{
//	    WithHashes:  true,
//	    WithMarkers: true,
//	    Groups:      []string{"default"},
//	})
//
//	svg, err := export.SVG(ctx, export.DOT(lock))
package export
