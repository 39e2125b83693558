// Package disttest builds minimal wheels and sdists for tests.
package disttest

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Metadata renders a core metadata file.
func Metadata(name, version, requiresPython string, requires []string, extras ...string) string {
	var b strings.Builder
	b.WriteString("Metadata-Version: 2.3\n")
	fmt.Fprintf(&b, "Name: %s\nVersion: %s\n", name, version)
	if requiresPython != "" {
		fmt.Fprintf(&b, "Requires-Python: %s\n", requiresPython)
	}
	for _, e := range extras {
		fmt.Fprintf(&b, "Provides-Extra: %s\n", e)
	}
	for _, r := range requires {
		fmt.Fprintf(&b, "Requires-Dist: %s\n", r)
	}
	b.WriteString("\nLong description.\n")
	return b.String()
}

// Wheel returns the bytes of a py3-none-any wheel carrying metadata.
func Wheel(name, version, metadata string) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	pkg := strings.ReplaceAll(name, "-", "_")
	distInfo := pkg + "-" + version + ".dist-info/"
	for _, f := range []struct{ name, body string }{
		{distInfo + "METADATA", metadata},
		{distInfo + "WHEEL", "Wheel-Version: 1.0\nRoot-Is-Purelib: true\nTag: py3-none-any\n"},
		{pkg + "/__init__.py", ""},
	} {
		w, _ := zw.Create(f.name)
		w.Write([]byte(f.body))
	}
	zw.Close()
	return buf.Bytes()
}

// WheelFilename is the filename [Wheel] output should be stored under.
func WheelFilename(name, version string) string {
	return strings.ReplaceAll(name, "-", "_") + "-" + version + "-py3-none-any.whl"
}

// Sdist returns the bytes of a .tar.gz source distribution with PKG-INFO.
func Sdist(name, version, pkgInfo string) []byte {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	top := strings.ReplaceAll(name, "-", "_") + "-" + version + "/"
	for _, f := range []struct{ name, body string }{
		{top + "pyproject.toml", "[build-system]\nrequires = [\"setuptools\"]\n"},
		{top + "PKG-INFO", pkgInfo},
	} {
		tw.WriteHeader(&tar.Header{Name: f.name, Mode: 0o644, Size: int64(len(f.body)), Typeflag: tar.TypeReg})
		tw.Write([]byte(f.body))
	}
	tw.Close()
	gz.Close()
	return buf.Bytes()
}

// WriteWheel writes a wheel for name==version requiring requires into dir
// and returns its path.
func WriteWheel(dir, name, version string, requires ...string) (string, error) {
	p := filepath.Join(dir, WheelFilename(name, version))
	data := Wheel(name, version, Metadata(name, version, "", requires))
	return p, os.WriteFile(p, data, 0o644)
}
