package dist

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"path"
	"strings"

	"github.com/matzehuels/stacklock/pkg/errors"
)

// WheelMetadata extracts {name}.dist-info/METADATA from a wheel.
func WheelMetadata(r io.ReaderAt, size int64) ([]byte, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeParse, err, "invalid wheel archive")
	}
	for _, f := range zr.File {
		dir, base := path.Split(f.Name)
		if base != "METADATA" || strings.Count(dir, "/") != 1 || !strings.HasSuffix(dir, ".dist-info/") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, errors.New(errors.ErrCodeParse, "wheel has no .dist-info/METADATA")
}

// SdistMetadata extracts the top-level PKG-INFO from a source distribution.
// The archive format is taken from filename.
func SdistMetadata(filename string, data []byte) ([]byte, error) {
	switch {
	case strings.HasSuffix(filename, ".zip"):
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeParse, err, "invalid sdist %s", filename)
		}
		for _, f := range zr.File {
			if isTopLevelPKGInfo(f.Name) {
				rc, err := f.Open()
				if err != nil {
					return nil, err
				}
				defer rc.Close()
				return io.ReadAll(rc)
			}
		}
	default:
		var r io.Reader = bytes.NewReader(data)
		switch {
		case strings.HasSuffix(filename, ".tar.gz"), strings.HasSuffix(filename, ".tgz"):
			gz, err := gzip.NewReader(r)
			if err != nil {
				return nil, errors.Wrap(errors.ErrCodeParse, err, "invalid sdist %s", filename)
			}
			defer gz.Close()
			r = gz
		case strings.HasSuffix(filename, ".tar.bz2"):
			r = bzip2.NewReader(r)
		}
		tr := tar.NewReader(r)
		for {
			hdr, err := tr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, errors.Wrap(errors.ErrCodeParse, err, "invalid sdist %s", filename)
			}
			if isTopLevelPKGInfo(hdr.Name) {
				return io.ReadAll(tr)
			}
		}
	}
	return nil, errors.New(errors.ErrCodeParse, "sdist %s has no PKG-INFO", filename)
}

func isTopLevelPKGInfo(name string) bool {
	name = strings.TrimPrefix(name, "./")
	dir, base := path.Split(name)
	return base == "PKG-INFO" && strings.Count(dir, "/") == 1
}

// ReadArtifactMetadata reads the core metadata of a wheel or sdist on disk.
func ReadArtifactMetadata(p string) (*Metadata, *Filename, error) {
	fn, err := ParseFilename(path.Base(strings.ReplaceAll(p, "\\", "/")))
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, nil, err
	}
	raw, err := ArtifactMetadata(fn, data)
	if err != nil {
		return nil, nil, err
	}
	md, err := ParseMetadata(raw)
	if err != nil {
		return nil, nil, err
	}
	return md, fn, nil
}

// ArtifactMetadata returns the raw core metadata contained in an artifact.
func ArtifactMetadata(fn *Filename, data []byte) ([]byte, error) {
	if fn.Kind == KindWheel {
		return WheelMetadata(bytes.NewReader(data), int64(len(data)))
	}
	return SdistMetadata(fn.Raw, data)
}
