package lockfile

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/stacklock/pkg/errors"
)

const header = "# This file is generated by stacklock. Do not edit it by hand.\n\n"

// ReadFile reads and parses the lock at path. A missing file is a NOT_FOUND
// error.
func ReadFile(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeNotFound, "no lock file at %s", path)
		}
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "read lock file")
	}
	return Parse(data)
}

// Parse parses lock file content.
func Parse(data []byte) (*Lock, error) {
	var l Lock
	if _, err := toml.Decode(string(data), &l); err != nil {
		return nil, errors.Wrap(errors.ErrCodeParse, err, "invalid lock file")
	}
	if l.Metadata.LockVersion == "" {
		return nil, errors.New(errors.ErrCodeParse, "invalid lock file: missing metadata.lock_version")
	}
	if l.Manifest.Groups == nil {
		l.Manifest.Groups = map[string][]string{}
	}
	if err := l.CheckMarkers(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeParse, err, "invalid lock file")
	}
	return &l, nil
}

// Marshal encodes the lock. Equal locks encode to identical bytes.
func (l *Lock) Marshal() ([]byte, error) {
	l.normalize()
	var buf bytes.Buffer
	buf.WriteString(header)
	enc := toml.NewEncoder(&buf)
	enc.Indent = ""
	if err := enc.Encode(l); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "encode lock file")
	}
	return buf.Bytes(), nil
}

// WriteFile writes the lock to path. The content goes to a temporary file
// in the same directory first and replaces path in one rename, so readers
// see either the old or the new lock.
func (l *Lock) WriteFile(path string) error {
	data, err := l.Marshal()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidPath, err, "write lock file")
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(errors.ErrCodeInvalidPath, err, "write lock file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(errors.ErrCodeInvalidPath, err, "write lock file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidPath, err, "write lock file")
	}
	if err := os.Chmod(name, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidPath, err, "write lock file")
	}
	if err := os.Rename(name, path); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidPath, err, "replace lock file")
	}
	return nil
}

// Exists reports whether a lock file exists at path.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
