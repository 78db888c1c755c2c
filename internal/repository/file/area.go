// Package file stores a named area as a JSON file on local disk.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/and161185/consent-keeper/internal/errs"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Area is one file, <dir>/<name>.json. Writes go through a temp file and a
// rename so a crash never leaves a half-written map behind.
type Area struct {
	path string
}

// New constructs an area; dir is created on first Store.
func New(dir, name string) (*Area, error) {
	if dir == "" {
		return nil, errors.New("validation: empty directory")
	}
	if !validName.MatchString(name) {
		return nil, fmt.Errorf("validation: bad area name %q", name)
	}
	return &Area{path: filepath.Join(dir, name+".json")}, nil
}

// Path returns the backing file.
func (a *Area) Path() string { return a.path }

// Load reads the file; a missing file is errs.ErrNotFound.
func (a *Area) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(a.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errs.ErrNotFound
	}
	return b, err
}

// Store replaces the file contents.
func (a *Area) Store(ctx context.Context, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(a.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(a.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), a.path)
}
