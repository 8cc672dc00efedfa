package blob

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pliu/nwitter/internal/apperr"
)

// Dir stores blobs as files under a root directory. URLs are the path
// appended to PublicURL; Handler serves them.
type Dir struct {
	root      string
	publicURL string
}

func NewDir(root, publicURL string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Dir{root: root, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

func (d *Dir) file(p string) (string, string, error) {
	p, err := Clean(p)
	if err != nil {
		return "", "", err
	}
	return p, filepath.Join(d.root, filepath.FromSlash(p)), nil
}

func (d *Dir) Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) error {
	const op = "blob.Dir.Put"
	_, name, err := d.file(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return apperr.E(apperr.Fatal, op, err)
	}

	// Write to a temp file first so a failed upload never replaces a good one.
	tmp, err := os.CreateTemp(filepath.Dir(name), ".upload-*")
	if err != nil {
		return apperr.E(apperr.Fatal, op, err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return apperr.E(apperr.Fatal, op, err)
	}
	if size >= 0 && n != size {
		return apperr.Errorf(apperr.Invalid, op, "expected %d bytes, got %d", size, n)
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		return apperr.E(apperr.Fatal, op, err)
	}
	return nil
}

func (d *Dir) URL(ctx context.Context, path string) (string, error) {
	p, name, err := d.file(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(name); err != nil {
		return "", fsError("blob.Dir.URL", err)
	}
	return d.publicURL + "/" + p, nil
}

func (d *Dir) Delete(ctx context.Context, path string) error {
	_, name, err := d.file(path)
	if err != nil {
		return err
	}
	return fsError("blob.Dir.Delete", os.Remove(name))
}

// Handler serves stored files. Mount it under the PublicURL prefix with
// the prefix stripped.
func (d *Dir) Handler() http.Handler {
	return http.FileServer(http.Dir(d.root))
}

func fsError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return apperr.E(apperr.NotFound, op, err)
	}
	return apperr.E(apperr.Fatal, op, err)
}
