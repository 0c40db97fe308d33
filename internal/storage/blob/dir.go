package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"slices"

	"github.com/maruel/avatardb/internal/storage"
)

const tmpDirName = ".tmp"

// Dir stores each blob as a file in a directory. Writes go to a temporary
// file first and are renamed in place so readers never see a partial blob.
type Dir struct {
	dir string
}

// NewDir returns a store rooted at dir, creating it if needed.
func NewDir(dir string) (*Dir, error) {
	if err := os.MkdirAll(filepath.Join(dir, tmpDirName), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &Dir{dir: dir}, nil
}

// Put implements storage.BlobStore. The content type is implied by the key
// extension.
func (d *Dir) Put(ctx context.Context, key string, data []byte, _ string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return storage.Unavailable("blob put", err)
	}
	f, err := os.CreateTemp(filepath.Join(d.dir, tmpDirName), "*.tmp")
	if err != nil {
		return storage.Unavailable("blob put", fmt.Errorf("failed to create temp file: %w", err))
	}
	tmp := f.Name()
	_, err = f.Write(data)
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err == nil {
		err = os.Rename(tmp, filepath.Join(d.dir, key))
	}
	if err != nil {
		return storage.Unavailable("blob put", errors.Join(err, os.Remove(tmp)))
	}
	return nil
}

// Delete implements storage.BlobStore.
func (d *Dir) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return storage.Unavailable("blob delete", err)
	}
	if err := os.Remove(filepath.Join(d.dir, key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storage.Unavailable("blob delete", err)
	}
	return nil
}

// List implements storage.BlobLister.
func (d *Dir) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Unavailable("blob list", err)
	}
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, storage.Unavailable("blob list", err)
	}
	var keys []string
	for _, e := range entries {
		if e.Type().IsRegular() && validKey(e.Name()) == nil {
			keys = append(keys, e.Name())
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// Open returns the blob content and its content type.
func (d *Dir) Open(key string) (io.ReadSeekCloser, string, error) {
	if err := validKey(key); err != nil {
		return nil, "", err
	}
	f, err := os.Open(filepath.Join(d.dir, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", storage.NotFoundf("blob %q", key)
		}
		return nil, "", storage.Unavailable("blob open", err)
	}
	ct := mime.TypeByExtension(filepath.Ext(key))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return f, ct, nil
}

var (
	_ storage.BlobStore  = (*Dir)(nil)
	_ storage.BlobLister = (*Dir)(nil)
)
