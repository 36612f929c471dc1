package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileBackend stores each collection as <dir>/<name>.json. Writes go to a
// temporary file in the same directory which is synced and renamed over the
// old one, so readers never observe a half-written collection.
type FileBackend struct {
	dir string
}

// NewFileBackend stores each collection as <dir>/<name>.json, creating dir
// if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) Dir() string { return b.dir }

func (b *FileBackend) path(name string) string {
	return filepath.Join(b.dir, name+".json")
}

func (b *FileBackend) Load(_ context.Context, name string) (Collection, error) {
	data, err := os.ReadFile(b.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return Collection{}, nil
	}
	if err != nil {
		return Collection{}, fmt.Errorf("read %s: %w", name, err)
	}
	c, err := decodeCollection(data)
	if err != nil {
		return Collection{}, fmt.Errorf("decode %s: %w", name, err)
	}
	return c, nil
}

// Save writes to a temp file and renames it over the old one.
func (b *FileBackend) Save(_ context.Context, name string, c Collection) (err error) {
	data, err := encodeCollection(c)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(b.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err = os.Rename(tmp.Name(), b.path(name)); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

func (b *FileBackend) Close() error { return nil }
