package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/natefinch/atomic"
)

// FS stores objects as files under a root directory, one file per key
// with `/` separators mapped to the platform's. Writes go through a
// temp file and rename so readers never observe partial objects.
// Content types are not persisted; the tree is a development driver.
type FS struct {
	root string
}

var _ Adapter = (*FS)(nil)

// NewFS returns a filesystem store rooted at dir, creating it if
// needed.
func NewFS(dir string) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("objstore: create root %s: %w", dir, err)
	}

	return &FS{root: dir}, nil
}

// path maps an object key onto the tree, rejecting keys that would
// escape the root.
func (f *FS) path(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty key")
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("unsafe key %q", key)
		}
	}

	return filepath.Join(f.root, filepath.FromSlash(key)), nil
}

func (f *FS) Put(ctx context.Context, key string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return &AdapterError{Op: "put", Key: key, Err: err}
	}

	path, err := f.path(key)
	if err != nil {
		return &AdapterError{Op: "put", Key: key, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &AdapterError{Op: "put", Key: key, Err: err}
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return &AdapterError{Op: "put", Key: key, Err: err}
	}

	return nil
}

func (f *FS) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &AdapterError{Op: "get", Key: key, Err: err}
	}

	path, err := f.path(key)
	if err != nil {
		return nil, &AdapterError{Op: "get", Key: key, Err: err}
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &AdapterError{Op: "get", Key: key, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &AdapterError{Op: "get", Key: key, Err: err}
	}

	return data, nil
}

func (f *FS) Head(ctx context.Context, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, &AdapterError{Op: "head", Key: key, Err: err}
	}

	path, err := f.path(key)
	if err != nil {
		return ObjectInfo{}, &AdapterError{Op: "head", Key: key, Err: err}
	}

	st, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ObjectInfo{}, &AdapterError{Op: "head", Key: key, Err: ErrNotFound}
	}
	if err != nil {
		return ObjectInfo{}, &AdapterError{Op: "head", Key: key, Err: err}
	}

	return ObjectInfo{Key: key, Size: st.Size(), LastModified: st.ModTime().UTC()}, nil
}

// List walks the tree and returns objects whose slash-form key starts
// with prefix, sorted by key. The walk checks for cancellation between
// entries.
func (f *FS) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var infos []ObjectInfo

	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		st, err := d.Info()
		if err != nil {
			return err
		}
		infos = append(infos, ObjectInfo{Key: key, Size: st.Size(), LastModified: st.ModTime().UTC()})

		return nil
	})
	if err != nil {
		return nil, &AdapterError{Op: "list", Key: prefix, Err: err}
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })

	return infos, nil
}

func (f *FS) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return &AdapterError{Op: "delete", Key: key, Err: err}
	}

	path, err := f.path(key)
	if err != nil {
		return &AdapterError{Op: "delete", Key: key, Err: err}
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &AdapterError{Op: "delete", Key: key, Err: err}
	}

	return nil
}

func (f *FS) DeleteAll(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := f.Delete(ctx, key); err != nil {
			return err
		}
	}

	return nil
}
