package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sentinel/internal/fileutil"
	"sentinel/internal/services"
)

// Filesystem keeps artifacts under a root directory.
type Filesystem struct {
	root string
	now  func() time.Time
}

// NewFilesystem returns a filesystem backend rooted at dir, creating it if needed.
func NewFilesystem(dir string) (*Filesystem, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "new filesystem", "object directory is required", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrInfrastructure, "objectstore", "new filesystem", "create root", err)
	}
	return &Filesystem{root: dir, now: time.Now}, nil
}

// Put writes data atomically and returns its fs:// handle.
func (f *Filesystem) Put(ctx context.Context, data []byte, _ Metadata) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := newKey(f.now())
	if err := fileutil.WriteFileAtomic(filepath.Join(f.root, filepath.FromSlash(key)), data, 0o644); err != nil {
		return "", services.Wrap(services.ErrInfrastructure, "objectstore", "put", key, err)
	}
	return Handle(schemeFilesystem + "://" + key), nil
}

// Get reads the artifact referenced by handle.
func (f *Filesystem) Get(ctx context.Context, handle Handle) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scheme, _, key, err := ParseHandle(handle)
	if err != nil {
		return nil, err
	}
	if scheme != schemeFilesystem {
		return nil, services.Invalid("artifact_handle", fmt.Sprintf("filesystem backend cannot read %s handles", scheme))
	}
	data, err := os.ReadFile(filepath.Join(f.root, filepath.FromSlash(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, services.Wrap(services.ErrNotFound, "objectstore", "get", string(handle), nil)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrInfrastructure, "objectstore", "get", string(handle), err)
	}
	return data, nil
}
