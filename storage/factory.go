package storage

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/mandelsoft/vfs/pkg/osfs"
	"github.com/mandelsoft/vfs/pkg/projectionfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
)

// Factory creates the storage for a repository at location.
type Factory interface {
	NewStorage(id, location string) (Storage, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(id, location string) (Storage, error)

func (f FactoryFunc) NewStorage(id, location string) (Storage, error) {
	return f(id, location)
}

// OSFactory stores repositories on the local disk. Relative locations are
// resolved against BaseDir.
type OSFactory struct {
	BaseDir string
}

func (f OSFactory) NewStorage(id, location string) (Storage, error) {
	dir, err := LocalPath(location)
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(dir) && f.BaseDir != "" {
		dir = filepath.Join(f.BaseDir, dir)
	}
	base := osfs.New()
	if err := base.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage for %s at %s: %w", id, dir, err)
	}
	fs, err := projectionfs.New(base, dir)
	if err != nil {
		return nil, fmt.Errorf("creating storage for %s at %s: %w", id, dir, err)
	}
	return NewFilesystemStorage(id, location, fs), nil
}

// MemoryFactory keeps repository data in memory. Storages opened for the
// same location share their content, mirroring what a disk would do.
type MemoryFactory struct {
	mu  sync.Mutex
	fss map[string]vfs.FileSystem
}

// NewMemoryFactory returns an empty in-memory factory.
func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{fss: make(map[string]vfs.FileSystem)}
}

func (f *MemoryFactory) NewStorage(id, location string) (Storage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fs, ok := f.fss[location]
	if !ok {
		fs = memoryfs.New()
		f.fss[location] = fs
	}
	return NewFilesystemStorage(id, location, fs), nil
}

// LocalPath turns a location, either a file URI or a plain path, into a
// filesystem path.
func LocalPath(location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("empty storage location")
	}
	if !strings.Contains(location, "://") {
		return filepath.FromSlash(location), nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parsing location %q: %w", location, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported storage scheme %q", u.Scheme)
	}
	return filepath.FromSlash(u.Path), nil
}
