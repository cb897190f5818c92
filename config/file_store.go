package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"github.com/mandelsoft/vfs/pkg/osfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"gopkg.in/yaml.v3"
)

// FileStore persists the configuration as a YAML document. Writes go to a
// temporary file in the same directory which is then renamed over the target,
// so readers never see a partial document.
type FileStore struct {
	listeners

	fs   vfs.FileSystem
	path string
	log  logr.Logger

	mu          sync.Mutex
	cfg         *Configuration
	lastWritten []byte
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithFileSystem sets the filesystem the store reads and writes. Watch only
// works with the OS filesystem.
func WithFileSystem(fs vfs.FileSystem) FileStoreOption {
	return func(s *FileStore) {
		s.fs = fs
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(log logr.Logger) FileStoreOption {
	return func(s *FileStore) {
		s.log = log
	}
}

// NewFileStore opens the configuration at path. A missing file yields an
// empty configuration.
func NewFileStore(path string, opts ...FileStoreOption) (*FileStore, error) {
	s := &FileStore{
		fs:   osfs.New(),
		path: path,
		log:  logr.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	cfg, _, err := s.read()
	if err != nil {
		return nil, err
	}
	s.cfg = cfg
	return s, nil
}

// Path returns the location of the configuration file.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) read() (*Configuration, []byte, error) {
	data, err := vfs.ReadFile(s.fs, s.path)
	if err != nil {
		if vfs.IsErrNotExist(err) {
			return &Configuration{}, nil, nil
		}
		return nil, nil, fmt.Errorf("reading %s: %w", s.path, err)
	}
	cfg := &Configuration{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	return cfg, data, nil
}

func (s *FileStore) Configuration() *Configuration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Copy()
}

func (s *FileStore) Save(ctx context.Context, cfg *Configuration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return errors.Join(ErrSave, err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Join(ErrSave, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeAtomic(data); err != nil {
		return errors.Join(ErrSave, err)
	}
	s.cfg = cfg.Copy()
	s.lastWritten = data
	return nil
}

func (s *FileStore) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := vfs.TempFile(s.fs, dir, ".repositories-*.yaml")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return err
	}
	if err := replaceFile(s.fs, tmpName, s.path); err != nil {
		_ = s.fs.Remove(tmpName)
		return err
	}
	return nil
}

// replaceFile renames src over dst. Filesystems that refuse to rename onto an
// existing name get dst removed first.
func replaceFile(fs vfs.FileSystem, src, dst string) error {
	err := fs.Rename(src, dst)
	if err == nil {
		return nil
	}
	if _, statErr := fs.Stat(dst); statErr != nil {
		return err
	}
	if rmErr := fs.Remove(dst); rmErr != nil {
		return err
	}
	return fs.Rename(src, dst)
}

// Reload rereads the file. It reports whether the content differed from what
// the store last saw, and notifies listeners if so.
func (s *FileStore) Reload(ctx context.Context) (bool, error) {
	cfg, data, err := s.read()
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if bytes.Equal(data, s.lastWritten) {
		s.mu.Unlock()
		return false, nil
	}
	s.cfg = cfg
	s.lastWritten = data
	s.mu.Unlock()

	s.notify(ctx, ChangeEvent{Source: s.path})
	return true, nil
}

// Watch observes the configuration file until ctx is done and reloads it on
// external modification. Changes written by Save itself are ignored.
func (s *FileStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory: editors and Save both replace the file by rename.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watching %s: %w", s.path, err)
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			changed, err := s.Reload(ctx)
			if err != nil {
				s.log.Error(err, "reloading configuration", "path", s.path)
				continue
			}
			if changed {
				s.log.Info("configuration changed on disk", "path", s.path)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Error(err, "configuration watcher")
		}
	}
}
