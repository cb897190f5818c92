package storage

import (
	"fmt"
	"io"
	"os"
	"path"
	"sync/atomic"

	"github.com/mandelsoft/vfs/pkg/vfs"
)

// TempDir is the storage relative directory holding temporary assets.
const TempDir = "/.tmp"

// FilesystemStorage implements Storage on top of a virtual filesystem rooted
// at the repository location.
type FilesystemStorage struct {
	id       string
	location string
	fs       vfs.FileSystem
	locks    *PathLocks
	closed   atomic.Bool
}

// NewFilesystemStorage wraps fs, whose root is the storage root.
func NewFilesystemStorage(id, location string, fs vfs.FileSystem) *FilesystemStorage {
	return &FilesystemStorage{
		id:       id,
		location: location,
		fs:       fs,
		locks:    NewPathLocks(),
	}
}

func (s *FilesystemStorage) ID() string {
	return s.id
}

func (s *FilesystemStorage) Location() string {
	return s.location
}

// FileSystem exposes the underlying filesystem.
func (s *FilesystemStorage) FileSystem() vfs.FileSystem {
	return s.fs
}

func (s *FilesystemStorage) Asset(p string) *Asset {
	return &Asset{path: Clean(p), storage: s}
}

func (s *FilesystemStorage) own(a *Asset) (*Asset, error) {
	if a == nil {
		return nil, fmt.Errorf("%s: nil asset", s.id)
	}
	if a.storage != s {
		// Handles from another storage are reinterpreted by path.
		return s.Asset(a.path), nil
	}
	return a, nil
}

func (s *FilesystemStorage) check() error {
	if s.closed.Load() {
		return fmt.Errorf("%s: %w", s.id, ErrClosed)
	}
	return nil
}

func (s *FilesystemStorage) AddAsset(p string, container bool) (*Asset, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	a := s.Asset(p)
	if container {
		if err := s.fs.MkdirAll(a.path, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", a, err)
		}
		return a, nil
	}
	if err := s.fs.MkdirAll(path.Dir(a.path), 0o755); err != nil {
		return nil, fmt.Errorf("creating parent of %s: %w", a, err)
	}
	if !a.Exists() {
		f, err := s.fs.Create(a.path)
		if err != nil {
			return nil, fmt.Errorf("creating %s: %w", a, err)
		}
		if err := f.Close(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (s *FilesystemStorage) RemoveAsset(a *Asset, writeLock bool) error {
	if err := s.check(); err != nil {
		return err
	}
	a, err := s.own(a)
	if err != nil {
		return err
	}
	if writeLock {
		defer s.locks.Lock(a.path)()
	}
	if err := s.fs.RemoveAll(a.path); err != nil {
		return fmt.Errorf("removing %s: %w", a, err)
	}
	return nil
}

func (s *FilesystemStorage) MoveAsset(src *Asset, dst string, writeLock bool) (*Asset, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	src, err := s.own(src)
	if err != nil {
		return nil, err
	}
	target := s.Asset(dst)
	if writeLock {
		defer s.locks.Lock(target.path)()
	}
	if !src.Exists() {
		return nil, fmt.Errorf("moving %s: %w", src, ErrAssetNotFound)
	}
	if err := s.fs.MkdirAll(path.Dir(target.path), 0o755); err != nil {
		return nil, fmt.Errorf("creating parent of %s: %w", target, err)
	}
	if err := s.rename(src.path, target.path); err == nil {
		return target, nil
	}
	if src.IsContainer() {
		return nil, fmt.Errorf("moving container %s to %s: rename failed", src, target)
	}
	// Copy to a sibling first so the target is never seen half written.
	if err := s.copyFile(src.path, target.path); err != nil {
		return nil, fmt.Errorf("moving %s to %s: %w", src, target, err)
	}
	if err := s.fs.Remove(src.path); err != nil {
		return nil, fmt.Errorf("removing moved %s: %w", src, err)
	}
	return target, nil
}

func (s *FilesystemStorage) CopyAsset(src *Asset, dst string, writeLock bool) (*Asset, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	src, err := s.own(src)
	if err != nil {
		return nil, err
	}
	target := s.Asset(dst)
	if writeLock {
		defer s.locks.Lock(target.path)()
	}
	if !src.Exists() {
		return nil, fmt.Errorf("copying %s: %w", src, ErrAssetNotFound)
	}
	if src.IsContainer() {
		return nil, fmt.Errorf("copying %s: %w", src, ErrContainer)
	}
	if err := s.fs.MkdirAll(path.Dir(target.path), 0o755); err != nil {
		return nil, fmt.Errorf("creating parent of %s: %w", target, err)
	}
	if err := s.copyFile(src.path, target.path); err != nil {
		return nil, fmt.Errorf("copying %s to %s: %w", src, target, err)
	}
	return target, nil
}

// copyFile copies src next to dst and renames the copy into place.
func (s *FilesystemStorage) copyFile(src, dst string) error {
	tmp, err := s.tempFile(path.Dir(dst), "."+path.Base(dst)+".part")
	if err != nil {
		return err
	}
	if err := vfs.CopyFile(s.fs, src, s.fs, tmp); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	if err := s.rename(tmp, dst); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	return nil
}

// rename replaces dst with src, removing dst first on filesystems that refuse
// to rename onto an existing file.
func (s *FilesystemStorage) rename(src, dst string) error {
	err := s.fs.Rename(src, dst)
	if err == nil {
		return nil
	}
	fi, statErr := s.fs.Stat(dst)
	if statErr != nil || fi.IsDir() {
		return err
	}
	if err := s.fs.Remove(dst); err != nil {
		return err
	}
	return s.fs.Rename(src, dst)
}

func (s *FilesystemStorage) ConsumeData(a *Asset, fn func(io.Reader) error, readLock bool) error {
	if err := s.check(); err != nil {
		return err
	}
	a, err := s.own(a)
	if err != nil {
		return err
	}
	if readLock {
		defer s.locks.RLock(a.path)()
	}
	f, err := s.fs.Open(a.path)
	if err != nil {
		if vfs.IsErrNotExist(err) {
			return fmt.Errorf("reading %s: %w", a, ErrAssetNotFound)
		}
		return fmt.Errorf("reading %s: %w", a, err)
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return fmt.Errorf("reading %s: %w", a, ErrContainer)
	}
	return fn(f)
}

func (s *FilesystemStorage) WriteData(a *Asset, fn func(io.Writer) error, writeLock bool) error {
	if err := s.check(); err != nil {
		return err
	}
	a, err := s.own(a)
	if err != nil {
		return err
	}
	if writeLock {
		defer s.locks.Lock(a.path)()
	}
	dir := path.Dir(a.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating parent of %s: %w", a, err)
	}
	tmp, err := s.tempFile(dir, "."+a.Name()+".part")
	if err != nil {
		return err
	}
	f, err := s.fs.OpenFile(tmp, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	if err := s.rename(tmp, a.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("publishing %s: %w", a, err)
	}
	return nil
}

func (s *FilesystemStorage) TempAsset(pattern string) (*Asset, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := s.fs.MkdirAll(TempDir, 0o755); err != nil {
		return nil, err
	}
	name, err := s.tempFile(TempDir, pattern)
	if err != nil {
		return nil, err
	}
	return s.Asset(name), nil
}

func (s *FilesystemStorage) tempFile(dir, pattern string) (string, error) {
	f, err := vfs.TempFile(s.fs, dir, pattern)
	if err != nil {
		return "", fmt.Errorf("creating temporary file in %s: %w", dir, err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		return "", err
	}
	// Some filesystems report the name relative to dir.
	if !path.IsAbs(name) {
		name = path.Join(dir, path.Base(name))
	}
	return name, nil
}

func (s *FilesystemStorage) children(a *Asset) ([]*Asset, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	infos, err := vfs.ReadDir(s.fs, a.path)
	if err != nil {
		if vfs.IsErrNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", a, err)
	}
	out := make([]*Asset, 0, len(infos))
	for _, fi := range infos {
		out = append(out, s.Asset(path.Join(a.path, fi.Name())))
	}
	return out, nil
}

func (s *FilesystemStorage) Lock(p string) func() {
	return s.locks.Lock(Clean(p))
}

func (s *FilesystemStorage) RLock(p string) func() {
	return s.locks.RLock(Clean(p))
}

// Close marks the storage closed and clears leftover temporary files.
// Closing twice is harmless.
func (s *FilesystemStorage) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.fs.RemoveAll(TempDir); err != nil && !vfs.IsErrNotExist(err) {
		return fmt.Errorf("%s: cleaning temporary files: %w", s.id, err)
	}
	return nil
}
