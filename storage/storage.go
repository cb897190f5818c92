// Package storage provides byte level access to the assets below a
// repository's base location.
//
// Paths are slash separated and relative to the storage root. Every operation
// that reads or writes data takes a flag saying whether the per-path lock must
// be held; callers that already hold the lock for a wider critical section pass
// false.
package storage

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

var (
	// ErrClosed is returned by every operation on a closed storage.
	ErrClosed = errors.New("storage closed")

	// ErrAssetNotFound is returned when an asset that must exist does not.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrContainer is returned when file data is requested from a directory.
	ErrContainer = errors.New("asset is a container")
)

// Storage is the contract every repository storage implements.
type Storage interface {
	// ID identifies the owning repository.
	ID() string

	// Location is the URI of the storage root.
	Location() string

	// Asset returns a handle for p. The asset does not need to exist.
	Asset(p string) *Asset

	// AddAsset creates p as an empty file or, if container is set, a
	// directory. Missing parents are created.
	AddAsset(p string, container bool) (*Asset, error)

	// RemoveAsset deletes the asset and everything below it.
	RemoveAsset(a *Asset, writeLock bool) error

	// MoveAsset moves src to dst, replacing dst. When a plain rename is not
	// possible the data is copied and src deleted afterwards.
	MoveAsset(src *Asset, dst string, writeLock bool) (*Asset, error)

	// CopyAsset copies src to dst, replacing dst.
	CopyAsset(src *Asset, dst string, writeLock bool) (*Asset, error)

	// ConsumeData passes the content of a to fn.
	ConsumeData(a *Asset, fn func(io.Reader) error, readLock bool) error

	// WriteData replaces the content of a with what fn writes. The new
	// content becomes visible only once fn returned without error.
	WriteData(a *Asset, fn func(io.Writer) error, writeLock bool) error

	// TempAsset creates an empty file outside the repository namespace
	// but on the same filesystem, so it can be moved into place.
	TempAsset(pattern string) (*Asset, error)

	// Lock takes the write lock for p.
	Lock(p string) (unlock func())

	// RLock takes the read lock for p.
	RLock(p string) (unlock func())

	Close() error
}

// Asset is a handle to a file or directory in a Storage.
type Asset struct {
	path    string
	storage *FilesystemStorage
}

// Path returns the normalized path, always starting with "/".
func (a *Asset) Path() string {
	return a.path
}

// Name returns the last path element.
func (a *Asset) Name() string {
	return path.Base(a.path)
}

// Parent returns the containing asset; the root is its own parent.
func (a *Asset) Parent() *Asset {
	return a.storage.Asset(path.Dir(a.path))
}

// Exists reports whether the asset is present.
func (a *Asset) Exists() bool {
	_, err := a.storage.fs.Stat(a.path)
	return err == nil
}

// IsContainer reports whether the asset is a directory.
func (a *Asset) IsContainer() bool {
	fi, err := a.storage.fs.Stat(a.path)
	return err == nil && fi.IsDir()
}

// Size returns the file size, or -1 when the asset is missing.
func (a *Asset) Size() int64 {
	fi, err := a.storage.fs.Stat(a.path)
	if err != nil {
		return -1
	}
	return fi.Size()
}

// ModTime returns the modification time, or the zero time when missing.
func (a *Asset) ModTime() time.Time {
	fi, err := a.storage.fs.Stat(a.path)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}

// Children lists the assets directly below a container.
func (a *Asset) Children() ([]*Asset, error) {
	return a.storage.children(a)
}

func (a *Asset) String() string {
	return fmt.Sprintf("%s:%s", a.storage.id, a.path)
}

// Clean normalizes a storage path.
func Clean(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return path.Clean("/" + p)
}
