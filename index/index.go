// Package index manages the lifecycle of repository search index directories
// and the merged indexes of repository groups. The index content itself is
// produced elsewhere; this package only provisions, describes and releases
// the directories.
package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/git-pkgs/repositories/config"
	"github.com/git-pkgs/repositories/internal/core"
	"github.com/git-pkgs/repositories/storage"
)

// DescriptorFile is written into every index directory. A merged group index
// keeps its own descriptor next to it.
const (
	DescriptorFile       = "index.yaml"
	MergedDescriptorFile = "merged.yaml"
)

var ErrNoStorage = errors.New("repository has no storage")

// Descriptor identifies the owner of an index directory.
type Descriptor struct {
	ContextID    string    `yaml:"contextId"`
	RepositoryID string    `yaml:"repositoryId"`
	Type         string    `yaml:"type"`
	Created      time.Time `yaml:"created"`
	Updated      time.Time `yaml:"updated"`
	Members      []string  `yaml:"members,omitempty"`
}

// Context is the indexing context of one repository.
type Context struct {
	id     string
	repoID string
	dir    string
	st     storage.Storage

	mu     sync.Mutex
	closed bool
}

func (c *Context) ID() string           { return c.id }
func (c *Context) RepositoryID() string { return c.repoID }
func (c *Context) Path() string         { return c.dir }

// Close releases the context. The directory stays in place.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// DirectoryManager implements core.IndexManager with one directory per
// repository, below the path of its index creation feature.
type DirectoryManager struct {
	log logr.Logger
	now func() time.Time
}

// Option configures a DirectoryManager.
type Option func(*DirectoryManager)

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(m *DirectoryManager) {
		m.log = log
	}
}

// NewDirectoryManager returns a manager.
func NewDirectoryManager(opts ...Option) *DirectoryManager {
	m := &DirectoryManager{log: logr.Discard(), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func indexDir(repo *core.Repository) string {
	if f, err := core.FeatureOf[core.IndexCreationFeature](repo); err == nil && f.IndexPath != "" {
		return storage.Clean(f.IndexPath)
	}
	return storage.Clean(config.DefaultIndexPath)
}

func (m *DirectoryManager) CreateContext(ctx context.Context, repo *core.Repository) (core.IndexingContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := repo.Storage()
	if st == nil {
		return nil, fmt.Errorf("creating index for %s: %w", repo.ID(), ErrNoStorage)
	}
	dir := indexDir(repo)
	if _, err := st.AddAsset(dir, true); err != nil {
		return nil, fmt.Errorf("creating index for %s: %w", repo.ID(), err)
	}
	ic := &Context{id: uuid.NewString(), repoID: repo.ID(), dir: dir, st: st}

	desc, err := ReadDescriptor(st, dir)
	now := m.now().UTC()
	if err != nil {
		desc = &Descriptor{Created: now}
	}
	desc.ContextID = ic.id
	desc.RepositoryID = repo.ID()
	desc.Type = repo.Type()
	desc.Updated = now
	if err := writeDescriptor(st, dir, desc); err != nil {
		return nil, fmt.Errorf("creating index for %s: %w", repo.ID(), err)
	}
	m.log.V(1).Info("index context created", "repository", repo.ID(), "path", dir)
	return ic, nil
}

func (m *DirectoryManager) Reset(ctx context.Context, ic core.IndexingContext) (core.IndexingContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, ok := ic.(*Context)
	if !ok {
		return nil, fmt.Errorf("foreign indexing context %s", ic.ID())
	}
	if err := c.st.RemoveAsset(c.st.Asset(c.dir), true); err != nil {
		return nil, fmt.Errorf("resetting index of %s: %w", c.repoID, err)
	}
	if _, err := c.st.AddAsset(c.dir, true); err != nil {
		return nil, fmt.Errorf("resetting index of %s: %w", c.repoID, err)
	}
	now := m.now().UTC()
	next := &Context{id: uuid.NewString(), repoID: c.repoID, dir: c.dir, st: c.st}
	desc := &Descriptor{ContextID: next.id, RepositoryID: c.repoID, Created: now, Updated: now}
	if err := writeDescriptor(c.st, c.dir, desc); err != nil {
		return nil, err
	}
	_ = c.Close()
	return next, nil
}

func (m *DirectoryManager) Move(ctx context.Context, ic core.IndexingContext, repo *core.Repository) (core.IndexingContext, error) {
	next, err := m.CreateContext(ctx, repo)
	if err != nil {
		return nil, err
	}
	if err := ic.Close(); err != nil {
		m.log.Error(err, "closing moved index context", "repository", ic.RepositoryID())
	}
	return next, nil
}

func (m *DirectoryManager) Close(ctx context.Context, ic core.IndexingContext) error {
	return ic.Close()
}

// ReadDescriptor loads the descriptor stored in dir.
func ReadDescriptor(st storage.Storage, dir string) (*Descriptor, error) {
	return readDescriptor(st, path.Join(dir, DescriptorFile))
}

// ReadMergedDescriptor loads the descriptor of a group's merged index.
func ReadMergedDescriptor(group *core.Repository) (*Descriptor, error) {
	st := group.Storage()
	if st == nil {
		return nil, ErrNoStorage
	}
	return readDescriptor(st, path.Join(MergedDir(group), MergedDescriptorFile))
}

func readDescriptor(st storage.Storage, file string) (*Descriptor, error) {
	var desc Descriptor
	err := st.ConsumeData(st.Asset(file), func(r io.Reader) error {
		return yaml.NewDecoder(r).Decode(&desc)
	}, true)
	if err != nil {
		return nil, err
	}
	return &desc, nil
}

func writeDescriptor(st storage.Storage, dir string, desc *Descriptor) error {
	return writeDescriptorFile(st, path.Join(dir, DescriptorFile), desc)
}

func writeDescriptorFile(st storage.Storage, file string, desc *Descriptor) error {
	data, err := yaml.Marshal(desc)
	if err != nil {
		return err
	}
	return st.WriteData(st.Asset(file), func(w io.Writer) error {
		_, err := io.Copy(w, bytes.NewReader(data))
		return err
	}, true)
}

var _ core.IndexManager = (*DirectoryManager)(nil)
