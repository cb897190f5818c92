// Package registry keeps the authoritative set of runtime repositories and
// reconciles it with the persisted configuration.
//
// Every mutation runs under one write lock from the first map change to the
// configuration save. If any step fails the maps are put back the way they
// were, so readers only ever see committed states. Lifecycle events are
// published after the lock is released.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"

	"github.com/git-pkgs/repositories/config"
	"github.com/git-pkgs/repositories/internal/core"
	"github.com/git-pkgs/repositories/storage"
)

// Registry is the catalog of managed, remote and group repositories. All
// methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	managed map[string]*core.Repository
	remote  map[string]*core.Repository
	groups  map[string]*core.Repository

	store     config.Store
	providers map[string]core.Provider
	indexers  map[string]core.IndexManager
	handler   GroupHandler
	bus       core.EventBus
	log       logr.Logger

	listenOnce sync.Once
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(r *Registry) {
		r.log = log
	}
}

// WithStorageFactory builds every registered provider on sf.
func WithStorageFactory(sf storage.Factory) Option {
	return func(r *Registry) {
		for typ, p := range core.Providers(sf) {
			r.providers[typ] = p
		}
	}
}

// WithProvider installs p for its type, replacing a registered one.
func WithProvider(p core.Provider) Option {
	return func(r *Registry) {
		r.providers[p.Type()] = p
	}
}

// WithIndexManager sets the index manager for repositories of type typ.
func WithIndexManager(typ string, m core.IndexManager) Option {
	return func(r *Registry) {
		r.indexers[typ] = m
	}
}

// New returns an empty registry persisting to store. Call Initialize to load
// the stored configuration.
func New(store config.Store, opts ...Option) *Registry {
	r := &Registry{
		managed:   make(map[string]*core.Repository),
		remote:    make(map[string]*core.Repository),
		groups:    make(map[string]*core.Repository),
		store:     store,
		providers: make(map[string]core.Provider),
		indexers:  make(map[string]core.IndexManager),
		log:       logr.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if len(r.providers) == 0 {
		r.providers = core.Providers(storage.NewMemoryFactory())
	}
	r.handler = &plainGroups{log: r.log}
	return r
}

// AttachGroupHandler installs h as the manager of repository groups.
func (r *Registry) AttachGroupHandler(h GroupHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

// Configuration returns a copy of the persisted configuration.
func (r *Registry) Configuration() *config.Configuration {
	return r.store.Configuration()
}

// Provider returns the provider for a repository type.
func (r *Registry) Provider(typ string) (core.Provider, error) {
	if typ == "" {
		typ = config.DefaultRepositoryType
	}
	p, ok := r.providers[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownType, typ)
	}
	return p, nil
}

// Get returns the repository with id from any namespace, or nil.
func (r *Registry) Get(id string) *core.Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()
	repo, _ := r.lookup(id)
	return repo
}

// HasRepository reports whether id is registered in any namespace.
func (r *Registry) HasRepository(id string) bool {
	return r.Get(id) != nil
}

// Managed returns the managed repository with id, or nil.
func (r *Registry) Managed(id string) *core.Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.managed[id]
}

// Remote returns the remote repository with id, or nil.
func (r *Registry) Remote(id string) *core.Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.remote[id]
}

// Group returns the repository group with id, or nil.
func (r *Registry) Group(id string) *core.Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.groups[id]
}

// ManagedRepositories lists managed repositories by id.
func (r *Registry) ManagedRepositories() []*core.Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sorted(r.managed)
}

// RemoteRepositories lists remote repositories by id.
func (r *Registry) RemoteRepositories() []*core.Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sorted(r.remote)
}

// Groups lists repository groups by id.
func (r *Registry) Groups() []*core.Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sorted(r.groups)
}

// Repositories lists every repository by id.
func (r *Registry) Repositories() []*core.Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*core.Repository, 0, len(r.managed)+len(r.remote)+len(r.groups))
	all = append(all, sorted(r.managed)...)
	all = append(all, sorted(r.remote)...)
	all = append(all, sorted(r.groups)...)
	sort.Slice(all, func(i, j int) bool { return all[i].ID() < all[j].ID() })
	return all
}

func sorted(m map[string]*core.Repository) []*core.Repository {
	out := make([]*core.Repository, 0, len(m))
	for _, repo := range m {
		out = append(out, repo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// lookup finds id in any namespace. The caller holds the lock.
func (r *Registry) lookup(id string) (*core.Repository, core.Kind) {
	if repo, ok := r.managed[id]; ok {
		return repo, core.KindManaged
	}
	if repo, ok := r.remote[id]; ok {
		return repo, core.KindRemote
	}
	if repo, ok := r.groups[id]; ok {
		return repo, core.KindGroup
	}
	return nil, ""
}

func (r *Registry) checkConflict(id string, want core.Kind) error {
	if _, kind := r.lookup(id); kind != "" && kind != want {
		return &core.ConflictError{ID: id, Existing: kind, Wanted: want}
	}
	return nil
}

// managedLocked is handed to the group handler, which runs under the lock.
func (r *Registry) managedLocked(id string) *core.Repository {
	return r.managed[id]
}

// Register subscribes h to events of kind.
func (r *Registry) Register(kind core.EventKind, h core.EventHandler) core.Subscription {
	return r.bus.Register(kind, h)
}

// Unregister removes a subscription.
func (r *Registry) Unregister(sub core.Subscription) bool {
	return r.bus.Unregister(sub)
}

// HandleEvent re-publishes an event raised elsewhere, unless the registry
// itself is somewhere in its chain of causes.
func (r *Registry) HandleEvent(ev *core.Event) {
	if core.SameOriginator(ev, r) {
		return
	}
	r.bus.Publish(core.NewEvent(ev.Kind, r, ev.Repository, ev))
}

// tx collects what a mutation must undo if it cannot be committed, and what
// it publishes or releases if it can.
type tx struct {
	undo     []func()
	events   []*core.Event
	replaced []*core.Repository
}

func (t *tx) onRollback(f func()) {
	t.undo = append(t.undo, f)
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}

// mutate runs fn against a fresh configuration snapshot under the write lock
// and saves the snapshot. Any failure rolls back what fn did.
func (r *Registry) mutate(ctx context.Context, op, id string, fn func(t *tx, snap *config.Configuration) error) error {
	r.mu.Lock()
	snap := r.store.Configuration()
	t := &tx{}
	if err := fn(t, snap); err != nil {
		t.rollback()
		r.mu.Unlock()
		return err
	}
	if err := r.store.Save(ctx, snap); err != nil {
		t.rollback()
		r.mu.Unlock()
		r.log.Error(err, "configuration not saved, rolled back", "op", op, "repository", id)
		return &core.PersistenceError{Op: op, ID: id, Err: err}
	}
	for _, old := range t.replaced {
		if err := old.Close(); err != nil {
			r.log.Error(err, "closing replaced repository", "repository", old.ID())
		}
	}
	r.mu.Unlock()

	for _, ev := range t.events {
		r.bus.Publish(ev)
	}
	return nil
}

func eventKind(existed bool) core.EventKind {
	if existed {
		return core.EventUpdated
	}
	return core.EventRegistered
}

// PutManagedConfig creates the managed repository described by cfg, or
// updates the registered one in place.
func (r *Registry) PutManagedConfig(ctx context.Context, cfg *config.ManagedRepositoryConfiguration) (*core.Repository, error) {
	var repo *core.Repository
	err := r.mutate(ctx, "put", cfg.ID, func(t *tx, snap *config.Configuration) error {
		var err error
		repo, err = r.putManaged(ctx, t, snap, cfg.Copy(), nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// PutManaged registers repo. A different object registered under the same id
// is replaced and closed once the change is saved.
func (r *Registry) PutManaged(ctx context.Context, repo *core.Repository) (*core.Repository, error) {
	if repo.Kind() != core.KindManaged {
		return nil, fmt.Errorf("%s is not a managed repository", repo)
	}
	p, err := r.Provider(repo.Type())
	if err != nil {
		return nil, err
	}
	cfg, err := p.ManagedConfiguration(repo)
	if err != nil {
		return nil, err
	}
	err = r.mutate(ctx, "put", repo.ID(), func(t *tx, snap *config.Configuration) error {
		_, err := r.putManaged(ctx, t, snap, cfg, repo)
		return err
	})
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *Registry) putManaged(ctx context.Context, t *tx, snap *config.Configuration, cfg *config.ManagedRepositoryConfiguration, obj *core.Repository) (*core.Repository, error) {
	id := cfg.ID
	if err := r.checkConflict(id, core.KindManaged); err != nil {
		return nil, err
	}
	p, err := r.Provider(cfg.Type)
	if err != nil {
		return nil, err
	}

	existing := r.managed[id]
	follow := r.followIndex(ctx, t, existing)
	repo, err := r.swap(t, r.managed, id, existing, obj, func() (*core.Repository, error) {
		return p.CreateManaged(cfg)
	}, func(prev *config.Configuration) error {
		if pc := prev.ManagedRepository(id); pc != nil {
			return p.UpdateManaged(existing, pc)
		}
		return nil
	}, snap, func() error {
		return p.UpdateManaged(existing, cfg)
	})
	if err != nil {
		return nil, err
	}
	t.events = append(t.events, core.NewEvent(eventKind(existing != nil), r, repo, nil))

	if f, err := core.FeatureOf[core.StagingFeature](repo); err == nil && f.StageRepoNeeded {
		if r.managed[f.StagingRepositoryID] == nil {
			current, err := p.ManagedConfiguration(repo)
			if err != nil {
				return nil, err
			}
			if _, err := r.putManaged(ctx, t, snap, p.StagingConfiguration(current), nil); err != nil {
				return nil, &core.PersistenceError{Op: "stage", ID: id, Err: err}
			}
		}
	}
	if err := follow(repo); err != nil {
		return nil, &core.PersistenceError{Op: "index", ID: id, Err: err}
	}
	if err := r.ensureIndex(ctx, t, repo); err != nil {
		return nil, &core.PersistenceError{Op: "index", ID: id, Err: err}
	}

	out, err := p.ManagedConfiguration(repo)
	if err != nil {
		return nil, err
	}
	snap.PutManagedRepository(out)
	return repo, nil
}

// swap performs step one of every put: install obj, create a new object, or
// update the existing one in place, registering the matching undo.
func (r *Registry) swap(
	t *tx,
	m map[string]*core.Repository,
	id string,
	existing, obj *core.Repository,
	create func() (*core.Repository, error),
	restore func(prev *config.Configuration) error,
	snap *config.Configuration,
	update func() error,
) (*core.Repository, error) {
	switch {
	case obj != nil && obj != existing:
		m[id] = obj
		t.onRollback(func() {
			if existing != nil {
				m[id] = existing
			} else {
				delete(m, id)
			}
		})
		if existing != nil {
			t.replaced = append(t.replaced, existing)
		}
		return obj, nil

	case existing != nil:
		prev := snap.Copy()
		t.onRollback(func() {
			if err := restore(prev); err != nil {
				r.log.Error(err, "restoring previous configuration", "repository", id)
			}
		})
		if obj == nil {
			if err := update(); err != nil {
				return nil, err
			}
		}
		return existing, nil

	default:
		repo, err := create()
		if err != nil {
			return nil, err
		}
		m[id] = repo
		t.onRollback(func() {
			delete(m, id)
			_ = repo.Close()
		})
		return repo, nil
	}
}

func (r *Registry) ensureIndex(ctx context.Context, t *tx, repo *core.Repository) error {
	if !repo.Supports(core.FeatureIndexCreation) || repo.IndexingContext() != nil {
		return nil
	}
	im, ok := r.indexers[repo.Type()]
	if !ok {
		return nil
	}
	ic, err := im.CreateContext(ctx, repo)
	if err != nil {
		return err
	}
	repo.SetIndexingContext(ic)
	if t != nil {
		t.onRollback(func() {
			if repo.IndexingContext() == ic {
				repo.SetIndexingContext(nil)
			}
			_ = im.Close(ctx, ic)
		})
	}
	return nil
}

// indexHome is the storage and directory an indexing context lives in.
type indexHome struct {
	st  storage.Storage
	dir string
}

func homeOf(repo *core.Repository) indexHome {
	dir := config.DefaultIndexPath
	if f, err := core.FeatureOf[core.IndexCreationFeature](repo); err == nil && f.IndexPath != "" {
		dir = f.IndexPath
	}
	return indexHome{st: repo.Storage(), dir: storage.Clean(dir)}
}

// followIndex records where the indexing context of existing lives before
// it is updated in place. The returned function moves the context when the
// update changed its storage or directory. The undo is registered first so
// it runs after the previous configuration has been re-applied.
func (r *Registry) followIndex(ctx context.Context, t *tx, existing *core.Repository) func(repo *core.Repository) error {
	if existing == nil || existing.IndexingContext() == nil {
		return func(*core.Repository) error { return nil }
	}
	im, ok := r.indexers[existing.Type()]
	if !ok {
		return func(*core.Repository) error { return nil }
	}
	before := homeOf(existing)
	moved := false
	t.onRollback(func() {
		if !moved || homeOf(existing) == before {
			return
		}
		back, err := im.Move(ctx, existing.IndexingContext(), existing)
		if err != nil {
			r.log.Error(err, "moving index context back", "repository", existing.ID())
			return
		}
		existing.SetIndexingContext(back)
	})
	return func(repo *core.Repository) error {
		if repo != existing || homeOf(repo) == before {
			return nil
		}
		next, err := im.Move(ctx, repo.IndexingContext(), repo)
		if err != nil {
			return err
		}
		repo.SetIndexingContext(next)
		moved = true
		return nil
	}
}

// ResetIndex discards the index of the repository with id and gives it a
// fresh indexing context.
func (r *Registry) ResetIndex(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	repo, _ := r.lookup(id)
	if repo == nil {
		return &core.NotFoundError{ID: id}
	}
	ic := repo.IndexingContext()
	if ic == nil {
		return &core.UnsupportedFeatureError{ID: id, Feature: core.FeatureIndexCreation}
	}
	im, ok := r.indexers[repo.Type()]
	if !ok {
		return fmt.Errorf("resetting index of %s: no index manager for type %s", id, repo.Type())
	}
	next, err := im.Reset(ctx, ic)
	if err != nil {
		return err
	}
	repo.SetIndexingContext(next)
	r.log.Info("index reset", "repository", id)
	return nil
}

// PutRemoteConfig creates or updates a remote repository.
func (r *Registry) PutRemoteConfig(ctx context.Context, cfg *config.RemoteRepositoryConfiguration) (*core.Repository, error) {
	var repo *core.Repository
	err := r.mutate(ctx, "put", cfg.ID, func(t *tx, snap *config.Configuration) error {
		var err error
		repo, err = r.putRemote(ctx, t, snap, cfg.Copy(), nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// PutRemote registers repo, replacing a different object with the same id.
func (r *Registry) PutRemote(ctx context.Context, repo *core.Repository) (*core.Repository, error) {
	if repo.Kind() != core.KindRemote {
		return nil, fmt.Errorf("%s is not a remote repository", repo)
	}
	p, err := r.Provider(repo.Type())
	if err != nil {
		return nil, err
	}
	cfg, err := p.RemoteConfiguration(repo)
	if err != nil {
		return nil, err
	}
	err = r.mutate(ctx, "put", repo.ID(), func(t *tx, snap *config.Configuration) error {
		_, err := r.putRemote(ctx, t, snap, cfg, repo)
		return err
	})
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *Registry) putRemote(ctx context.Context, t *tx, snap *config.Configuration, cfg *config.RemoteRepositoryConfiguration, obj *core.Repository) (*core.Repository, error) {
	id := cfg.ID
	if err := r.checkConflict(id, core.KindRemote); err != nil {
		return nil, err
	}
	p, err := r.Provider(cfg.Type)
	if err != nil {
		return nil, err
	}
	existing := r.remote[id]
	follow := r.followIndex(ctx, t, existing)
	repo, err := r.swap(t, r.remote, id, existing, obj, func() (*core.Repository, error) {
		return p.CreateRemote(cfg)
	}, func(prev *config.Configuration) error {
		if pc := prev.RemoteRepository(id); pc != nil {
			return p.UpdateRemote(existing, pc)
		}
		return nil
	}, snap, func() error {
		return p.UpdateRemote(existing, cfg)
	})
	if err != nil {
		return nil, err
	}
	t.events = append(t.events, core.NewEvent(eventKind(existing != nil), r, repo, nil))

	if err := follow(repo); err != nil {
		return nil, &core.PersistenceError{Op: "index", ID: id, Err: err}
	}
	if err := r.ensureIndex(ctx, t, repo); err != nil {
		return nil, &core.PersistenceError{Op: "index", ID: id, Err: err}
	}
	out, err := p.RemoteConfiguration(repo)
	if err != nil {
		return nil, err
	}
	snap.PutRemoteRepository(out)
	return repo, nil
}

// PutGroupConfig creates or updates a repository group through the group
// handler.
func (r *Registry) PutGroupConfig(ctx context.Context, cfg *config.RepositoryGroupConfiguration) (*core.Repository, error) {
	var repo *core.Repository
	err := r.mutate(ctx, "put", cfg.ID, func(t *tx, snap *config.Configuration) error {
		var err error
		repo, err = r.putGroup(ctx, t, snap, cfg.Copy(), nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// PutGroup registers group, replacing a different object with the same id.
func (r *Registry) PutGroup(ctx context.Context, group *core.Repository) (*core.Repository, error) {
	if group.Kind() != core.KindGroup {
		return nil, fmt.Errorf("%s is not a repository group", group)
	}
	p, err := r.Provider(group.Type())
	if err != nil {
		return nil, err
	}
	cfg, err := p.GroupConfiguration(group)
	if err != nil {
		return nil, err
	}
	err = r.mutate(ctx, "put", group.ID(), func(t *tx, snap *config.Configuration) error {
		_, err := r.putGroup(ctx, t, snap, cfg, group)
		return err
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

func (r *Registry) putGroup(ctx context.Context, t *tx, snap *config.Configuration, cfg *config.RepositoryGroupConfiguration, obj *core.Repository) (*core.Repository, error) {
	id := cfg.ID
	if err := r.checkConflict(id, core.KindGroup); err != nil {
		return nil, err
	}
	p, err := r.Provider(cfg.Type)
	if err != nil {
		return nil, err
	}
	existing := r.groups[id]
	var prev *config.RepositoryGroupConfiguration
	if pc := snap.RepositoryGroup(id); pc != nil {
		prev = pc.Copy()
	}
	follow := r.followIndex(ctx, t, existing)

	repo, err := r.handler.PutGroup(ctx, GroupRequest{
		Snapshot: snap,
		Config:   cfg,
		Existing: existing,
		Replace:  obj,
		Provider: p,
		Managed:  r.managedLocked,
	})
	if err != nil {
		return nil, err
	}
	r.groups[id] = repo
	t.onRollback(func() {
		switch {
		case existing == nil:
			delete(r.groups, id)
			if err := r.handler.RemoveGroup(ctx, &config.Configuration{}, repo); err != nil {
				r.log.Error(err, "discarding group", "group", id)
			}
		case prev != nil:
			r.groups[id] = existing
			if _, err := r.handler.PutGroup(ctx, GroupRequest{
				Snapshot: snap.Copy(),
				Config:   prev,
				Existing: existing,
				Provider: p,
				Managed:  r.managedLocked,
			}); err != nil {
				r.log.Error(err, "restoring group", "group", id)
			}
		default:
			r.groups[id] = existing
		}
	})
	if existing != nil && existing != repo {
		t.replaced = append(t.replaced, existing)
	}
	t.events = append(t.events, core.NewEvent(eventKind(existing != nil), r, repo, nil))

	if err := follow(repo); err != nil {
		return nil, &core.PersistenceError{Op: "index", ID: id, Err: err}
	}
	if err := r.ensureIndex(ctx, t, repo); err != nil {
		return nil, &core.PersistenceError{Op: "index", ID: id, Err: err}
	}
	out, err := p.GroupConfiguration(repo)
	if err != nil {
		return nil, err
	}
	snap.PutRepositoryGroup(out)
	return repo, nil
}

// Remove closes and unregisters the repository with id, detaches it from
// every group and drops its configuration, including proxy connectors that
// reference it. Removing an unknown id does nothing.
//
// If the configuration cannot be saved the closed repository is put back
// into the registry in state StateClosedRegistered; it is not reopened.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.RLock()
	repo, _ := r.lookup(id)
	r.mu.RUnlock()
	if repo == nil {
		return nil
	}
	return r.RemoveRepository(ctx, repo)
}

// RemoveRepository removes repo if it is the object registered under its id.
func (r *Registry) RemoveRepository(ctx context.Context, repo *core.Repository) error {
	r.mu.RLock()
	current, _ := r.lookup(repo.ID())
	r.mu.RUnlock()
	if current != repo {
		return nil
	}
	err := r.mutate(ctx, "remove", repo.ID(), func(t *tx, snap *config.Configuration) error {
		// Another remove may have won the race for the write lock.
		if current, _ := r.lookup(repo.ID()); current != repo {
			return errNothingToDo
		}
		return r.remove(ctx, t, snap, repo)
	})
	if errors.Is(err, errNothingToDo) {
		return nil
	}
	return err
}

var errNothingToDo = errors.New("nothing to do")

func (r *Registry) remove(ctx context.Context, t *tx, snap *config.Configuration, repo *core.Repository) error {
	id := repo.ID()
	switch repo.Kind() {
	case core.KindManaged:
		if f, err := core.FeatureOf[core.StagingFeature](repo); err == nil {
			if staged := r.managed[f.StagingRepositoryID]; staged != nil {
				if err := r.remove(ctx, t, snap, staged); err != nil {
					return err
				}
			}
		}
		if err := repo.Close(); err != nil {
			r.log.Error(err, "closing repository", "repository", id)
		}
		delete(r.managed, id)
		r.detachFromGroups(t, snap, id)
		snap.RemoveManagedRepository(id)
		snap.RemoveProxyConnectorsFor(id)
		t.onRollback(func() {
			repo.MarkClosedRegistered()
			r.managed[id] = repo
		})

	case core.KindRemote:
		if err := repo.Close(); err != nil {
			r.log.Error(err, "closing repository", "repository", id)
		}
		delete(r.remote, id)
		snap.RemoveRemoteRepository(id)
		snap.RemoveProxyConnectorsFor(id)
		t.onRollback(func() {
			repo.MarkClosedRegistered()
			r.remote[id] = repo
		})

	case core.KindGroup:
		if err := r.handler.RemoveGroup(ctx, snap, repo); err != nil {
			r.log.Error(err, "closing group", "group", id)
		}
		delete(r.groups, id)
		snap.RemoveRepositoryGroup(id)
		t.onRollback(func() {
			repo.MarkClosedRegistered()
			r.groups[id] = repo
		})
	}
	t.events = append(t.events, core.NewEvent(core.EventUnregistered, r, repo, nil))
	return nil
}

func (r *Registry) detachFromGroups(t *tx, snap *config.Configuration, id string) {
	var affected []*core.Repository
	for _, g := range r.groups {
		for _, m := range g.Members() {
			if m == id {
				affected = append(affected, g)
				before := g.Group()
				t.onRollback(func() { g.SetGroup(before) })
				break
			}
		}
	}
	r.handler.RemoveMember(snap, affected, id)
}

// Clone returns an unregistered copy of repo with id newID. The copy shares
// no state with repo and gets its own storage location.
func (r *Registry) Clone(repo *core.Repository, newID string) (*core.Repository, error) {
	r.mu.RLock()
	_, kind := r.lookup(newID)
	r.mu.RUnlock()
	if kind != "" {
		return nil, &core.ConflictError{ID: newID, Existing: kind}
	}
	p, err := r.Provider(repo.Type())
	if err != nil {
		return nil, err
	}
	switch repo.Kind() {
	case core.KindManaged:
		cfg, err := p.ManagedConfiguration(repo)
		if err != nil {
			return nil, err
		}
		cfg.ID, cfg.Location = newID, ""
		return p.CreateManaged(cfg)
	case core.KindRemote:
		cfg, err := p.RemoteConfiguration(repo)
		if err != nil {
			return nil, err
		}
		cfg.ID, cfg.Location = newID, ""
		return p.CreateRemote(cfg)
	case core.KindGroup:
		cfg, err := p.GroupConfiguration(repo)
		if err != nil {
			return nil, err
		}
		cfg.ID, cfg.Location = newID, ""
		return p.CreateGroup(cfg)
	}
	return nil, fmt.Errorf("cannot clone %s", repo)
}

// Initialize loads the stored configuration and starts following
// out-of-band configuration changes.
func (r *Registry) Initialize(ctx context.Context) error {
	r.listenOnce.Do(func() {
		r.store.AddListener(config.ListenerFunc(func(ctx context.Context, ev config.ChangeEvent) {
			r.log.Info("configuration changed outside the registry, reloading", "source", ev.Source)
			if err := r.Reload(ctx); err != nil {
				r.log.Error(err, "reloading after configuration change")
			}
		}))
	})
	return r.Reload(ctx)
}

// Reload closes every repository and rebuilds the registry from the stored
// configuration. Entries that fail to load are reported and skipped.
func (r *Registry) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := r.closeAll(ctx)
	snap := r.store.Configuration()

	for _, cfg := range snap.ManagedRepositories {
		if err := r.load(ctx, cfg.ID, core.KindManaged, func(p core.Provider) (*core.Repository, error) {
			return p.CreateManaged(cfg)
		}, cfg.Type, r.managed); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, cfg := range snap.RemoteRepositories {
		if err := r.load(ctx, cfg.ID, core.KindRemote, func(p core.Provider) (*core.Repository, error) {
			return p.CreateRemote(cfg)
		}, cfg.Type, r.remote); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, cfg := range snap.RepositoryGroups {
		if err := r.load(ctx, cfg.ID, core.KindGroup, func(p core.Provider) (*core.Repository, error) {
			return r.handler.PutGroup(ctx, GroupRequest{
				Snapshot: snap,
				Config:   cfg.Copy(),
				Provider: p,
				Managed:  r.managedLocked,
			})
		}, cfg.Type, r.groups); err != nil {
			result = multierror.Append(result, err)
		}
	}
	r.log.Info("registry loaded", "managed", len(r.managed), "remote", len(r.remote), "groups", len(r.groups))
	return result
}

func (r *Registry) load(ctx context.Context, id string, kind core.Kind, create func(core.Provider) (*core.Repository, error), typ string, m map[string]*core.Repository) error {
	if _, existing := r.lookup(id); existing != "" {
		return &core.ConflictError{ID: id, Existing: existing, Wanted: kind}
	}
	p, err := r.Provider(typ)
	if err != nil {
		return fmt.Errorf("loading %s: %w", id, err)
	}
	repo, err := create(p)
	if err != nil {
		return fmt.Errorf("loading %s: %w", id, err)
	}
	if err := r.ensureIndex(ctx, nil, repo); err != nil {
		r.log.Error(err, "creating indexing context", "repository", id)
	}
	m[id] = repo
	return nil
}

// closeAll closes and forgets every repository. The caller holds the lock.
func (r *Registry) closeAll(ctx context.Context) error {
	var result error
	scratch := &config.Configuration{}
	for id, g := range r.groups {
		if err := r.handler.RemoveGroup(ctx, scratch, g); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing %s: %w", id, err))
		}
	}
	for _, m := range []map[string]*core.Repository{r.managed, r.remote} {
		for id, repo := range m {
			if err := repo.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("closing %s: %w", id, err))
			}
		}
	}
	r.managed = make(map[string]*core.Repository)
	r.remote = make(map[string]*core.Repository)
	r.groups = make(map[string]*core.Repository)
	return result
}

// Close closes every repository. The registry is empty afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeAll(context.Background())
}
