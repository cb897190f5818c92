package registry

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/git-pkgs/repositories/config"
	"github.com/git-pkgs/repositories/index"
	"github.com/git-pkgs/repositories/internal/core"
	"github.com/git-pkgs/repositories/internal/maven"
	"github.com/git-pkgs/repositories/storage"
)

type recorder struct {
	mu     sync.Mutex
	events []*core.Event
}

func (r *recorder) handle(ev *core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, string(ev.Kind)+":"+ev.RepositoryID)
	}
	return out
}

func newTestRegistry(t *testing.T, cfg *config.Configuration) (*Registry, *config.MemoryStore, *recorder) {
	t.Helper()
	store := config.NewMemoryStore(cfg)
	reg := New(store,
		WithProvider(maven.New(storage.NewMemoryFactory())),
		WithIndexManager("maven", index.NewDirectoryManager()),
	)
	rec := &recorder{}
	reg.Register(core.EventAny, rec.handle)
	t.Cleanup(func() { _ = reg.Close() })
	return reg, store, rec
}

func TestPutManagedConfig(t *testing.T) {
	reg, store, rec := newTestRegistry(t, nil)
	ctx := context.Background()

	repo, err := reg.PutManagedConfig(ctx, &config.ManagedRepositoryConfiguration{
		ID: "internal", Name: "Internal", Releases: true, StageRepoNeeded: true,
	})
	if err != nil {
		t.Fatalf("PutManagedConfig: %v", err)
	}
	if reg.Managed("internal") != repo {
		t.Fatal("repository not registered")
	}
	if repo.IndexingContext() == nil {
		t.Error("no indexing context")
	}

	staging := reg.Managed("internal-stage")
	if staging == nil {
		t.Fatal("staging repository not created")
	}
	if staging.Supports(core.FeatureStaging) {
		t.Error("staging repository has a staging feature")
	}

	cfg := store.Configuration()
	if cfg.ManagedRepository("internal") == nil || cfg.ManagedRepository("internal-stage") == nil {
		t.Errorf("configuration not saved: %+v", cfg.ManagedRepositories)
	}
	if store.Saves() != 1 {
		t.Errorf("Saves = %d, want 1", store.Saves())
	}

	want := []string{"registered:internal", "registered:internal-stage"}
	if diff := cmp.Diff(want, rec.kinds()); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestPutManagedConfigUpdatesInPlace(t *testing.T) {
	reg, store, rec := newTestRegistry(t, nil)
	ctx := context.Background()

	first, err := reg.PutManagedConfig(ctx, &config.ManagedRepositoryConfiguration{ID: "internal", Name: "Old"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := reg.PutManagedConfig(ctx, &config.ManagedRepositoryConfiguration{ID: "internal", Name: "New"})
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("update replaced the runtime object")
	}
	if got := second.Name(core.DefaultLocale); got != "New" {
		t.Errorf("Name = %q", got)
	}
	if got := store.Configuration().ManagedRepository("internal").Name; got != "New" {
		t.Errorf("stored name = %q", got)
	}
	want := []string{"registered:internal", "updated:internal"}
	if diff := cmp.Diff(want, rec.kinds()); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestPutManagedConfigMovesIndex(t *testing.T) {
	reg, store, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	repo, err := reg.PutManagedConfig(ctx, &config.ManagedRepositoryConfiguration{ID: "internal", Location: "a"})
	if err != nil {
		t.Fatal(err)
	}
	first := repo.IndexingContext()

	tests := []struct {
		name string
		cfg  *config.ManagedRepositoryConfiguration
		path string
	}{
		{"location", &config.ManagedRepositoryConfiguration{ID: "internal", Location: "b"}, "/.indexer"},
		{"index dir", &config.ManagedRepositoryConfiguration{ID: "internal", Location: "b", IndexDir: "search"}, "/search"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := repo.IndexingContext()
			if _, err := reg.PutManagedConfig(ctx, tt.cfg); err != nil {
				t.Fatalf("PutManagedConfig: %v", err)
			}
			ic := repo.IndexingContext()
			if ic == before {
				t.Fatal("indexing context not moved")
			}
			if !before.(*index.Context).Closed() {
				t.Error("previous context left open")
			}
			if ic.Path() != tt.path {
				t.Errorf("Path = %q, want %q", ic.Path(), tt.path)
			}
			desc, err := index.ReadDescriptor(repo.Storage(), ic.Path())
			if err != nil {
				t.Fatalf("ReadDescriptor: %v", err)
			}
			if desc.ContextID != ic.ID() || desc.RepositoryID != "internal" {
				t.Errorf("descriptor = %+v", desc)
			}
		})
	}
	if repo.IndexingContext() == first {
		t.Fatal("context never moved")
	}

	moved := repo.IndexingContext()
	store.FailSaves(errors.New("disk full"))
	_, err = reg.PutManagedConfig(ctx, &config.ManagedRepositoryConfiguration{ID: "internal", Location: "c"})
	if !errors.Is(err, core.ErrPersistence) {
		t.Fatalf("PutManagedConfig = %v, want persistence error", err)
	}
	ic := repo.IndexingContext()
	if ic == moved || ic.(*index.Context).Closed() {
		t.Fatal("rollback left a stale indexing context")
	}
	if ic.Path() != "/search" {
		t.Errorf("Path after rollback = %q, want /search", ic.Path())
	}
	if _, err := index.ReadDescriptor(repo.Storage(), ic.Path()); err != nil {
		t.Errorf("ReadDescriptor after rollback: %v", err)
	}
}

func TestResetIndex(t *testing.T) {
	reg, _, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	repo, err := reg.PutManagedConfig(ctx, &config.ManagedRepositoryConfiguration{ID: "internal"})
	if err != nil {
		t.Fatal(err)
	}
	before := repo.IndexingContext()
	stale, err := repo.Storage().AddAsset(before.Path()+"/segment.0", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Storage().WriteData(stale, func(w io.Writer) error {
		_, err := io.WriteString(w, "old")
		return err
	}, true); err != nil {
		t.Fatal(err)
	}

	if err := reg.ResetIndex(ctx, "internal"); err != nil {
		t.Fatalf("ResetIndex: %v", err)
	}
	ic := repo.IndexingContext()
	if ic == before || !before.(*index.Context).Closed() {
		t.Error("indexing context not replaced")
	}
	if repo.Storage().Asset(before.Path() + "/segment.0").Exists() {
		t.Error("index content survived the reset")
	}
	desc, err := index.ReadDescriptor(repo.Storage(), ic.Path())
	if err != nil || desc.ContextID != ic.ID() {
		t.Errorf("descriptor = %+v, %v", desc, err)
	}

	if err := reg.ResetIndex(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("ResetIndex(nope) = %v, want ErrNotFound", err)
	}
}

func TestPutConflict(t *testing.T) {
	reg, _, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	if _, err := reg.PutManagedConfig(ctx, &config.ManagedRepositoryConfiguration{ID: "shared"}); err != nil {
		t.Fatal(err)
	}
	_, err := reg.PutRemoteConfig(ctx, &config.RemoteRepositoryConfiguration{ID: "shared", URL: "https://repo.example.com/maven2"})
	var conflict *core.ConflictError
	if !errors.As(err, &conflict) || !errors.Is(err, core.ErrConflict) {
		t.Fatalf("PutRemoteConfig = %v, want ConflictError", err)
	}
	if conflict.Existing != core.KindManaged || conflict.Wanted != core.KindRemote {
		t.Errorf("conflict = %+v", conflict)
	}
	if reg.Remote("shared") != nil {
		t.Error("conflicting remote registered")
	}
}

func TestPutRollsBackOnSaveFailure(t *testing.T) {
	reg, store, rec := newTestRegistry(t, nil)
	ctx := context.Background()

	existing, err := reg.PutManagedConfig(ctx, &config.ManagedRepositoryConfiguration{ID: "internal", Name: "Before"})
	if err != nil {
		t.Fatal(err)
	}
	store.FailSaves(errors.New("disk full"))

	_, err = reg.PutManagedConfig(ctx, &config.ManagedRepositoryConfiguration{ID: "fresh", StageRepoNeeded: true})
	if !errors.Is(err, core.ErrPersistence) || !errors.Is(err, config.ErrSave) {
		t.Fatalf("PutManagedConfig = %v, want persistence error", err)
	}
	if reg.HasRepository("fresh") || reg.HasRepository("fresh-stage") {
		t.Error("failed put left repositories registered")
	}

	_, err = reg.PutManagedConfig(ctx, &config.ManagedRepositoryConfiguration{ID: "internal", Name: "After"})
	if !errors.Is(err, core.ErrPersistence) {
		t.Fatalf("update = %v, want persistence error", err)
	}
	if reg.Managed("internal") != existing {
		t.Error("runtime object replaced")
	}
	if got := existing.Name(core.DefaultLocale); got != "Before" {
		t.Errorf("Name after rollback = %q, want Before", got)
	}
	if n := len(rec.kinds()); n != 1 {
		t.Errorf("events after failed puts = %v", rec.kinds())
	}
}

func TestPutManagedReplacesObject(t *testing.T) {
	reg, _, _ := newTestRegistry(t, nil)
	ctx := context.Background()
	p := maven.New(storage.NewMemoryFactory())

	old, err := reg.PutManagedConfig(ctx, &config.ManagedRepositoryConfiguration{ID: "internal"})
	if err != nil {
		t.Fatal(err)
	}
	repl, err := p.CreateManaged(&config.ManagedRepositoryConfiguration{ID: "internal", Name: "Replacement"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.PutManaged(ctx, repl); err != nil {
		t.Fatalf("PutManaged: %v", err)
	}
	if reg.Managed("internal") != repl {
		t.Error("replacement not registered")
	}
	if old.IsOpen() {
		t.Error("replaced repository still open")
	}
}

func TestRemove(t *testing.T) {
	reg, store, rec := newTestRegistry(t, nil)
	ctx := context.Background()

	repo, err := reg.PutManagedConfig(ctx, &config.ManagedRepositoryConfiguration{ID: "internal", StageRepoNeeded: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.PutManagedConfig(ctx, &config.ManagedRepositoryConfiguration{ID: "other"}); err != nil {
		t.Fatal(err)
	}
	group, err := reg.PutGroupConfig(ctx, &config.RepositoryGroupConfiguration{ID: "public", Repositories: []string{"internal", "other"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.PutRemoteConfig(ctx, &config.RemoteRepositoryConfiguration{ID: "central", URL: "https://repo.example.com/maven2"}); err != nil {
		t.Fatal(err)
	}
	snap := store.Configuration()
	snap.PutProxyConnector(&config.ProxyConnectorConfiguration{SourceRepoID: "internal", TargetRepoID: "central"})
	if err := store.Save(ctx, snap); err != nil {
		t.Fatal(err)
	}

	if err := reg.Remove(ctx, "internal"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if reg.HasRepository("internal") || reg.HasRepository("internal-stage") {
		t.Error("repository or its staging repository still registered")
	}
	if repo.IsOpen() {
		t.Error("removed repository still open")
	}
	if diff := cmp.Diff([]string{"other"}, group.Members()); diff != "" {
		t.Errorf("group members (-want +got):\n%s", diff)
	}

	cfg := store.Configuration()
	if cfg.ManagedRepository("internal") != nil || cfg.ManagedRepository("internal-stage") != nil {
		t.Error("configuration still lists removed repositories")
	}
	if diff := cmp.Diff([]string{"other"}, cfg.RepositoryGroup("public").Repositories); diff != "" {
		t.Errorf("stored members (-want +got):\n%s", diff)
	}
	if len(cfg.ProxyConnectors) != 0 {
		t.Errorf("connectors = %+v", cfg.ProxyConnectors)
	}

	kinds := rec.kinds()
	if got := kinds[len(kinds)-2:]; !cmp.Equal(got, []string{"unregistered:internal-stage", "unregistered:internal"}) {
		t.Errorf("removal events = %v", got)
	}

	if err := reg.Remove(ctx, "missing"); err != nil {
		t.Errorf("Remove of unknown id = %v", err)
	}
}

func TestRemoveRollsBack(t *testing.T) {
	reg, store, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	repo, err := reg.PutManagedConfig(ctx, &config.ManagedRepositoryConfiguration{ID: "internal"})
	if err != nil {
		t.Fatal(err)
	}
	group, err := reg.PutGroupConfig(ctx, &config.RepositoryGroupConfiguration{ID: "public", Repositories: []string{"internal"}})
	if err != nil {
		t.Fatal(err)
	}
	store.FailSaves(errors.New("read only"))

	if err := reg.Remove(ctx, "internal"); !errors.Is(err, core.ErrPersistence) {
		t.Fatalf("Remove = %v, want persistence error", err)
	}
	if reg.Managed("internal") != repo {
		t.Fatal("repository not restored")
	}
	if repo.State() != core.StateClosedRegistered {
		t.Errorf("State = %v, want closed-registered", repo.State())
	}
	if diff := cmp.Diff([]string{"internal"}, group.Members()); diff != "" {
		t.Errorf("group members (-want +got):\n%s", diff)
	}
}

func TestGroupDropsUnknownMembers(t *testing.T) {
	reg, store, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	if _, err := reg.PutManagedConfig(ctx, &config.ManagedRepositoryConfiguration{ID: "internal"}); err != nil {
		t.Fatal(err)
	}
	group, err := reg.PutGroupConfig(ctx, &config.RepositoryGroupConfiguration{ID: "public", Repositories: []string{"ghost", "internal"}})
	if err != nil {
		t.Fatalf("PutGroupConfig: %v", err)
	}
	if diff := cmp.Diff([]string{"internal"}, group.Members()); diff != "" {
		t.Errorf("members (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"internal"}, store.Configuration().RepositoryGroup("public").Repositories); diff != "" {
		t.Errorf("stored members (-want +got):\n%s", diff)
	}
}

func TestClone(t *testing.T) {
	reg, _, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	repo, err := reg.PutManagedConfig(ctx, &config.ManagedRepositoryConfiguration{ID: "internal", Name: "Internal", Releases: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Clone(repo, "internal"); !errors.Is(err, core.ErrConflict) {
		t.Errorf("Clone onto existing id = %v", err)
	}

	clone, err := reg.Clone(repo, "copy")
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	defer func() { _ = clone.Close() }()
	if clone.ID() != "copy" || clone.Name(core.DefaultLocale) != "Internal" || !clone.Managed().Releases {
		t.Errorf("clone = %s %q %+v", clone.ID(), clone.Name(core.DefaultLocale), clone.Managed())
	}
	if clone.Location() == repo.Location() || clone.Storage() == repo.Storage() {
		t.Error("clone shares storage with the original")
	}
	if reg.HasRepository("copy") {
		t.Error("clone registered")
	}
}

func TestInitializeFollowsExternalChanges(t *testing.T) {
	reg, store, _ := newTestRegistry(t, &config.Configuration{
		ManagedRepositories: []*config.ManagedRepositoryConfiguration{{ID: "internal"}},
		RemoteRepositories:  []*config.RemoteRepositoryConfiguration{{ID: "central", URL: "https://repo.example.com/maven2"}},
		RepositoryGroups:    []*config.RepositoryGroupConfiguration{{ID: "public", Repositories: []string{"internal"}}},
	})
	ctx := context.Background()

	if err := reg.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	var ids []string
	for _, repo := range reg.Repositories() {
		ids = append(ids, repo.ID())
	}
	if diff := cmp.Diff([]string{"central", "internal", "public"}, ids); diff != "" {
		t.Errorf("repositories (-want +got):\n%s", diff)
	}
	old := reg.Managed("internal")

	store.Replace(ctx, &config.Configuration{
		ManagedRepositories: []*config.ManagedRepositoryConfiguration{{ID: "snapshots", Snapshots: true}},
	})
	if reg.HasRepository("internal") || reg.Managed("snapshots") == nil {
		t.Errorf("registry did not follow the change: %v", reg.Repositories())
	}
	if old.IsOpen() {
		t.Error("repository from the old configuration still open")
	}
}

func TestHandleEvent(t *testing.T) {
	reg, _, rec := newTestRegistry(t, nil)
	repo := core.NewRepository(core.KindManaged, "maven", "x", nil)

	outside := core.NewEvent(core.EventUpdated, "scanner", repo, nil)
	reg.HandleEvent(outside)
	if len(rec.events) != 1 || rec.events[0].Previous != outside || rec.events[0].Source != reg {
		t.Fatalf("events = %+v", rec.events)
	}

	echo := core.NewEvent(core.EventUpdated, "scanner", repo, rec.events[0])
	reg.HandleEvent(echo)
	if len(rec.events) != 1 {
		t.Error("event caused by the registry was re-published")
	}
}
