package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	_ "github.com/git-pkgs/repositories/all"
	"github.com/git-pkgs/repositories/config"
	"github.com/git-pkgs/repositories/fetch"
	"github.com/git-pkgs/repositories/group"
	"github.com/git-pkgs/repositories/index"
	"github.com/git-pkgs/repositories/internal/core"
	"github.com/git-pkgs/repositories/registry"
	"github.com/git-pkgs/repositories/resolve"
	"github.com/git-pkgs/repositories/storage"
)

// flagKeys maps command line flags to settings keys. Flags a command does
// not define are skipped.
var flagKeys = map[string]string{
	"data-dir":     "data_dir",
	"config":       "config_file",
	"facts-db":     "facts_db",
	"log-level":    "log_level",
	"metrics-addr": "metrics_addr",
	"watch":        "watch_config",
	"workers":      "resolve_workers",
}

// app holds the components shared by the commands. They are opened lazily so
// that commands only pay for what they use.
type app struct {
	settingsFile string
	settings     *config.Settings
	log          logr.Logger

	store     *config.FileStore
	reg       *registry.Registry
	sched     *group.CronScheduler
	groups    *group.Handler
	transport *fetch.HTTPTransport
	facts     *resolve.BoltFactStore
	prom      *prometheus.Registry
	metrics   *resolve.Metrics

	mu        sync.Mutex
	resolvers map[string]*resolve.Resolver
}

func (a *app) loadSettings(cmd *cobra.Command) error {
	l := config.NewSettingsLoader().WithFile(a.settingsFile)
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := l.BindFlag(key, f); err != nil {
			return err
		}
	}
	s, err := l.Load()
	if err != nil {
		return err
	}
	a.settings = s
	a.log = newLogger(cmd.ErrOrStderr(), s.LogLevel)
	return nil
}

func newLogger(w io.Writer, verbosity int) logr.Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.Level(-verbosity)})
	return logr.FromSlogHandler(h).WithName("repoman")
}

// open loads the repository configuration and builds the registry.
func (a *app) open(ctx context.Context) error {
	if a.reg != nil {
		return nil
	}
	s := a.settings
	store, err := config.NewFileStore(s.ConfigFile, config.WithStoreLogger(a.log.WithName("config")))
	if err != nil {
		return err
	}
	a.store = store
	store.AddListener(config.ListenerFunc(func(context.Context, config.ChangeEvent) {
		a.dropResolvers()
	}))

	a.reg = registry.New(store,
		registry.WithLogger(a.log.WithName("registry")),
		registry.WithStorageFactory(storage.OSFactory{BaseDir: s.DataDir}),
		registry.WithIndexManager(config.DefaultRepositoryType, index.NewDirectoryManager(index.WithLogger(a.log.WithName("index")))),
	)
	a.sched = group.NewCronScheduler(a.log.WithName("scheduler"))
	a.groups = group.New(a.reg, group.WithScheduler(a.sched), group.WithLogger(a.log.WithName("groups")))
	a.reg.Register(core.EventAny, func(ev *core.Event) {
		a.dropResolver(ev.RepositoryID)
	})

	a.transport = fetch.NewHTTPTransport(
		fetch.WithTransportRetries(s.Fetch.MaxRetries, s.Fetch.BaseDelay),
		fetch.WithTransportUserAgent(s.Fetch.UserAgent),
		fetch.WithTransportLogger(a.log.WithName("fetch")),
	)
	a.prom = prometheus.NewRegistry()
	a.prom.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = resolve.NewMetrics(a.prom)
	a.resolvers = make(map[string]*resolve.Resolver)

	if err := a.reg.Initialize(ctx); err != nil {
		// Repositories that loaded stay usable.
		a.log.Error(err, "loading repositories", "config", s.ConfigFile)
	}
	return nil
}

func (a *app) openFacts() error {
	if a.facts != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(a.settings.FactsDB), 0o755); err != nil {
		return err
	}
	facts, err := resolve.OpenBoltFactStore(a.settings.FactsDB)
	if err != nil {
		return err
	}
	a.facts = facts
	return nil
}

// resolver returns the cached resolver of a managed repository. Extra URLs
// are appended to its proxy chain and bypass the cache.
func (a *app) resolver(id string, extra []string, requireChecksums bool) (*resolve.Resolver, error) {
	if err := a.openFacts(); err != nil {
		return nil, err
	}
	cacheable := len(extra) == 0 && !requireChecksums

	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := a.resolvers[id]; ok && cacheable {
		return r, nil
	}
	repo := a.reg.Managed(id)
	if repo == nil {
		return nil, &core.NotFoundError{Kind: core.KindManaged, ID: id}
	}
	remotes := resolve.SourcesFor(a.reg.Configuration(), a.reg.Get, id)
	for i, u := range extra {
		remotes = append(remotes, resolve.StaticSource(fmt.Sprintf("remote-%d", i+1), u, a.settings.Fetch.Timeout))
	}
	r, err := resolve.New(repo, remotes,
		resolve.WithTransport(a.transport),
		resolve.WithFactStore(a.facts),
		resolve.WithMetrics(a.metrics),
		resolve.WithRequireChecksums(requireChecksums),
		resolve.WithLogger(a.log.WithName("resolve")),
	)
	if err != nil {
		return nil, err
	}
	if cacheable {
		a.resolvers[id] = r
	}
	return r, nil
}

func (a *app) dropResolver(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.resolvers, id)
}

// saveConfiguration persists a change to configuration the registry does not
// own, such as proxy connectors.
func (a *app) saveConfiguration(ctx context.Context, change func(cfg *config.Configuration) error) error {
	cfg := a.store.Configuration()
	if err := change(cfg); err != nil {
		return err
	}
	if err := a.store.Save(ctx, cfg); err != nil {
		return err
	}
	a.dropResolvers()
	return nil
}

func (a *app) dropResolvers() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.resolvers)
}

func (a *app) close() error {
	var result *multierror.Error
	if a.sched != nil {
		<-a.sched.Stop().Done()
	}
	if a.reg != nil {
		if err := a.reg.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if a.transport != nil {
		a.transport.Close()
	}
	if a.facts != nil {
		if err := a.facts.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
