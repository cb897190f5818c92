package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/git-pkgs/repositories/config"
	"github.com/git-pkgs/repositories/storage"
)

// Provider translates between persisted configuration and runtime
// repositories for one repository type. Providers hold no repository state.
type Provider interface {
	// Type returns the repository type handled, e.g. "maven".
	Type() string

	// Supports lists the feature kinds repositories of kind may declare.
	Supports(kind Kind) []FeatureKind

	CreateManaged(cfg *config.ManagedRepositoryConfiguration) (*Repository, error)
	// UpdateManaged applies cfg to repo in place. Features are rebuilt.
	UpdateManaged(repo *Repository, cfg *config.ManagedRepositoryConfiguration) error
	ManagedConfiguration(repo *Repository) (*config.ManagedRepositoryConfiguration, error)
	// StagingConfiguration derives the configuration of the staging
	// repository belonging to cfg.
	StagingConfiguration(cfg *config.ManagedRepositoryConfiguration) *config.ManagedRepositoryConfiguration

	CreateRemote(cfg *config.RemoteRepositoryConfiguration) (*Repository, error)
	UpdateRemote(repo *Repository, cfg *config.RemoteRepositoryConfiguration) error
	RemoteConfiguration(repo *Repository) (*config.RemoteRepositoryConfiguration, error)

	CreateGroup(cfg *config.RepositoryGroupConfiguration) (*Repository, error)
	UpdateGroup(repo *Repository, cfg *config.RepositoryGroupConfiguration) error
	GroupConfiguration(repo *Repository) (*config.RepositoryGroupConfiguration, error)
}

// ProviderFactory creates a provider whose repositories obtain their storage
// from sf.
type ProviderFactory func(sf storage.Factory) Provider

var (
	factories = make(map[string]ProviderFactory)
	mu        sync.RWMutex
)

// Register adds a provider factory for a repository type. Providers call
// this from init.
func Register(typ string, factory ProviderFactory) {
	mu.Lock()
	defer mu.Unlock()
	factories[typ] = factory
}

// NewProvider creates the provider for typ.
func NewProvider(typ string, sf storage.Factory) (Provider, error) {
	mu.RLock()
	factory, ok := factories[typ]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}
	return factory(sf), nil
}

// SupportedTypes returns all registered repository types in name order.
func SupportedTypes() []string {
	mu.RLock()
	defer mu.RUnlock()

	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Providers instantiates every registered provider, keyed by type.
func Providers(sf storage.Factory) map[string]Provider {
	mu.RLock()
	defer mu.RUnlock()

	out := make(map[string]Provider, len(factories))
	for t, f := range factories {
		out[t] = f(sf)
	}
	return out
}
