// Package repositories manages artifact repositories: locally stored managed
// repositories, remote repositories they proxy, and groups that aggregate
// managed repositories behind one merged index.
//
// Basic usage:
//
//	import (
//		"context"
//		"github.com/git-pkgs/repositories"
//		_ "github.com/git-pkgs/repositories/all"
//	)
//
//	store := repositories.NewMemoryStore()
//	reg := repositories.NewRegistry(store)
//	if err := reg.Initialize(ctx); err != nil {
//		log.Fatal(err)
//	}
//
//	repo, err := reg.PutManagedConfig(ctx, &repositories.ManagedRepositoryConfiguration{
//		ID:       "internal",
//		Releases: true,
//	})
//
// Models are resolved into a managed repository through its proxy
// connectors:
//
//	res, err := repositories.NewResolver(repo, repositories.SourcesFor(reg, repo.ID()))
//	model, err := res.ResolveModel(ctx, "org.example", "lib", "1.0")
package repositories

import (
	"github.com/git-pkgs/purl"

	"github.com/git-pkgs/repositories/config"
	"github.com/git-pkgs/repositories/group"
	"github.com/git-pkgs/repositories/internal/core"
	"github.com/git-pkgs/repositories/registry"
	"github.com/git-pkgs/repositories/resolve"
)

// Re-export types from internal/core
type (
	// Repository is a managed, remote or group repository.
	Repository = core.Repository

	// Kind is the namespace a repository lives in.
	Kind = core.Kind

	// State is the lifecycle state of a repository.
	State = core.State

	// Event describes a change to a repository.
	Event = core.Event

	// EventKind classifies events.
	EventKind = core.EventKind

	// EventHandler receives events.
	EventHandler = core.EventHandler

	// Provider creates repositories of one type.
	Provider = core.Provider

	// Coordinate identifies a model by groupId, artifactId and version.
	Coordinate = core.Coordinate
)

// Re-export configuration types
type (
	Configuration                  = config.Configuration
	ManagedRepositoryConfiguration = config.ManagedRepositoryConfiguration
	RemoteRepositoryConfiguration  = config.RemoteRepositoryConfiguration
	RepositoryGroupConfiguration   = config.RepositoryGroupConfiguration
	ProxyConnectorConfiguration    = config.ProxyConnectorConfiguration
	NetworkProxyConfiguration      = config.NetworkProxyConfiguration

	// Store persists the configuration.
	Store = config.Store
)

// Registry is the authoritative set of live repositories.
type Registry = registry.Registry

// Option configures a Registry.
type Option = registry.Option

// Resolver resolves models into one managed repository.
type Resolver = resolve.Resolver

// ResolvedModel is a model with its parents merged in.
type ResolvedModel = resolve.ResolvedModel

// Re-export constants
const (
	KindManaged = core.KindManaged
	KindRemote  = core.KindRemote
	KindGroup   = core.KindGroup

	StateOpen             = core.StateOpen
	StateClosed           = core.StateClosed
	StateClosedRegistered = core.StateClosedRegistered

	EventAny          = core.EventAny
	EventRegistered   = core.EventRegistered
	EventUpdated      = core.EventUpdated
	EventUnregistered = core.EventUnregistered
)

// Re-export errors
var (
	ErrNotFound           = core.ErrNotFound
	ErrConflict           = core.ErrConflict
	ErrPersistence        = core.ErrPersistence
	ErrUnsupportedFeature = core.ErrUnsupportedFeature
	ErrUnknownType        = core.ErrUnknownType
	ErrClosed             = core.ErrClosed
	ErrModelNotFound      = resolve.ErrModelNotFound
	ErrModelBroken        = resolve.ErrModelBroken
)

// Error types
type (
	ConflictError           = core.ConflictError
	PersistenceError        = core.PersistenceError
	NotFoundError           = core.NotFoundError
	UnsupportedFeatureError = core.UnsupportedFeatureError
	ValidationError         = core.ValidationError
)

// Registry options
var (
	WithLogger         = registry.WithLogger
	WithStorageFactory = registry.WithStorageFactory
	WithProvider       = registry.WithProvider
	WithIndexManager   = registry.WithIndexManager
)

// NewMemoryStore returns a store that keeps the configuration in memory.
func NewMemoryStore() *config.MemoryStore {
	return config.NewMemoryStore(&config.Configuration{})
}

// OpenFileStore opens a YAML configuration file. A missing file yields an
// empty configuration.
func OpenFileStore(path string) (*config.FileStore, error) {
	return config.NewFileStore(path)
}

// NewRegistry creates a registry persisting to store. Providers for every
// imported repository type are installed unless options set them.
func NewRegistry(store Store, opts ...Option) *Registry {
	return registry.New(store, opts...)
}

// NewGroupHandler attaches merged index management to reg. Groups created
// before the call are not scheduled.
func NewGroupHandler(reg *Registry, opts ...group.Option) *group.Handler {
	return group.New(reg, opts...)
}

// NewResolver creates a resolver for a managed repository.
func NewResolver(repo *Repository, remotes []resolve.Remote, opts ...resolve.Option) (*Resolver, error) {
	return resolve.New(repo, remotes, opts...)
}

// SourcesFor returns the resolution chain configured for a managed
// repository through its proxy connectors.
func SourcesFor(reg *Registry, managedID string) []resolve.Remote {
	return resolve.SourcesFor(reg.Configuration(), reg.Get, managedID)
}

// SupportedTypes returns all registered repository types.
// Note: types must be imported to be registered.
func SupportedTypes() []string {
	return core.SupportedTypes()
}

// ParseCoordinate parses "groupId:artifactId[:version]".
func ParseCoordinate(s string) (Coordinate, error) {
	return core.ParseCoordinate(s)
}

// PURL represents a parsed Package URL.
type PURL = purl.PURL

// ParsePURL parses a Package URL string into its components.
func ParsePURL(purlStr string) (*PURL, error) {
	return purl.Parse(purlStr)
}

// CoordinateFromPURL converts a maven Package URL into a coordinate.
func CoordinateFromPURL(purlStr string) (Coordinate, error) {
	c, _, err := core.ParsePURL(purlStr)
	return c, err
}
