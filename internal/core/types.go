// Package core provides the repository record, its features and events, and
// the provider registry shared by every repository type.
package core

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/git-pkgs/repositories/config"
	"github.com/git-pkgs/repositories/storage"
)

// Kind tags the namespace a repository lives in.
type Kind string

const (
	KindManaged Kind = "managed"
	KindRemote  Kind = "remote"
	KindGroup   Kind = "group"
)

// State is the lifecycle state of a repository.
type State int

const (
	StateOpen State = iota
	StateClosed
	// StateClosedRegistered marks a repository that was closed by a removal
	// whose persistence failed and was put back into the registry. It is
	// never reopened.
	StateClosedRegistered
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateClosedRegistered:
		return "closed-registered"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DefaultLocale is the locale used for names and descriptions taken from the
// configuration.
const DefaultLocale = "en"

// ManagedSettings are the attributes specific to managed repositories.
type ManagedSettings struct {
	Releases           bool
	Snapshots          bool
	BlockRedeployments bool
	Scanned            bool
}

// RemoteSettings are the attributes specific to remote repositories.
type RemoteSettings struct {
	URL             string
	Username        string
	Password        string
	Timeout         time.Duration
	CheckPath       string
	ExtraHeaders    map[string]string
	ExtraParameters map[string]string
}

func (r RemoteSettings) clone() RemoteSettings {
	r.ExtraHeaders = cloneMap(r.ExtraHeaders)
	r.ExtraParameters = cloneMap(r.ExtraParameters)
	return r
}

// GroupSettings are the attributes specific to repository groups.
type GroupSettings struct {
	// Members are managed repository ids, ordered and free of duplicates.
	Members         []string
	MergedIndexTTL  time.Duration
	MergedIndexPath string
	MergeSchedule   string
}

func (g GroupSettings) clone() GroupSettings {
	g.Members = dedupe(g.Members)
	return g
}

// Repository is the runtime record of a managed, remote or group repository.
// The kind specific settings live side by side; only the set matching Kind is
// meaningful.
type Repository struct {
	mu sync.RWMutex

	id   string
	kind Kind
	typ  string

	names        map[string]string
	descriptions map[string]string
	location     string
	layout       string
	schedule     string
	state        State

	features map[FeatureKind]Feature
	storage  storage.Storage
	indexing IndexingContext

	managed ManagedSettings
	remote  RemoteSettings
	group   GroupSettings
}

// NewRepository creates an open repository. The storage becomes owned by the
// repository and is closed with it.
func NewRepository(kind Kind, typ, id string, st storage.Storage) *Repository {
	return &Repository{
		id:           id,
		kind:         kind,
		typ:          typ,
		names:        make(map[string]string),
		descriptions: make(map[string]string),
		layout:       config.DefaultLayout,
		features:     make(map[FeatureKind]Feature),
		storage:      st,
	}
}

func (r *Repository) ID() string   { return r.id }
func (r *Repository) Kind() Kind   { return r.kind }
func (r *Repository) Type() string { return r.typ }

func (r *Repository) String() string {
	return fmt.Sprintf("%s %s repository %s", r.typ, r.kind, r.id)
}

// Name returns the display name for locale, falling back to the default
// locale and then to the id.
func (r *Repository) Name(locale string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return localized(r.names, locale, r.id)
}

// SetName sets the display name for locale.
func (r *Repository) SetName(locale, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	setLocalized(r.names, locale, name)
}

// Description returns the description for locale.
func (r *Repository) Description(locale string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return localized(r.descriptions, locale, "")
}

// SetDescription sets the description for locale.
func (r *Repository) SetDescription(locale, desc string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	setLocalized(r.descriptions, locale, desc)
}

// Location returns the URI of the storage root.
func (r *Repository) Location() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.location
}

// SetLocation records the storage root.
func (r *Repository) SetLocation(loc string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.location = loc
}

func (r *Repository) Layout() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.layout
}

func (r *Repository) SetLayout(layout string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if layout == "" {
		layout = config.DefaultLayout
	}
	r.layout = layout
}

// Schedule returns the scanning schedule.
func (r *Repository) Schedule() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.schedule
}

// SetSchedule validates and sets the scanning schedule. An empty expression
// clears it.
func (r *Repository) SetSchedule(expr string) error {
	if expr != "" {
		if err := config.ValidateSchedule(expr); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedule = expr
	return nil
}

// State returns the lifecycle state.
func (r *Repository) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// IsOpen reports whether the repository is usable.
func (r *Repository) IsOpen() bool {
	return r.State() == StateOpen
}

// MarkClosedRegistered flags a closed repository that was put back into the
// registry.
func (r *Repository) MarkClosedRegistered() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateClosedRegistered
}

// Storage returns the storage handle, or nil for repositories without one.
func (r *Repository) Storage() storage.Storage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.storage
}

// SetStorage swaps the storage handle and returns the previous one, which
// the caller closes.
func (r *Repository) SetStorage(st storage.Storage) storage.Storage {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.storage
	r.storage = st
	return prev
}

// Managed returns the managed repository settings.
func (r *Repository) Managed() ManagedSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.managed
}

func (r *Repository) SetManaged(s ManagedSettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.managed = s
}

// Remote returns a copy of the remote repository settings.
func (r *Repository) Remote() RemoteSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.remote.clone()
}

func (r *Repository) SetRemote(s RemoteSettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remote = s.clone()
}

// Group returns a copy of the group settings.
func (r *Repository) Group() GroupSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.group.clone()
}

// SetGroup replaces the group settings. Duplicate members are dropped,
// keeping the first occurrence.
func (r *Repository) SetGroup(s GroupSettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.group = s.clone()
}

// Members returns the ordered member ids of a group.
func (r *Repository) Members() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.group.Members...)
}

// AddMember appends id unless it is already a member.
func (r *Repository) AddMember(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.group.Members {
		if m == id {
			return false
		}
	}
	r.group.Members = append(r.group.Members, id)
	return true
}

// RemoveMember drops id and reports whether it was a member.
func (r *Repository) RemoveMember(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.group.Members {
		if m == id {
			r.group.Members = append(r.group.Members[:i:i], r.group.Members[i+1:]...)
			return true
		}
	}
	return false
}

// Feature returns the feature of the given kind.
func (r *Repository) Feature(kind FeatureKind) (Feature, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.features[kind]
	if !ok {
		return nil, &UnsupportedFeatureError{ID: r.id, Feature: kind}
	}
	return f, nil
}

// Supports reports whether the repository declares the feature kind.
func (r *Repository) Supports(kind FeatureKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.features[kind]
	return ok
}

// Features lists the declared feature kinds in name order.
func (r *Repository) Features() []FeatureKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]FeatureKind, 0, len(r.features))
	for k := range r.features {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ReplaceFeatures discards the current features and installs fs.
func (r *Repository) ReplaceFeatures(fs ...Feature) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.features = make(map[FeatureKind]Feature, len(fs))
	for _, f := range fs {
		r.features[f.Kind()] = f
	}
}

// SetFeature installs or replaces a single feature.
func (r *Repository) SetFeature(f Feature) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.features[f.Kind()] = f
}

// IndexingContext returns the indexing context, or nil if none was created.
func (r *Repository) IndexingContext() IndexingContext {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.indexing
}

// SetIndexingContext attaches ctx, returning the previous context.
func (r *Repository) SetIndexingContext(ctx IndexingContext) IndexingContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.indexing
	r.indexing = ctx
	return prev
}

// Close releases the indexing context and the storage. Closing an already
// closed repository does nothing.
func (r *Repository) Close() error {
	r.mu.Lock()
	if r.state != StateOpen {
		r.mu.Unlock()
		return nil
	}
	r.state = StateClosed
	ic := r.indexing
	r.indexing = nil
	st := r.storage
	r.mu.Unlock()

	var firstErr error
	if ic != nil {
		if err := ic.Close(); err != nil {
			firstErr = fmt.Errorf("closing indexing context of %s: %w", r.id, err)
		}
	}
	if st != nil {
		if err := st.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing storage of %s: %w", r.id, err)
		}
	}
	return firstErr
}

func localized(m map[string]string, locale, fallback string) string {
	if v, ok := m[locale]; ok && v != "" {
		return v
	}
	if v, ok := m[DefaultLocale]; ok && v != "" {
		return v
	}
	return fallback
}

func setLocalized(m map[string]string, locale, v string) {
	if locale == "" {
		locale = DefaultLocale
	}
	if v == "" {
		delete(m, locale)
		return
	}
	m[locale] = v
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func dedupe(ids []string) []string {
	if ids == nil {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
