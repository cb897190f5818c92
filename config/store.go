package config

import (
	"context"
	"errors"
	"sync"
)

// ErrSave is wrapped by errors returned from Store.Save.
var ErrSave = errors.New("saving configuration")

// Store is the single writer of record for the persisted configuration.
type Store interface {
	// Configuration returns a deep copy of the current configuration.
	Configuration() *Configuration

	// Save persists cfg. On failure nothing is written.
	Save(ctx context.Context, cfg *Configuration) error

	// AddListener registers a callback for changes not made through Save.
	AddListener(l Listener)
}

// ChangeEvent describes an out-of-band configuration change.
type ChangeEvent struct {
	Source string
}

// Listener receives configuration change notifications.
type Listener interface {
	ConfigurationChanged(ctx context.Context, ev ChangeEvent)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev ChangeEvent)

func (f ListenerFunc) ConfigurationChanged(ctx context.Context, ev ChangeEvent) {
	f(ctx, ev)
}

// listeners is embedded by stores to manage their subscribers.
type listeners struct {
	mu   sync.Mutex
	list []Listener
}

func (l *listeners) AddListener(listener Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.list = append(l.list, listener)
}

func (l *listeners) notify(ctx context.Context, ev ChangeEvent) {
	l.mu.Lock()
	list := make([]Listener, len(l.list))
	copy(list, l.list)
	l.mu.Unlock()

	for _, listener := range list {
		listener.ConfigurationChanged(ctx, ev)
	}
}

// MemoryStore keeps the configuration in memory. It is used by tests and by
// embedders that persist configuration elsewhere.
type MemoryStore struct {
	listeners

	mu      sync.Mutex
	cfg     *Configuration
	saves   int
	failErr error
}

// NewMemoryStore returns a store seeded with a copy of cfg.
func NewMemoryStore(cfg *Configuration) *MemoryStore {
	return &MemoryStore{cfg: cfg.Copy()}
}

func (s *MemoryStore) Configuration() *Configuration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Copy()
}

func (s *MemoryStore) Save(ctx context.Context, cfg *Configuration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return errors.Join(ErrSave, s.failErr)
	}
	if err := cfg.Validate(); err != nil {
		return errors.Join(ErrSave, err)
	}
	s.cfg = cfg.Copy()
	s.saves++
	return nil
}

// FailSaves makes every following Save return err. A nil err restores normal
// behaviour.
func (s *MemoryStore) FailSaves(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// Saves returns the number of successful saves.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Replace swaps the stored configuration without going through Save and
// notifies listeners, as if the configuration had been edited externally.
func (s *MemoryStore) Replace(ctx context.Context, cfg *Configuration) {
	s.mu.Lock()
	s.cfg = cfg.Copy()
	s.mu.Unlock()
	s.notify(ctx, ChangeEvent{Source: "memory"})
}
