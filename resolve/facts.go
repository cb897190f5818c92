package resolve

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/git-pkgs/repositories/internal/core"
)

// FactKind classifies a diagnostic fact.
type FactKind string

const (
	FactMissing    FactKind = "missing"
	FactInvalid    FactKind = "invalid"
	FactMislocated FactKind = "mislocated"
)

// Fact is a diagnostic recorded against one coordinate of a repository.
type Fact struct {
	RepositoryID string    `json:"repositoryId"`
	Namespace    string    `json:"namespace"`
	Project      string    `json:"project"`
	Version      string    `json:"version"`
	Kind         FactKind  `json:"kind"`
	Message      string    `json:"message"`
	Time         time.Time `json:"time"`
}

// Coordinate returns the coordinate the fact is about.
func (f Fact) Coordinate() core.Coordinate {
	return core.Coordinate{GroupID: f.Namespace, ArtifactID: f.Project, Version: f.Version}
}

func factKey(c core.Coordinate) string {
	return c.String()
}

// FactStore keeps at most one fact per repository and coordinate.
type FactStore interface {
	Put(ctx context.Context, f Fact) error
	Clear(ctx context.Context, repoID string, c core.Coordinate) error
	// Facts lists the facts of a repository ordered by coordinate.
	Facts(ctx context.Context, repoID string) ([]Fact, error)
}

// MemoryFactStore is a FactStore held in memory.
type MemoryFactStore struct {
	mu    sync.RWMutex
	facts map[string]map[string]Fact
}

func NewMemoryFactStore() *MemoryFactStore {
	return &MemoryFactStore{facts: make(map[string]map[string]Fact)}
}

func (s *MemoryFactStore) Put(_ context.Context, f Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, ok := s.facts[f.RepositoryID]
	if !ok {
		repo = make(map[string]Fact)
		s.facts[f.RepositoryID] = repo
	}
	repo[factKey(f.Coordinate())] = f
	return nil
}

func (s *MemoryFactStore) Clear(_ context.Context, repoID string, c core.Coordinate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.facts[repoID], factKey(c))
	return nil
}

func (s *MemoryFactStore) Facts(_ context.Context, repoID string) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Fact, 0, len(s.facts[repoID]))
	for _, f := range s.facts[repoID] {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		return factKey(out[i].Coordinate()) < factKey(out[j].Coordinate())
	})
	return out, nil
}
