package core

import "context"

// IndexingContext is an opaque handle to a repository's search index. Only
// its lifecycle is visible to the registry.
type IndexingContext interface {
	ID() string
	RepositoryID() string
	// Path is the storage relative directory holding the index.
	Path() string
	Close() error
}

// IndexManager creates and maintains indexing contexts for one repository
// type.
type IndexManager interface {
	CreateContext(ctx context.Context, repo *Repository) (IndexingContext, error)
	Reset(ctx context.Context, ic IndexingContext) (IndexingContext, error)
	Move(ctx context.Context, ic IndexingContext, repo *Repository) (IndexingContext, error)
	Close(ctx context.Context, ic IndexingContext) error
}
