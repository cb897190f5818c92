package resolve

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/git-pkgs/repositories/internal/core"
)

const defaultConcurrency = 15

// BulkResolve resolves many coordinates in parallel. Failed resolutions are
// left out of the result and recorded as facts like any other resolution.
// Returns a map of coordinate string to model.
func BulkResolve(ctx context.Context, r *Resolver, coords []core.Coordinate) map[string]*ResolvedModel {
	return BulkResolveWithConcurrency(ctx, r, coords, defaultConcurrency)
}

// BulkResolveWithConcurrency resolves with a custom concurrency limit. A
// limit below one resolves one coordinate at a time.
func BulkResolveWithConcurrency(ctx context.Context, r *Resolver, coords []core.Coordinate, concurrency int) map[string]*ResolvedModel {
	concurrency = max(concurrency, 1)
	results := make(map[string]*ResolvedModel)
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, c := range coords {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			m, err := r.ResolveModel(ctx, c.GroupID, c.ArtifactID, c.Version)
			if err == nil {
				mu.Lock()
				results[c.String()] = m
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
