package index

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/git-pkgs/repositories/config"
	"github.com/git-pkgs/repositories/internal/core"
	"github.com/git-pkgs/repositories/storage"
)

// Merger builds the merged index of a repository group from the indexes of
// its members.
type Merger struct {
	log logr.Logger
	now func() time.Time
}

// NewMerger returns a merger logging to log.
func NewMerger(log logr.Logger) *Merger {
	return &Merger{log: log, now: time.Now}
}

// MergedDir returns the storage path of the group's merged index.
func MergedDir(group *core.Repository) string {
	p := group.Group().MergedIndexPath
	if p == "" {
		p = config.DefaultMergedIndexPath
	}
	return storage.Clean(p)
}

// Merge rewrites the merged index of group unless it is younger than the
// group's TTL. It reports whether a merge happened.
func (m *Merger) Merge(ctx context.Context, group *core.Repository, members []*core.Repository) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	st := group.Storage()
	if st == nil {
		return false, fmt.Errorf("merging index of %s: %w", group.ID(), ErrNoStorage)
	}
	dir := MergedDir(group)
	now := m.now().UTC()

	existing, err := ReadMergedDescriptor(group)
	if ttl := group.Group().MergedIndexTTL; err == nil && ttl > 0 && now.Sub(existing.Updated) < ttl {
		m.log.V(1).Info("merged index still fresh", "group", group.ID(), "updated", existing.Updated)
		return false, nil
	}

	desc := &Descriptor{
		ContextID:    uuid.NewString(),
		RepositoryID: group.ID(),
		Type:         group.Type(),
		Created:      now,
		Updated:      now,
	}
	if existing != nil {
		desc.Created = existing.Created
	}
	for _, member := range members {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if member == nil || !member.IsOpen() {
			continue
		}
		desc.Members = append(desc.Members, member.ID())
	}
	if _, err := st.AddAsset(dir, true); err != nil {
		return false, fmt.Errorf("merging index of %s: %w", group.ID(), err)
	}
	if err := writeDescriptorFile(st, path.Join(dir, MergedDescriptorFile), desc); err != nil {
		return false, fmt.Errorf("merging index of %s: %w", group.ID(), err)
	}
	m.log.Info("merged index", "group", group.ID(), "members", len(desc.Members))
	return true, nil
}
