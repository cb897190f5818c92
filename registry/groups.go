package registry

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/git-pkgs/repositories/config"
	"github.com/git-pkgs/repositories/internal/core"
)

// GroupHandler owns the lifecycle of repository groups. The registry calls
// it while holding its write lock, so implementations must not call back
// into the registry.
type GroupHandler interface {
	// PutGroup creates the group described by req.Config, or applies it to
	// req.Replace or req.Existing, and returns the object to register.
	PutGroup(ctx context.Context, req GroupRequest) (*core.Repository, error)

	// RemoveGroup releases group. The configuration entry is dropped by the
	// registry.
	RemoveGroup(ctx context.Context, snap *config.Configuration, group *core.Repository) error

	// RemoveMember drops memberID from groups and from every group in snap.
	RemoveMember(snap *config.Configuration, groups []*core.Repository, memberID string)
}

// GroupRequest carries one group put.
type GroupRequest struct {
	// Snapshot is the configuration being assembled for the save.
	Snapshot *config.Configuration
	// Config describes the group. The handler may rewrite it.
	Config *config.RepositoryGroupConfiguration
	// Existing is the registered group with the same id, if any.
	Existing *core.Repository
	// Replace is a caller supplied object to install instead of Existing.
	Replace  *core.Repository
	Provider core.Provider
	// Managed looks up managed repositories.
	Managed func(id string) *core.Repository
}

// FilterMembers drops ids from cfg that name no managed repository and
// returns them.
func FilterMembers(cfg *config.RepositoryGroupConfiguration, managed func(id string) *core.Repository) []string {
	var kept, dropped []string
	for _, id := range cfg.Repositories {
		if managed(id) == nil {
			dropped = append(dropped, id)
			continue
		}
		kept = append(kept, id)
	}
	cfg.Repositories = kept
	return dropped
}

// ApplyGroup creates or updates the group object for req through its
// provider.
func ApplyGroup(req GroupRequest) (*core.Repository, error) {
	switch {
	case req.Replace != nil:
		if err := req.Provider.UpdateGroup(req.Replace, req.Config); err != nil {
			return nil, err
		}
		return req.Replace, nil
	case req.Existing != nil:
		if err := req.Provider.UpdateGroup(req.Existing, req.Config); err != nil {
			return nil, err
		}
		return req.Existing, nil
	default:
		return req.Provider.CreateGroup(req.Config)
	}
}

// plainGroups manages groups through their provider alone, without merge
// scheduling.
type plainGroups struct {
	log logr.Logger
}

func (h *plainGroups) PutGroup(_ context.Context, req GroupRequest) (*core.Repository, error) {
	if dropped := FilterMembers(req.Config, req.Managed); len(dropped) > 0 {
		h.log.Info("ignoring unknown group members", "group", req.Config.ID, "members", dropped)
	}
	return ApplyGroup(req)
}

func (h *plainGroups) RemoveGroup(_ context.Context, _ *config.Configuration, group *core.Repository) error {
	return group.Close()
}

func (h *plainGroups) RemoveMember(snap *config.Configuration, groups []*core.Repository, memberID string) {
	for _, g := range groups {
		g.RemoveMember(memberID)
	}
	snap.RemoveGroupMember(memberID)
}
