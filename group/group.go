// Package group manages repository groups: it fills in their defaults,
// provisions the merged index directory and keeps one merge job scheduled
// per group.
package group

import (
	"context"
	"fmt"

	"dario.cat/mergo"
	"github.com/go-logr/logr"

	"github.com/git-pkgs/repositories/config"
	"github.com/git-pkgs/repositories/index"
	"github.com/git-pkgs/repositories/internal/core"
	"github.com/git-pkgs/repositories/registry"
)

// Handler implements registry.GroupHandler.
type Handler struct {
	sched  Scheduler
	merger *index.Merger
	log    logr.Logger

	// managed resolves member ids when a merge job runs.
	managed func(id string) *core.Repository
}

// Option configures a Handler.
type Option func(*Handler)

func WithScheduler(s Scheduler) Option {
	return func(h *Handler) {
		h.sched = s
	}
}

func WithLogger(log logr.Logger) Option {
	return func(h *Handler) {
		h.log = log
	}
}

// New creates a handler and attaches it to reg. Attach before the registry is
// initialized so that loaded groups get their merge jobs.
func New(reg *registry.Registry, opts ...Option) *Handler {
	h := &Handler{log: logr.Discard(), managed: reg.Managed}
	for _, opt := range opts {
		opt(h)
	}
	if h.sched == nil {
		h.sched = NewCronScheduler(h.log)
	}
	h.merger = index.NewMerger(h.log)
	reg.AttachGroupHandler(h)
	return h
}

func defaults() config.RepositoryGroupConfiguration {
	return config.RepositoryGroupConfiguration{
		MergedIndexTTL:  config.DefaultMergedIndexTTL,
		MergedIndexPath: config.DefaultMergedIndexPath,
		CronExpression:  config.DefaultMergedIndexSchedule,
	}
}

func (h *Handler) PutGroup(ctx context.Context, req registry.GroupRequest) (*core.Repository, error) {
	cfg := req.Config
	if err := mergo.Merge(cfg, defaults()); err != nil {
		return nil, fmt.Errorf("applying group defaults to %s: %w", cfg.ID, err)
	}
	if err := config.ValidateSchedule(cfg.CronExpression); err != nil {
		return nil, err
	}
	if dropped := registry.FilterMembers(cfg, req.Managed); len(dropped) > 0 {
		h.log.Info("ignoring unknown group members", "group", cfg.ID, "members", dropped)
	}

	if req.Existing != nil {
		h.sched.Unschedule(cfg.ID)
	}
	repo, err := registry.ApplyGroup(req)
	if err != nil {
		if req.Existing != nil {
			h.schedule(req.Existing)
		}
		return nil, err
	}

	st := repo.Storage()
	if st == nil {
		return nil, fmt.Errorf("group %s: %w", cfg.ID, index.ErrNoStorage)
	}
	if _, err := st.AddAsset(index.MergedDir(repo), true); err != nil {
		return nil, fmt.Errorf("provisioning merged index of %s: %w", cfg.ID, err)
	}
	h.schedule(repo)
	return repo, nil
}

func (h *Handler) schedule(group *core.Repository) {
	expr := group.Group().MergeSchedule
	if expr == "" {
		expr = config.DefaultMergedIndexSchedule
	}
	if err := h.sched.Schedule(group.ID(), expr, func() { h.runMerge(group) }); err != nil {
		h.log.Error(err, "scheduling index merge", "group", group.ID(), "schedule", expr)
	}
}

func (h *Handler) runMerge(group *core.Repository) {
	if _, err := h.Merge(context.Background(), group); err != nil {
		h.log.Error(err, "merging group index", "group", group.ID())
	}
}

// Merge rebuilds the merged index of group from its current members unless
// the merged index is still within its TTL.
func (h *Handler) Merge(ctx context.Context, group *core.Repository) (bool, error) {
	if !group.IsOpen() {
		return false, fmt.Errorf("group %s: %w", group.ID(), core.ErrClosed)
	}
	var members []*core.Repository
	for _, id := range group.Members() {
		if m := h.managed(id); m != nil {
			members = append(members, m)
		}
	}
	return h.merger.Merge(ctx, group, members)
}

func (h *Handler) RemoveGroup(_ context.Context, _ *config.Configuration, group *core.Repository) error {
	h.sched.Unschedule(group.ID())
	return group.Close()
}

func (h *Handler) RemoveMember(snap *config.Configuration, groups []*core.Repository, memberID string) {
	for _, g := range groups {
		g.RemoveMember(memberID)
	}
	if touched := snap.RemoveGroupMember(memberID); len(touched) > 0 {
		h.log.V(1).Info("removed member from groups", "member", memberID, "groups", touched)
	}
}

var _ registry.GroupHandler = (*Handler)(nil)
