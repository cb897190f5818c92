// Package resolve serves project models (POMs) of a managed repository,
// pulling them through from the repository's remote sources when they are
// not stored locally.
//
// A model fetched from a remote is written to temporary assets first,
// verified against its checksum sidecars and only then moved into place,
// model file last, so a reader never sees a model without its sidecars or a
// half written file.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"

	"github.com/git-pkgs/repositories/checksum"
	"github.com/git-pkgs/repositories/fetch"
	"github.com/git-pkgs/repositories/internal/core"
	"github.com/git-pkgs/repositories/internal/maven"
	"github.com/git-pkgs/repositories/storage"
)

// MaxParentDepth bounds the parent chain followed while building a model.
const MaxParentDepth = 16

var (
	errParentDepth = fmt.Errorf("parent chain longer than %d", MaxParentDepth)
	errParentCycle = errors.New("parent cycle")

	// ErrNoChecksum is returned for a remote model without any checksum
	// sidecar when checksums are required.
	ErrNoChecksum = errors.New("no checksum available")
)

// ResolvedModel is the effective model of a coordinate, with its parents
// merged in. Every caller gets its own copy.
type ResolvedModel struct {
	*maven.Model

	Repository string
	Requested  core.Coordinate
	// ConcreteVersion is the version the model file is stored under. For a
	// snapshot it is the timestamped version when one is known.
	ConcreteVersion string
	Path            string
	// Source is the remote that supplied the model, empty if it was
	// already stored locally.
	Source string
}

// Resolver resolves models for one managed repository.
type Resolver struct {
	repo    *core.Repository
	remotes []Remote
	layout  *maven.Layout

	transport        fetch.Transport
	algorithms       []checksum.Algorithm
	requireChecksums bool
	facts            FactStore
	metrics          *Metrics
	log              logr.Logger

	inflight singleflight.Group
	timeout  time.Duration
	now      func() time.Time
}

// DefaultResolveTimeout bounds one shared resolution, parents included.
const DefaultResolveTimeout = 5 * time.Minute

// Option configures a Resolver.
type Option func(*Resolver)

func WithTransport(t fetch.Transport) Option {
	return func(r *Resolver) {
		r.transport = t
	}
}

// WithChecksums sets the sidecars fetched and verified for remote models.
func WithChecksums(algs ...checksum.Algorithm) Option {
	return func(r *Resolver) {
		r.algorithms = algs
	}
}

// WithRequireChecksums rejects remote models that have none of the
// configured sidecars. By default such models are accepted, logged as
// errors and counted as unverified fetches.
func WithRequireChecksums(require bool) Option {
	return func(r *Resolver) {
		r.requireChecksums = require
	}
}

// WithResolveTimeout bounds a resolution shared by concurrent callers. It
// keeps running when the caller that started it goes away, up to d.
func WithResolveTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		r.timeout = d
	}
}

func WithFactStore(s FactStore) Option {
	return func(r *Resolver) {
		r.facts = s
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

func WithLogger(log logr.Logger) Option {
	return func(r *Resolver) {
		r.log = log
	}
}

// New returns a resolver for the managed repository repo trying remotes in
// order.
func New(repo *core.Repository, remotes []Remote, opts ...Option) (*Resolver, error) {
	if repo.Kind() != core.KindManaged {
		return nil, fmt.Errorf("%s is not a managed repository", repo)
	}
	if repo.Storage() == nil {
		return nil, fmt.Errorf("repository %s has no storage", repo.ID())
	}
	r := &Resolver{
		repo:       repo,
		remotes:    remotes,
		layout:     maven.NewLayout(),
		algorithms: checksum.DefaultAlgorithms,
		facts:      NewMemoryFactStore(),
		log:        logr.Discard(),
		timeout:    DefaultResolveTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.transport == nil {
		r.transport = fetch.NewHTTPTransport(fetch.WithTransportLogger(r.log))
	}
	return r, nil
}

// Repository returns the managed repository served by r.
func (r *Resolver) Repository() *core.Repository {
	return r.repo
}

// Facts returns the diagnostics recorded for the repository.
func (r *Resolver) Facts(ctx context.Context) ([]Fact, error) {
	return r.facts.Facts(ctx, r.repo.ID())
}

// ResolveModel returns the effective model of namespace:project:version.
// Concurrent calls for the same coordinate share one resolution, which is
// not cancelled by any single caller. A caller whose ctx ends stops waiting
// and gets ctx.Err().
func (r *Resolver) ResolveModel(ctx context.Context, namespace, project, version string) (*ResolvedModel, error) {
	c := core.Coordinate{GroupID: namespace, ArtifactID: project, Version: version}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if !r.repo.IsOpen() {
		return nil, fmt.Errorf("resolving in %s: %w", r.repo.ID(), core.ErrClosed)
	}
	flight := r.inflight.DoChan(c.String(), func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.resolve(shared, c)
	})
	select {
	case <-ctx.Done():
		r.metrics.resolution(r.repo.ID(), resultCancelled)
		return nil, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ResolvedModel).clone(), nil
	}
}

func (m *ResolvedModel) clone() *ResolvedModel {
	out := *m
	if m.Model != nil {
		out.Model = m.Model.Clone()
	}
	return &out
}

func (r *Resolver) resolve(ctx context.Context, c core.Coordinate) (*ResolvedModel, error) {
	repoID := r.repo.ID()
	if err := r.facts.Clear(ctx, repoID, c); err != nil {
		r.log.Error(err, "clearing diagnostics", "repository", repoID, "coordinate", c.String())
	}

	m, err := r.resolveModel(ctx, c, 0, make(map[string]bool))
	if err != nil {
		r.record(ctx, c, err)
		return nil, err
	}
	if m.Source == "" {
		r.metrics.resolution(repoID, resultLocal)
	} else {
		r.metrics.resolution(repoID, resultRemote)
	}
	return m, nil
}

func (r *Resolver) record(ctx context.Context, c core.Coordinate, err error) {
	var (
		missing    *MissingModelError
		invalid    *InvalidModelError
		mislocated *MislocatedModelError
		kind       FactKind
	)
	switch {
	case errors.As(err, &mislocated):
		kind = FactMislocated
		r.metrics.resolution(r.repo.ID(), resultInvalid)
	case errors.As(err, &invalid):
		kind = FactInvalid
		r.metrics.resolution(r.repo.ID(), resultInvalid)
	case errors.As(err, &missing):
		kind = FactMissing
		r.metrics.resolution(r.repo.ID(), resultMissing)
	default:
		r.metrics.resolution(r.repo.ID(), resultCancelled)
		return
	}
	f := Fact{
		RepositoryID: r.repo.ID(),
		Namespace:    c.GroupID,
		Project:      c.ArtifactID,
		Version:      c.Version,
		Kind:         kind,
		Message:      err.Error(),
		Time:         r.now().UTC(),
	}
	if err := r.facts.Put(ctx, f); err != nil {
		r.log.Error(err, "recording diagnostic", "repository", f.RepositoryID, "coordinate", c.String())
	}
}

func (r *Resolver) resolveModel(ctx context.Context, c core.Coordinate, depth int, seen map[string]bool) (*ResolvedModel, error) {
	repoID := r.repo.ID()
	if depth > MaxParentDepth {
		return nil, &InvalidModelError{Repository: repoID, Coordinate: c, Err: errParentDepth}
	}
	if seen[c.String()] {
		return nil, &InvalidModelError{Repository: repoID, Coordinate: c, Err: errParentCycle}
	}
	seen[c.String()] = true

	st := r.repo.Storage()
	concrete := r.localConcrete(st, c)
	modelPath := r.layout.Model(c, concrete)
	var source string

	if !st.Asset(modelPath).Exists() {
		var err error
		source, concrete, err = r.fetchRemote(ctx, st, c)
		if err != nil {
			return nil, err
		}
		modelPath = r.layout.Model(c, concrete)
	}

	model, err := readModel(st, st.Asset(modelPath))
	if err != nil {
		return nil, &InvalidModelError{Repository: repoID, Coordinate: c, Err: err}
	}

	declared := model.Coordinate()
	if declared.GroupID != c.GroupID || declared.ArtifactID != c.ArtifactID ||
		(declared.Version != c.Version && declared.Version != concrete) {
		return nil, &MislocatedModelError{Repository: repoID, Requested: c, Declared: declared}
	}

	if model.Parent != nil {
		pc := model.Parent.Coordinate()
		parent, err := r.resolveModel(ctx, pc, depth+1, seen)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// The parent's own failure is reported as text so that a
			// missing parent does not make this model look missing.
			return nil, &InvalidModelError{Repository: repoID, Coordinate: c, Err: fmt.Errorf("parent %s: %s", pc, err)}
		}
		model.Inherit(parent.Model)
	}

	return &ResolvedModel{
		Model:           model,
		Repository:      repoID,
		Requested:       c,
		ConcreteVersion: concrete,
		Path:            storage.Clean(modelPath),
		Source:          source,
	}, nil
}

// localConcrete maps a snapshot alias to its timestamped version using the
// local version metadata. Any problem falls back to the alias.
func (r *Resolver) localConcrete(st storage.Storage, c core.Coordinate) string {
	if !maven.IsSnapshot(c.Version) {
		return c.Version
	}
	a := st.Asset(r.layout.VersionMetadata(c))
	if !a.Exists() {
		return c.Version
	}
	meta, err := readMetadata(st, a, true)
	if err != nil {
		r.log.Info("unusable snapshot metadata, using alias", "repository", r.repo.ID(), "path", a.Path(), "error", err.Error())
		return c.Version
	}
	v, _ := meta.ConcreteVersion(c.Version)
	return v
}

// fetchRemote walks the remote chain until one source delivers a verified
// model. It returns the source id and the concrete version.
func (r *Resolver) fetchRemote(ctx context.Context, st storage.Storage, c core.Coordinate) (string, string, error) {
	for _, remote := range r.remotes {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}
		src := remote.Source.ID
		concrete, err := r.fetchFrom(ctx, st, remote, c)
		switch {
		case err == nil:
			r.metrics.fetch(src, resultFetched)
			r.log.Info("model fetched", "repository", r.repo.ID(), "source", src, "coordinate", c.String(), "version", concrete)
			return src, concrete, nil
		case ctx.Err() != nil:
			return "", "", ctx.Err()
		case errors.Is(err, fetch.ErrNotFound):
			r.metrics.fetch(src, resultNotFound)
			r.log.V(1).Info("model not on remote", "repository", r.repo.ID(), "source", src, "coordinate", c.String())
		case errors.Is(err, checksum.ErrMismatch), errors.Is(err, ErrNoChecksum):
			r.metrics.fetch(src, resultMismatch)
			r.log.Error(err, "rejected remote model", "repository", r.repo.ID(), "source", src, "coordinate", c.String())
		default:
			r.metrics.fetch(src, resultFailed)
			r.log.Error(err, "remote fetch failed", "repository", r.repo.ID(), "source", src, "coordinate", c.String())
		}
	}
	return "", "", &MissingModelError{Repository: r.repo.ID(), Coordinate: c}
}

// fetchFrom downloads metadata, model and sidecars from one source, verifies
// them and publishes them into st.
func (r *Resolver) fetchFrom(ctx context.Context, st storage.Storage, remote Remote, c core.Coordinate) (string, error) {
	sess, err := r.transport.Connect(ctx, remote.Source, remote.Credentials, remote.Proxy)
	if err != nil {
		return "", err
	}
	defer func() { _ = sess.Disconnect() }()

	stg := &staging{st: st}
	defer stg.discard()

	concrete := c.Version
	if maven.IsSnapshot(c.Version) {
		metaPath := r.layout.VersionMetadata(c)
		tmp, err := sess.Fetch(ctx, metaPath, st)
		switch {
		case err == nil:
			stg.add(metaPath, tmp)
			meta, err := readMetadata(st, tmp, false)
			if err != nil {
				r.log.Info("unusable remote snapshot metadata, using alias", "source", remote.Source.ID, "path", metaPath, "error", err.Error())
				break
			}
			concrete, _ = meta.ConcreteVersion(c.Version)
		case errors.Is(err, fetch.ErrNotFound):
		default:
			return "", err
		}
	}

	modelPath := r.layout.Model(c, concrete)
	model, err := sess.Fetch(ctx, modelPath, st)
	if err != nil {
		return "", err
	}
	stg.add(modelPath, model)

	sidecars := make(map[checksum.Algorithm]*storage.Asset, len(r.algorithms))
	for _, alg := range r.algorithms {
		p := modelPath + alg.Extension()
		sc, err := sess.Fetch(ctx, p, st)
		switch {
		case err == nil:
			stg.add(p, sc)
			sidecars[alg] = sc
		case errors.Is(err, fetch.ErrNotFound):
		default:
			return "", err
		}
	}
	if len(sidecars) == 0 {
		if r.requireChecksums {
			return "", fmt.Errorf("%s on %s: %w", modelPath, remote.Source.ID, ErrNoChecksum)
		}
		r.log.Error(ErrNoChecksum, "accepting unverified remote model", "source", remote.Source.ID, "path", modelPath)
		r.metrics.fetch(remote.Source.ID, resultUnverified)
	} else if _, err := checksum.VerifyAsset(st, model, sidecars, false); err != nil {
		return "", err
	}

	if err := stg.publish(modelPath); err != nil {
		return "", err
	}
	return concrete, nil
}

// staging tracks temporary assets and their final paths.
type staging struct {
	st     storage.Storage
	paths  []string
	assets []*storage.Asset
	done   bool
}

func (s *staging) add(final string, tmp *storage.Asset) {
	s.paths = append(s.paths, final)
	s.assets = append(s.assets, tmp)
}

// publish moves every staged asset into place while holding the write lock
// of the model path. The model is moved last. A model that appeared in the
// meantime is kept and the staged copies are dropped.
func (s *staging) publish(modelPath string) error {
	unlock := s.st.Lock(modelPath)
	defer unlock()

	if s.st.Asset(modelPath).Exists() {
		return nil
	}
	var model *storage.Asset
	for i, p := range s.paths {
		if p == modelPath {
			model = s.assets[i]
			continue
		}
		if _, err := s.st.MoveAsset(s.assets[i], p, true); err != nil {
			return fmt.Errorf("publishing %s: %w", p, err)
		}
	}
	if model != nil {
		if _, err := s.st.MoveAsset(model, modelPath, false); err != nil {
			return fmt.Errorf("publishing %s: %w", modelPath, err)
		}
	}
	s.done = true
	return nil
}

func (s *staging) discard() {
	if s.done {
		return
	}
	for _, a := range s.assets {
		if a.Exists() {
			_ = s.st.RemoveAsset(a, false)
		}
	}
}

func readModel(st storage.Storage, a *storage.Asset) (*maven.Model, error) {
	var m *maven.Model
	err := st.ConsumeData(a, func(r io.Reader) error {
		var err error
		m, err = maven.ParsePOM(r)
		return err
	}, true)
	return m, err
}

func readMetadata(st storage.Storage, a *storage.Asset, readLock bool) (*maven.Metadata, error) {
	var m *maven.Metadata
	err := st.ConsumeData(a, func(r io.Reader) error {
		var err error
		m, err = maven.ParseMetadata(r)
		return err
	}, readLock)
	return m, err
}
