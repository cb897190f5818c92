// Package maven provides the repository provider, storage layout and model
// parsing for Maven 2 repositories.
package maven

import (
	"fmt"
	"strings"
	"time"

	"github.com/git-pkgs/repositories/config"
	"github.com/git-pkgs/repositories/internal/core"
	"github.com/git-pkgs/repositories/storage"
)

const (
	repositoryType = "maven"

	// MetadataFile is the name of the per-directory metadata file.
	MetadataFile = "maven-metadata.xml"
)

func init() {
	core.Register(repositoryType, func(sf storage.Factory) core.Provider {
		return New(sf)
	})
}

// Provider creates maven repositories. It holds no repository state.
type Provider struct {
	storage storage.Factory
}

// New returns a provider opening repository storage through sf. A nil
// factory keeps data in memory.
func New(sf storage.Factory) *Provider {
	if sf == nil {
		sf = storage.NewMemoryFactory()
	}
	return &Provider{storage: sf}
}

func (p *Provider) Type() string {
	return repositoryType
}

func (p *Provider) Supports(kind core.Kind) []core.FeatureKind {
	switch kind {
	case core.KindManaged:
		return []core.FeatureKind{core.FeatureArtifactCleanup, core.FeatureIndexCreation, core.FeatureStaging}
	case core.KindRemote:
		return []core.FeatureKind{core.FeatureIndexCreation, core.FeatureRemoteIndex}
	case core.KindGroup:
		return []core.FeatureKind{core.FeatureIndexCreation}
	}
	return nil
}

func location(id, loc string) string {
	if loc == "" {
		return id
	}
	return loc
}

func (p *Provider) open(repo *core.Repository, id, loc string) error {
	loc = location(id, loc)
	if repo.Storage() != nil && repo.Location() == loc {
		return nil
	}
	st, err := p.storage.NewStorage(id, loc)
	if err != nil {
		return fmt.Errorf("opening storage for %s: %w", id, err)
	}
	if prev := repo.SetStorage(st); prev != nil {
		_ = prev.Close()
	}
	repo.SetLocation(loc)
	return nil
}

func checkType(id, typ string) error {
	if typ != "" && !strings.EqualFold(typ, repositoryType) {
		return fmt.Errorf("repository %s: %w: %s", id, core.ErrUnknownType, typ)
	}
	return nil
}

func (p *Provider) CreateManaged(cfg *config.ManagedRepositoryConfiguration) (*core.Repository, error) {
	if err := checkType(cfg.ID, cfg.Type); err != nil {
		return nil, err
	}
	repo := core.NewRepository(core.KindManaged, repositoryType, cfg.ID, nil)
	if err := p.UpdateManaged(repo, cfg); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return repo, nil
}

func (p *Provider) UpdateManaged(repo *core.Repository, cfg *config.ManagedRepositoryConfiguration) error {
	if repo.ID() != cfg.ID {
		return fmt.Errorf("updating %s with configuration of %s", repo.ID(), cfg.ID)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := repo.SetSchedule(cfg.RefreshCronExpression); err != nil {
		return err
	}
	if err := p.open(repo, cfg.ID, cfg.Location); err != nil {
		return err
	}
	repo.SetName(core.DefaultLocale, cfg.Name)
	repo.SetDescription(core.DefaultLocale, cfg.Description)
	repo.SetLayout(cfg.Layout)
	repo.SetManaged(core.ManagedSettings{
		Releases:           cfg.Releases,
		Snapshots:          cfg.Snapshots,
		BlockRedeployments: cfg.BlockRedeployments,
		Scanned:            cfg.Scanned,
	})

	features := []core.Feature{
		core.ArtifactCleanupFeature{
			RetentionPeriod:         time.Duration(cfg.RetentionPeriod) * 24 * time.Hour,
			RetentionCount:          cfg.RetentionCount,
			DeleteReleasedSnapshots: cfg.DeleteReleasedSnapshots,
		},
		core.IndexCreationFeature{
			IndexPath:               orDefault(cfg.IndexDir, config.DefaultIndexPath),
			PackedIndexPath:         orDefault(cfg.PackedIndexDir, config.DefaultPackedIndexPath),
			SkipPackedIndexCreation: cfg.SkipPackedIndexCreation,
		},
	}
	// Staging repositories never get a staging repository of their own.
	if !strings.HasSuffix(cfg.ID, core.StagingSuffix) {
		features = append(features, core.StagingFeature{
			StageRepoNeeded:     cfg.StageRepoNeeded,
			StagingRepositoryID: core.StagingID(cfg.ID),
		})
	}
	repo.ReplaceFeatures(features...)
	return nil
}

func (p *Provider) ManagedConfiguration(repo *core.Repository) (*config.ManagedRepositoryConfiguration, error) {
	if repo.Kind() != core.KindManaged {
		return nil, fmt.Errorf("%s is not a managed repository", repo)
	}
	m := repo.Managed()
	cfg := &config.ManagedRepositoryConfiguration{
		ID:                    repo.ID(),
		Type:                  repositoryType,
		Name:                  repo.Name(core.DefaultLocale),
		Description:           repo.Description(core.DefaultLocale),
		Location:              repo.Location(),
		Layout:                repo.Layout(),
		Releases:              m.Releases,
		Snapshots:             m.Snapshots,
		BlockRedeployments:    m.BlockRedeployments,
		Scanned:               m.Scanned,
		RefreshCronExpression: repo.Schedule(),
	}
	if cfg.Name == repo.ID() {
		cfg.Name = ""
	}
	if f, err := core.FeatureOf[core.ArtifactCleanupFeature](repo); err == nil {
		cfg.RetentionPeriod = int(f.RetentionPeriod / (24 * time.Hour))
		cfg.RetentionCount = f.RetentionCount
		cfg.DeleteReleasedSnapshots = f.DeleteReleasedSnapshots
	}
	if f, err := core.FeatureOf[core.IndexCreationFeature](repo); err == nil {
		cfg.IndexDir = f.IndexPath
		cfg.PackedIndexDir = f.PackedIndexPath
		cfg.SkipPackedIndexCreation = f.SkipPackedIndexCreation
	}
	if f, err := core.FeatureOf[core.StagingFeature](repo); err == nil {
		cfg.StageRepoNeeded = f.StageRepoNeeded
	}
	return cfg, nil
}

func (p *Provider) StagingConfiguration(cfg *config.ManagedRepositoryConfiguration) *config.ManagedRepositoryConfiguration {
	st := cfg.Copy()
	st.ID = core.StagingID(cfg.ID)
	st.Location = location(cfg.ID, cfg.Location) + core.StagingSuffix
	if cfg.Name != "" {
		st.Name = cfg.Name + " (staging)"
	}
	st.StageRepoNeeded = false
	return st
}

func (p *Provider) CreateRemote(cfg *config.RemoteRepositoryConfiguration) (*core.Repository, error) {
	if err := checkType(cfg.ID, cfg.Type); err != nil {
		return nil, err
	}
	repo := core.NewRepository(core.KindRemote, repositoryType, cfg.ID, nil)
	if err := p.UpdateRemote(repo, cfg); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return repo, nil
}

func (p *Provider) UpdateRemote(repo *core.Repository, cfg *config.RemoteRepositoryConfiguration) error {
	if repo.ID() != cfg.ID {
		return fmt.Errorf("updating %s with configuration of %s", repo.ID(), cfg.ID)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := repo.SetSchedule(cfg.RefreshCronExpression); err != nil {
		return err
	}
	if err := p.open(repo, cfg.ID, cfg.Location); err != nil {
		return err
	}
	repo.SetName(core.DefaultLocale, cfg.Name)
	repo.SetDescription(core.DefaultLocale, cfg.Description)
	repo.SetLayout(cfg.Layout)
	repo.SetRemote(core.RemoteSettings{
		URL:             cfg.URL,
		Username:        cfg.Username,
		Password:        cfg.Password,
		Timeout:         time.Duration(cfg.TimeoutSeconds) * time.Second,
		CheckPath:       cfg.CheckPath,
		ExtraHeaders:    cfg.ExtraHeaders,
		ExtraParameters: cfg.ExtraParameters,
	})
	repo.ReplaceFeatures(
		core.IndexCreationFeature{
			IndexPath:       orDefault(cfg.IndexDir, config.DefaultIndexPath),
			PackedIndexPath: orDefault(cfg.PackedIndexDir, config.DefaultPackedIndexPath),
		},
		core.RemoteIndexFeature{
			DownloadRemoteIndex: cfg.DownloadRemoteIndex,
			IndexURI:            cfg.RemoteIndexURL,
			ProxyID:             cfg.RemoteDownloadNetworkProxyID,
			DownloadTimeout:     time.Duration(cfg.RemoteDownloadTimeout) * time.Second,
			DownloadOnStartup:   cfg.DownloadRemoteIndexOnStartup,
		},
	)
	return nil
}

func (p *Provider) RemoteConfiguration(repo *core.Repository) (*config.RemoteRepositoryConfiguration, error) {
	if repo.Kind() != core.KindRemote {
		return nil, fmt.Errorf("%s is not a remote repository", repo)
	}
	r := repo.Remote()
	cfg := &config.RemoteRepositoryConfiguration{
		ID:                    repo.ID(),
		Type:                  repositoryType,
		Name:                  repo.Name(core.DefaultLocale),
		Description:           repo.Description(core.DefaultLocale),
		Location:              repo.Location(),
		Layout:                repo.Layout(),
		URL:                   r.URL,
		Username:              r.Username,
		Password:              r.Password,
		TimeoutSeconds:        int(r.Timeout / time.Second),
		CheckPath:             r.CheckPath,
		ExtraHeaders:          r.ExtraHeaders,
		ExtraParameters:       r.ExtraParameters,
		RefreshCronExpression: repo.Schedule(),
	}
	if cfg.Name == repo.ID() {
		cfg.Name = ""
	}
	if f, err := core.FeatureOf[core.IndexCreationFeature](repo); err == nil {
		cfg.IndexDir = f.IndexPath
		cfg.PackedIndexDir = f.PackedIndexPath
	}
	if f, err := core.FeatureOf[core.RemoteIndexFeature](repo); err == nil {
		cfg.DownloadRemoteIndex = f.DownloadRemoteIndex
		cfg.RemoteIndexURL = f.IndexURI
		cfg.RemoteDownloadNetworkProxyID = f.ProxyID
		cfg.RemoteDownloadTimeout = int(f.DownloadTimeout / time.Second)
		cfg.DownloadRemoteIndexOnStartup = f.DownloadOnStartup
	}
	return cfg, nil
}

func (p *Provider) CreateGroup(cfg *config.RepositoryGroupConfiguration) (*core.Repository, error) {
	if err := checkType(cfg.ID, cfg.Type); err != nil {
		return nil, err
	}
	repo := core.NewRepository(core.KindGroup, repositoryType, cfg.ID, nil)
	if err := p.UpdateGroup(repo, cfg); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return repo, nil
}

func (p *Provider) UpdateGroup(repo *core.Repository, cfg *config.RepositoryGroupConfiguration) error {
	if repo.ID() != cfg.ID {
		return fmt.Errorf("updating %s with configuration of %s", repo.ID(), cfg.ID)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := repo.SetSchedule(cfg.CronExpression); err != nil {
		return err
	}
	if err := p.open(repo, cfg.ID, cfg.Location); err != nil {
		return err
	}
	repo.SetName(core.DefaultLocale, cfg.Name)
	repo.SetDescription(core.DefaultLocale, cfg.Description)
	repo.SetGroup(core.GroupSettings{
		Members:         cfg.Repositories,
		MergedIndexTTL:  time.Duration(cfg.MergedIndexTTL) * time.Minute,
		MergedIndexPath: cfg.MergedIndexPath,
		MergeSchedule:   cfg.CronExpression,
	})
	repo.ReplaceFeatures(core.IndexCreationFeature{IndexPath: cfg.MergedIndexPath})
	return nil
}

func (p *Provider) GroupConfiguration(repo *core.Repository) (*config.RepositoryGroupConfiguration, error) {
	if repo.Kind() != core.KindGroup {
		return nil, fmt.Errorf("%s is not a repository group", repo)
	}
	g := repo.Group()
	cfg := &config.RepositoryGroupConfiguration{
		ID:              repo.ID(),
		Type:            repositoryType,
		Name:            repo.Name(core.DefaultLocale),
		Description:     repo.Description(core.DefaultLocale),
		Location:        repo.Location(),
		Repositories:    g.Members,
		MergedIndexPath: g.MergedIndexPath,
		MergedIndexTTL:  int(g.MergedIndexTTL / time.Minute),
		CronExpression:  g.MergeSchedule,
	}
	if cfg.Name == repo.ID() {
		cfg.Name = ""
	}
	return cfg, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
