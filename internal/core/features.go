package core

import "time"

// FeatureKind identifies an optional repository capability.
type FeatureKind string

const (
	FeatureStaging         FeatureKind = "staging"
	FeatureRemoteIndex     FeatureKind = "remote-index"
	FeatureArtifactCleanup FeatureKind = "artifact-cleanup"
	FeatureIndexCreation   FeatureKind = "index-creation"
)

// Feature is a capability record attached to a repository.
type Feature interface {
	Kind() FeatureKind
}

// StagingSuffix is appended to a repository id to name its staging repository.
const StagingSuffix = "-stage"

// StagingID returns the id of the staging repository for id.
func StagingID(id string) string {
	return id + StagingSuffix
}

// StagingFeature links a managed repository to its staging repository. The
// staging repository is referenced by id and resolved through the registry.
type StagingFeature struct {
	StageRepoNeeded     bool
	StagingRepositoryID string
}

func (StagingFeature) Kind() FeatureKind { return FeatureStaging }

// IndexCreationFeature declares that the repository maintains a search index.
type IndexCreationFeature struct {
	IndexPath               string
	PackedIndexPath         string
	SkipPackedIndexCreation bool
}

func (IndexCreationFeature) Kind() FeatureKind { return FeatureIndexCreation }

// ArtifactCleanupFeature holds snapshot retention rules.
type ArtifactCleanupFeature struct {
	RetentionPeriod         time.Duration
	RetentionCount          int
	DeleteReleasedSnapshots bool
}

func (ArtifactCleanupFeature) Kind() FeatureKind { return FeatureArtifactCleanup }

// RemoteIndexFeature describes how the index of a remote repository is
// downloaded.
type RemoteIndexFeature struct {
	DownloadRemoteIndex bool
	IndexURI            string
	ProxyID             string
	DownloadTimeout     time.Duration
	DownloadOnStartup   bool
}

func (RemoteIndexFeature) Kind() FeatureKind { return FeatureRemoteIndex }

// FeatureOf returns the feature of type T attached to r.
func FeatureOf[T Feature](r *Repository) (T, error) {
	var zero T
	f, err := r.Feature(zero.Kind())
	if err != nil {
		return zero, err
	}
	typed, ok := f.(T)
	if !ok {
		return zero, &UnsupportedFeatureError{ID: r.ID(), Feature: zero.Kind()}
	}
	return typed, nil
}
