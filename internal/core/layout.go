package core

// Layout maps coordinates to storage paths for a repository type. The
// concrete argument is the on-disk version, which differs from the
// coordinate's version for timestamped snapshots.
type Layout interface {
	Model(c Coordinate, concrete string) string
	Artifact(c Coordinate, concrete, classifier, extension string) string
	VersionMetadata(c Coordinate) string
	ProjectMetadata(c Coordinate) string
}

// BaseLayout implements Layout with replaceable functions. Unset functions
// yield the empty string.
type BaseLayout struct {
	ModelFn           func(c Coordinate, concrete string) string
	ArtifactFn        func(c Coordinate, concrete, classifier, extension string) string
	VersionMetadataFn func(c Coordinate) string
	ProjectMetadataFn func(c Coordinate) string
}

func (b *BaseLayout) Model(c Coordinate, concrete string) string {
	if b.ModelFn != nil {
		return b.ModelFn(c, concrete)
	}
	return ""
}

func (b *BaseLayout) Artifact(c Coordinate, concrete, classifier, extension string) string {
	if b.ArtifactFn != nil {
		return b.ArtifactFn(c, concrete, classifier, extension)
	}
	return ""
}

func (b *BaseLayout) VersionMetadata(c Coordinate) string {
	if b.VersionMetadataFn != nil {
		return b.VersionMetadataFn(c)
	}
	return ""
}

func (b *BaseLayout) ProjectMetadata(c Coordinate) string {
	if b.ProjectMetadataFn != nil {
		return b.ProjectMetadataFn(c)
	}
	return ""
}

// BuildPaths returns the non-empty paths for a coordinate, keyed "model",
// "jar", "metadata", "project-metadata" and "purl".
func BuildPaths(l Layout, c Coordinate) map[string]string {
	result := make(map[string]string)
	if v := l.Model(c, c.Version); v != "" {
		result["model"] = v
	}
	if v := l.Artifact(c, c.Version, "", "jar"); v != "" {
		result["jar"] = v
	}
	if v := l.VersionMetadata(c); v != "" {
		result["metadata"] = v
	}
	if v := l.ProjectMetadata(c); v != "" {
		result["project-metadata"] = v
	}
	result["purl"] = c.PURL()
	return result
}
