package maven

import (
	"strings"

	"github.com/git-pkgs/repositories/internal/core"
)

// Layout is the default Maven 2 directory layout:
// group/path/artifact/version/artifact-concrete[-classifier].ext
type Layout struct{}

// NewLayout returns the default layout.
func NewLayout() *Layout {
	return &Layout{}
}

// ProjectDir returns the directory holding every version of a project.
func ProjectDir(c core.Coordinate) string {
	return strings.ReplaceAll(c.GroupID, ".", "/") + "/" + c.ArtifactID
}

// VersionDir returns the directory of one project version. Snapshot
// versions keep their alias here; only file names carry the timestamp.
func VersionDir(c core.Coordinate) string {
	return ProjectDir(c) + "/" + c.Version
}

func (l *Layout) Model(c core.Coordinate, concrete string) string {
	return l.Artifact(c, concrete, "", "pom")
}

func (l *Layout) Artifact(c core.Coordinate, concrete, classifier, extension string) string {
	name := c.ArtifactID + "-" + concrete
	if classifier != "" {
		name += "-" + classifier
	}
	return VersionDir(c) + "/" + name + "." + extension
}

func (l *Layout) VersionMetadata(c core.Coordinate) string {
	return VersionDir(c) + "/" + MetadataFile
}

func (l *Layout) ProjectMetadata(c core.Coordinate) string {
	return ProjectDir(c) + "/" + MetadataFile
}

var _ core.Layout = (*Layout)(nil)
