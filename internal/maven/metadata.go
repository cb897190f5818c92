package maven

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// SnapshotSuffix marks a version as a snapshot alias.
const SnapshotSuffix = "SNAPSHOT"

// Metadata is the content of a maven-metadata.xml file.
type Metadata struct {
	XMLName    xml.Name   `xml:"metadata"`
	GroupID    string     `xml:"groupId"`
	ArtifactID string     `xml:"artifactId"`
	Version    string     `xml:"version,omitempty"`
	Versioning Versioning `xml:"versioning"`
}

type Versioning struct {
	Latest           string            `xml:"latest,omitempty"`
	Release          string            `xml:"release,omitempty"`
	Versions         []string          `xml:"versions>version,omitempty"`
	LastUpdated      string            `xml:"lastUpdated,omitempty"`
	Snapshot         *Snapshot         `xml:"snapshot,omitempty"`
	SnapshotVersions []SnapshotVersion `xml:"snapshotVersions>snapshotVersion,omitempty"`
}

// Snapshot records the latest deployment of a snapshot version.
type Snapshot struct {
	Timestamp   string `xml:"timestamp,omitempty"`
	BuildNumber int    `xml:"buildNumber,omitempty"`
	LocalCopy   bool   `xml:"localCopy,omitempty"`
}

type SnapshotVersion struct {
	Classifier string `xml:"classifier,omitempty"`
	Extension  string `xml:"extension"`
	Value      string `xml:"value"`
	Updated    string `xml:"updated,omitempty"`
}

// ParseMetadata reads a maven-metadata.xml document.
func ParseMetadata(r io.Reader) (*Metadata, error) {
	var m Metadata
	if err := xml.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", MetadataFile, err)
	}
	return &m, nil
}

// IsSnapshot reports whether version is a snapshot alias.
func IsSnapshot(version string) bool {
	return strings.HasSuffix(version, SnapshotSuffix)
}

// SnapshotBase strips the "-SNAPSHOT" suffix from a snapshot alias.
func SnapshotBase(version string) string {
	return strings.TrimSuffix(strings.TrimSuffix(version, SnapshotSuffix), "-")
}

// TimestampedVersion joins base, timestamp and build number the way deployed
// snapshot files are named: base-timestamp-build.
func TimestampedVersion(version, timestamp string, buildNumber int) string {
	return SnapshotBase(version) + "-" + timestamp + "-" + strconv.Itoa(buildNumber)
}

// ConcreteVersion returns the on-disk version for version according to m.
// It reports false when m carries no usable snapshot record, in which case
// the alias itself is the concrete version.
func (m *Metadata) ConcreteVersion(version string) (string, bool) {
	if !IsSnapshot(version) || m == nil {
		return version, false
	}
	s := m.Versioning.Snapshot
	if s == nil || s.Timestamp == "" || s.BuildNumber <= 0 {
		return version, false
	}
	return TimestampedVersion(version, s.Timestamp, s.BuildNumber), true
}
