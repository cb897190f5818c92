package core

import (
	"fmt"
	"strings"

	packageurl "github.com/package-url/packageurl-go"
)

// Coordinate identifies a Maven project version: namespace (groupId),
// project (artifactId) and version.
type Coordinate struct {
	GroupID    string
	ArtifactID string
	Version    string
}

// FullName returns "groupId:artifactId".
func (c Coordinate) FullName() string {
	return c.GroupID + ":" + c.ArtifactID
}

// String returns "groupId:artifactId:version", or FullName when the version
// is empty.
func (c Coordinate) String() string {
	if c.Version == "" {
		return c.FullName()
	}
	return c.FullName() + ":" + c.Version
}

// PURL returns the package URL for the coordinate.
func (c Coordinate) PURL() string {
	s := "pkg:maven/" + c.GroupID + "/" + c.ArtifactID
	if c.Version != "" {
		s += "@" + c.Version
	}
	return s
}

// WithVersion returns a copy with the version replaced.
func (c Coordinate) WithVersion(v string) Coordinate {
	c.Version = v
	return c
}

// Validate checks that every part is present and free of path separators.
func (c Coordinate) Validate() error {
	for field, v := range map[string]string{"groupId": c.GroupID, "artifactId": c.ArtifactID, "version": c.Version} {
		if v == "" {
			return &ValidationError{Field: field, Value: v, Err: fmt.Errorf("must not be empty")}
		}
		if strings.ContainsAny(v, "/\\:") || v == "." || v == ".." {
			return &ValidationError{Field: field, Value: v, Err: fmt.Errorf("contains a path separator")}
		}
	}
	return nil
}

// ParseCoordinate parses "groupId:artifactId[:version]".
func ParseCoordinate(s string) (Coordinate, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Coordinate{}, fmt.Errorf("invalid coordinate %q, expected groupId:artifactId[:version]", s)
	}
	c := Coordinate{GroupID: parts[0], ArtifactID: parts[1]}
	if len(parts) == 3 {
		c.Version = parts[2]
	}
	if c.GroupID == "" || c.ArtifactID == "" {
		return Coordinate{}, fmt.Errorf("invalid coordinate %q, expected groupId:artifactId[:version]", s)
	}
	return c, nil
}

// ParsePURL parses a maven Package URL such as
// pkg:maven/org.apache.commons/commons-lang3@3.12.0. The qualifiers are
// returned alongside, e.g. repository_url.
func ParsePURL(purl string) (Coordinate, map[string]string, error) {
	p, err := packageurl.FromString(purl)
	if err != nil {
		return Coordinate{}, nil, err
	}
	if p.Type != "maven" {
		return Coordinate{}, nil, fmt.Errorf("%w: %s", ErrUnknownType, p.Type)
	}
	if p.Namespace == "" {
		return Coordinate{}, nil, fmt.Errorf("maven purl %q has no namespace", purl)
	}
	c := Coordinate{GroupID: p.Namespace, ArtifactID: p.Name, Version: p.Version}
	return c, p.Qualifiers.Map(), nil
}
