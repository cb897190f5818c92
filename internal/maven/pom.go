package maven

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/github/go-spdx/v2/spdxexp"

	"github.com/git-pkgs/repositories/internal/core"
)

// ErrInvalidPOM is wrapped by every POM parse failure.
var ErrInvalidPOM = errors.New("invalid POM")

// Scope indicates when a dependency is required.
type Scope string

const (
	Runtime     Scope = "runtime"
	Development Scope = "development"
	Test        Scope = "test"
	Build       Scope = "build"
	Optional    Scope = "optional"
)

// Dependency is a declared dependency of a model.
type Dependency struct {
	Name         string // groupId:artifactId
	Requirements string
	Scope        Scope
	Optional     bool
	Type         string
	Classifier   string
}

// License is a declared license. SPDX is set when the name is, or maps to,
// a valid SPDX identifier.
type License struct {
	Name string `xml:"name"`
	URL  string `xml:"url"`
	SPDX string `xml:"-"`
}

// SCM is the declared source control location.
type SCM struct {
	URL                 string `xml:"url"`
	Connection          string `xml:"connection"`
	DeveloperConnection string `xml:"developerConnection"`
	Tag                 string `xml:"tag"`
}

// ParentRef points at the parent model.
type ParentRef struct {
	GroupID      string `xml:"groupId"`
	ArtifactID   string `xml:"artifactId"`
	Version      string `xml:"version"`
	RelativePath string `xml:"relativePath"`
}

// Coordinate returns the parent coordinate.
func (p *ParentRef) Coordinate() core.Coordinate {
	return core.Coordinate{GroupID: p.GroupID, ArtifactID: p.ArtifactID, Version: p.Version}
}

// Model holds the declared facts of a POM. It is built without running
// any build logic.
type Model struct {
	GroupID      string
	ArtifactID   string
	Version      string
	Packaging    string
	Name         string
	Description  string
	URL          string
	Parent       *ParentRef
	Licenses     []License
	SCM          *SCM
	Dependencies []Dependency
	Properties   map[string]string

	managed map[string]string
}

// Coordinate returns the declared coordinate.
func (m *Model) Coordinate() core.Coordinate {
	return core.Coordinate{GroupID: m.GroupID, ArtifactID: m.ArtifactID, Version: m.Version}
}

// LicenseNames joins the license names the way package listings show them.
func (m *Model) LicenseNames() string {
	names := make([]string, 0, len(m.Licenses))
	for _, l := range m.Licenses {
		if l.Name != "" {
			names = append(names, l.Name)
		}
	}
	return strings.Join(names, ", ")
}

// Clone returns a copy of m that shares no slices, maps or pointers with it.
func (m *Model) Clone() *Model {
	out := *m
	if m.Parent != nil {
		p := *m.Parent
		out.Parent = &p
	}
	if m.SCM != nil {
		scm := *m.SCM
		out.SCM = &scm
	}
	out.Licenses = slices.Clone(m.Licenses)
	out.Dependencies = slices.Clone(m.Dependencies)
	out.Properties = maps.Clone(m.Properties)
	out.managed = maps.Clone(m.managed)
	return &out
}

type pomXML struct {
	XMLName              xml.Name        `xml:"project"`
	Parent               *ParentRef      `xml:"parent"`
	GroupID              string          `xml:"groupId"`
	ArtifactID           string          `xml:"artifactId"`
	Version              string          `xml:"version"`
	Packaging            string          `xml:"packaging"`
	Name                 string          `xml:"name"`
	Description          string          `xml:"description"`
	URL                  string          `xml:"url"`
	Properties           properties      `xml:"properties"`
	Licenses             []License       `xml:"licenses>license"`
	SCM                  *SCM            `xml:"scm"`
	Dependencies         []dependencyXML `xml:"dependencies>dependency"`
	DependencyManagement struct {
		Dependencies []dependencyXML `xml:"dependencies>dependency"`
	} `xml:"dependencyManagement"`
}

type dependencyXML struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
	Scope      string `xml:"scope"`
	Optional   string `xml:"optional"`
	Type       string `xml:"type"`
	Classifier string `xml:"classifier"`
}

type properties map[string]string

func (p *properties) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	m := make(map[string]string)
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var v string
			if err := d.DecodeElement(&v, &t); err != nil {
				return err
			}
			m[t.Name.Local] = strings.TrimSpace(v)
		case xml.EndElement:
			*p = m
			return nil
		}
	}
}

// ParsePOM reads a POM. Only structure is checked: the document must be a
// project with an artifactId, and groupId and version must be present
// directly or through the parent reference.
func ParsePOM(r io.Reader) (*Model, error) {
	var raw pomXML
	if err := xml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPOM, err)
	}
	m := &Model{
		GroupID:     strings.TrimSpace(raw.GroupID),
		ArtifactID:  strings.TrimSpace(raw.ArtifactID),
		Version:     strings.TrimSpace(raw.Version),
		Packaging:   strings.TrimSpace(raw.Packaging),
		Name:        strings.TrimSpace(raw.Name),
		Description: strings.TrimSpace(raw.Description),
		URL:         strings.TrimSpace(raw.URL),
		Parent:      raw.Parent,
		Licenses:    raw.Licenses,
		SCM:         raw.SCM,
		Properties:  map[string]string(raw.Properties),
		managed:     make(map[string]string),
	}
	if m.Properties == nil {
		m.Properties = make(map[string]string)
	}
	if m.Parent != nil {
		m.Parent.GroupID = strings.TrimSpace(m.Parent.GroupID)
		m.Parent.ArtifactID = strings.TrimSpace(m.Parent.ArtifactID)
		m.Parent.Version = strings.TrimSpace(m.Parent.Version)
		if m.Parent.GroupID == "" || m.Parent.ArtifactID == "" || m.Parent.Version == "" {
			return nil, fmt.Errorf("%w: incomplete parent reference", ErrInvalidPOM)
		}
		if m.GroupID == "" {
			m.GroupID = m.Parent.GroupID
		}
		if m.Version == "" {
			m.Version = m.Parent.Version
		}
	}
	if m.ArtifactID == "" {
		return nil, fmt.Errorf("%w: missing artifactId", ErrInvalidPOM)
	}
	if m.GroupID == "" || m.Version == "" {
		return nil, fmt.Errorf("%w: missing groupId or version", ErrInvalidPOM)
	}
	if m.Packaging == "" {
		m.Packaging = "jar"
	}
	for _, d := range raw.DependencyManagement.Dependencies {
		if d.Version != "" {
			m.managed[strings.TrimSpace(d.GroupID)+":"+strings.TrimSpace(d.ArtifactID)] = strings.TrimSpace(d.Version)
		}
	}
	for _, d := range raw.Dependencies {
		optional := strings.TrimSpace(d.Optional) == "true"
		m.Dependencies = append(m.Dependencies, Dependency{
			Name:         strings.TrimSpace(d.GroupID) + ":" + strings.TrimSpace(d.ArtifactID),
			Requirements: strings.TrimSpace(d.Version),
			Scope:        mapScope(strings.TrimSpace(d.Scope), optional),
			Optional:     optional,
			Type:         strings.TrimSpace(d.Type),
			Classifier:   strings.TrimSpace(d.Classifier),
		})
	}
	m.interpolate()
	return m, nil
}

func mapScope(scope string, optional bool) Scope {
	if optional {
		return Optional
	}
	switch scope {
	case "test":
		return Test
	case "provided", "system":
		return Build
	case "import":
		return Development
	default:
		return Runtime
	}
}

// Inherit fills what the model leaves unset from its parent.
func (m *Model) Inherit(parent *Model) {
	if m.GroupID == "" {
		m.GroupID = parent.GroupID
	}
	if m.Version == "" {
		m.Version = parent.Version
	}
	if m.Description == "" {
		m.Description = parent.Description
	}
	if m.URL == "" {
		m.URL = parent.URL
	}
	if len(m.Licenses) == 0 {
		m.Licenses = append([]License(nil), parent.Licenses...)
	}
	if m.SCM == nil && parent.SCM != nil {
		scm := *parent.SCM
		m.SCM = &scm
	}
	for k, v := range parent.Properties {
		if _, ok := m.Properties[k]; !ok {
			m.Properties[k] = v
		}
	}
	for k, v := range parent.managed {
		if _, ok := m.managed[k]; !ok {
			m.managed[k] = v
		}
	}
	m.interpolate()
}

var propertyRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// interpolate expands ${...} references and fills dependency versions from
// dependency management.
func (m *Model) interpolate() {
	lookup := func(key string) (string, bool) {
		switch key {
		case "project.groupId", "pom.groupId", "groupId":
			return m.GroupID, true
		case "project.artifactId", "pom.artifactId", "artifactId":
			return m.ArtifactID, true
		case "project.version", "pom.version", "version":
			return m.Version, true
		case "project.parent.version", "parent.version":
			if m.Parent != nil {
				return m.Parent.Version, true
			}
		case "project.parent.groupId", "parent.groupId":
			if m.Parent != nil {
				return m.Parent.GroupID, true
			}
		}
		v, ok := m.Properties[key]
		return v, ok
	}
	expand := func(s string) string {
		// Bounded so self referencing properties terminate.
		for i := 0; i < 8 && strings.Contains(s, "${"); i++ {
			next := propertyRef.ReplaceAllStringFunc(s, func(ref string) string {
				if v, ok := lookup(ref[2 : len(ref)-1]); ok {
					return v
				}
				return ref
			})
			if next == s {
				break
			}
			s = next
		}
		return s
	}

	m.GroupID = expand(m.GroupID)
	m.Version = expand(m.Version)
	m.Name = expand(m.Name)
	m.Description = expand(m.Description)
	m.URL = expand(m.URL)
	if m.SCM != nil {
		m.SCM.URL = expand(m.SCM.URL)
	}
	for k, v := range m.managed {
		m.managed[k] = expand(v)
	}
	for i := range m.Dependencies {
		d := &m.Dependencies[i]
		d.Name = expand(d.Name)
		if d.Requirements == "" {
			d.Requirements = m.managed[d.Name]
		}
		d.Requirements = expand(d.Requirements)
	}
	for i := range m.Licenses {
		m.Licenses[i].SPDX = spdxID(m.Licenses[i].Name)
	}
}

// Common long-form license names found in POMs.
var licenseAliases = map[string]string{
	"apache license, version 2.0":             "Apache-2.0",
	"the apache software license, version 2.0": "Apache-2.0",
	"the apache license, version 2.0":          "Apache-2.0",
	"apache 2.0":                               "Apache-2.0",
	"apache-2.0":                               "Apache-2.0",
	"mit license":                              "MIT",
	"the mit license":                          "MIT",
	"eclipse public license - v 1.0":           "EPL-1.0",
	"eclipse public license - v 2.0":           "EPL-2.0",
	"eclipse public license v2.0":              "EPL-2.0",
	"bsd license":                              "BSD-3-Clause",
	"new bsd license":                          "BSD-3-Clause",
	"the bsd license":                          "BSD-3-Clause",
	"gnu lesser general public license":        "LGPL-2.1-or-later",
}

func spdxID(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if ok, _ := spdxexp.ValidateLicenses([]string{name}); ok {
		return name
	}
	if id, ok := licenseAliases[strings.ToLower(name)]; ok {
		return id
	}
	return ""
}
