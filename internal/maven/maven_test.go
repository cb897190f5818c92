package maven

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/git-pkgs/repositories/config"
	"github.com/git-pkgs/repositories/internal/core"
	"github.com/git-pkgs/repositories/storage"
)

func TestParsePOM(t *testing.T) {
	pom := `<?xml version="1.0" encoding="UTF-8"?>
<project>
  <groupId>com.google.guava</groupId>
  <artifactId>guava</artifactId>
  <version>32.1.0-jre</version>
  <packaging>bundle</packaging>
  <name>Guava: Google Core Libraries for Java</name>
  <description>Guava is a suite of core and expanded libraries.</description>
  <url>https://github.com/google/guava</url>
  <licenses>
    <license>
      <name>Apache License, Version 2.0</name>
    </license>
  </licenses>
  <scm>
    <url>https://github.com/google/guava</url>
  </scm>
</project>`

	m, err := ParsePOM(strings.NewReader(pom))
	if err != nil {
		t.Fatalf("ParsePOM failed: %v", err)
	}

	if got := m.Coordinate(); got != (core.Coordinate{GroupID: "com.google.guava", ArtifactID: "guava", Version: "32.1.0-jre"}) {
		t.Errorf("coordinate = %+v", got)
	}
	if m.Packaging != "bundle" {
		t.Errorf("expected packaging 'bundle', got %q", m.Packaging)
	}
	if m.SCM == nil || m.SCM.URL != "https://github.com/google/guava" {
		t.Errorf("unexpected scm: %+v", m.SCM)
	}
	if m.LicenseNames() != "Apache License, Version 2.0" {
		t.Errorf("unexpected licenses: %q", m.LicenseNames())
	}
	if m.Licenses[0].SPDX != "Apache-2.0" {
		t.Errorf("expected SPDX Apache-2.0, got %q", m.Licenses[0].SPDX)
	}
}

func TestParsePOMDefaults(t *testing.T) {
	m, err := ParsePOM(strings.NewReader(`<project><groupId>g</groupId><artifactId>a</artifactId><version>1</version></project>`))
	if err != nil {
		t.Fatalf("ParsePOM failed: %v", err)
	}
	if m.Packaging != "jar" {
		t.Errorf("default packaging = %q, want jar", m.Packaging)
	}
}

func TestParsePOMInvalid(t *testing.T) {
	tests := []struct {
		name string
		pom  string
	}{
		{"not xml", "this is not a pom"},
		{"wrong root", `<metadata><groupId>g</groupId></metadata>`},
		{"no artifactId", `<project><groupId>g</groupId><version>1</version></project>`},
		{"no version", `<project><groupId>g</groupId><artifactId>a</artifactId></project>`},
		{"incomplete parent", `<project><parent><groupId>g</groupId></parent><artifactId>a</artifactId></project>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePOM(strings.NewReader(tt.pom))
			if !errors.Is(err, ErrInvalidPOM) {
				t.Errorf("ParsePOM = %v, want ErrInvalidPOM", err)
			}
		})
	}
}

func TestParseDependencies(t *testing.T) {
	pom := `<?xml version="1.0" encoding="UTF-8"?>
<project>
  <groupId>org.slf4j</groupId>
  <artifactId>slf4j-api</artifactId>
  <version>2.0.9</version>
  <properties>
    <commons.version>3.12.0</commons.version>
  </properties>
  <dependencies>
    <dependency>
      <groupId>org.slf4j</groupId>
      <artifactId>slf4j-simple</artifactId>
      <version>${project.version}</version>
      <scope>test</scope>
    </dependency>
    <dependency>
      <groupId>ch.qos.logback</groupId>
      <artifactId>logback-classic</artifactId>
      <version>1.4.11</version>
      <optional>true</optional>
    </dependency>
    <dependency>
      <groupId>org.apache.commons</groupId>
      <artifactId>commons-lang3</artifactId>
      <version>${commons.version}</version>
    </dependency>
    <dependency>
      <groupId>javax.servlet</groupId>
      <artifactId>servlet-api</artifactId>
      <version>2.5</version>
      <scope>provided</scope>
    </dependency>
  </dependencies>
</project>`

	m, err := ParsePOM(strings.NewReader(pom))
	if err != nil {
		t.Fatalf("ParsePOM failed: %v", err)
	}

	if len(m.Dependencies) != 4 {
		t.Fatalf("expected 4 dependencies, got %d", len(m.Dependencies))
	}

	scopeMap := make(map[string]Scope)
	reqMap := make(map[string]string)
	optMap := make(map[string]bool)
	for _, d := range m.Dependencies {
		scopeMap[d.Name] = d.Scope
		reqMap[d.Name] = d.Requirements
		optMap[d.Name] = d.Optional
	}

	if scopeMap["org.slf4j:slf4j-simple"] != Test {
		t.Errorf("expected test scope for slf4j-simple, got %q", scopeMap["org.slf4j:slf4j-simple"])
	}
	if reqMap["org.slf4j:slf4j-simple"] != "2.0.9" {
		t.Errorf("project.version not interpolated: %q", reqMap["org.slf4j:slf4j-simple"])
	}
	if scopeMap["ch.qos.logback:logback-classic"] != Optional {
		t.Errorf("expected optional scope for logback-classic, got %q", scopeMap["ch.qos.logback:logback-classic"])
	}
	if !optMap["ch.qos.logback:logback-classic"] {
		t.Error("expected logback-classic to be optional")
	}
	if scopeMap["org.apache.commons:commons-lang3"] != Runtime {
		t.Errorf("expected runtime scope for commons-lang3, got %q", scopeMap["org.apache.commons:commons-lang3"])
	}
	if reqMap["org.apache.commons:commons-lang3"] != "3.12.0" {
		t.Errorf("property not interpolated: %q", reqMap["org.apache.commons:commons-lang3"])
	}
	if scopeMap["javax.servlet:servlet-api"] != Build {
		t.Errorf("expected build scope for servlet-api, got %q", scopeMap["javax.servlet:servlet-api"])
	}
}

func TestParentInheritance(t *testing.T) {
	child, err := ParsePOM(strings.NewReader(`<?xml version="1.0" encoding="UTF-8"?>
<project>
  <parent>
    <groupId>com.example</groupId>
    <artifactId>parent</artifactId>
    <version>1.0.0</version>
  </parent>
  <artifactId>child</artifactId>
  <name>Child Project</name>
  <dependencies>
    <dependency>
      <groupId>junit</groupId>
      <artifactId>junit</artifactId>
      <scope>test</scope>
    </dependency>
  </dependencies>
</project>`))
	if err != nil {
		t.Fatalf("ParsePOM(child) failed: %v", err)
	}
	parent, err := ParsePOM(strings.NewReader(`<?xml version="1.0" encoding="UTF-8"?>
<project>
  <groupId>com.example</groupId>
  <artifactId>parent</artifactId>
  <version>1.0.0</version>
  <description>Parent project description</description>
  <url>https://example.com</url>
  <properties>
    <junit.version>4.13.2</junit.version>
  </properties>
  <licenses>
    <license>
      <name>MIT</name>
    </license>
  </licenses>
  <scm>
    <url>https://github.com/example/parent</url>
  </scm>
  <dependencyManagement>
    <dependencies>
      <dependency>
        <groupId>junit</groupId>
        <artifactId>junit</artifactId>
        <version>${junit.version}</version>
      </dependency>
    </dependencies>
  </dependencyManagement>
</project>`))
	if err != nil {
		t.Fatalf("ParsePOM(parent) failed: %v", err)
	}

	child.Inherit(parent)

	if child.Description != "Parent project description" {
		t.Errorf("expected inherited description, got %q", child.Description)
	}
	if child.GroupID != "com.example" || child.Version != "1.0.0" {
		t.Errorf("expected coordinates from parent, got %+v", child.Coordinate())
	}
	if len(child.Licenses) != 1 || child.Licenses[0].Name != "MIT" || child.Licenses[0].SPDX != "MIT" {
		t.Errorf("expected inherited license, got %v", child.Licenses)
	}
	if child.SCM == nil || child.SCM.URL != "https://github.com/example/parent" {
		t.Errorf("expected inherited scm, got %+v", child.SCM)
	}
	if child.Dependencies[0].Requirements != "4.13.2" {
		t.Errorf("managed version not applied: %q", child.Dependencies[0].Requirements)
	}
	if child.Parent.Coordinate().String() != "com.example:parent:1.0.0" {
		t.Errorf("parent = %s", child.Parent.Coordinate())
	}
}

func TestSPDXUnknownLicense(t *testing.T) {
	if got := spdxID("Some Custom License"); got != "" {
		t.Errorf("spdxID(custom) = %q, want empty", got)
	}
	if got := spdxID("Apache-2.0"); got != "Apache-2.0" {
		t.Errorf("spdxID(Apache-2.0) = %q", got)
	}
}

func TestMetadataConcreteVersion(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<metadata>
  <groupId>com.example</groupId>
  <artifactId>lib</artifactId>
  <version>1.0-SNAPSHOT</version>
  <versioning>
    <snapshot>
      <timestamp>20230101.120000</timestamp>
      <buildNumber>3</buildNumber>
    </snapshot>
    <lastUpdated>20230101120000</lastUpdated>
  </versioning>
</metadata>`
	m, err := ParseMetadata(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ParseMetadata failed: %v", err)
	}
	got, ok := m.ConcreteVersion("1.0-SNAPSHOT")
	if !ok || got != "1.0-20230101.120000-3" {
		t.Errorf("ConcreteVersion = %q, %v", got, ok)
	}
	if got, ok := m.ConcreteVersion("1.0"); ok || got != "1.0" {
		t.Errorf("release ConcreteVersion = %q, %v", got, ok)
	}

	var empty *Metadata
	if got, ok := empty.ConcreteVersion("1.0-SNAPSHOT"); ok || got != "1.0-SNAPSHOT" {
		t.Errorf("nil metadata ConcreteVersion = %q, %v", got, ok)
	}
}

func TestMetadataVersions(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<metadata>
  <groupId>com.example</groupId>
  <artifactId>test</artifactId>
  <versioning>
    <latest>2.0.0</latest>
    <versions>
      <version>1.0.0</version>
      <version>1.5.0</version>
      <version>2.0.0</version>
    </versions>
  </versioning>
</metadata>`
	m, err := ParseMetadata(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ParseMetadata failed: %v", err)
	}
	if diff := cmp.Diff([]string{"1.0.0", "1.5.0", "2.0.0"}, m.Versioning.Versions); diff != "" {
		t.Errorf("versions (-want +got):\n%s", diff)
	}
	if _, err := ParseMetadata(strings.NewReader("<metadata>")); err == nil {
		t.Error("truncated metadata accepted")
	}
}

func TestSnapshotHelpers(t *testing.T) {
	tests := []struct {
		version  string
		snapshot bool
		base     string
	}{
		{"1.0-SNAPSHOT", true, "1.0"},
		{"SNAPSHOT", true, ""},
		{"1.0", false, "1.0"},
		{"1.0-snapshot", false, "1.0-snapshot"},
	}
	for _, tt := range tests {
		if IsSnapshot(tt.version) != tt.snapshot {
			t.Errorf("IsSnapshot(%q) = %v", tt.version, !tt.snapshot)
		}
		if tt.snapshot && SnapshotBase(tt.version) != tt.base {
			t.Errorf("SnapshotBase(%q) = %q, want %q", tt.version, SnapshotBase(tt.version), tt.base)
		}
	}
	if got := TimestampedVersion("1.0-SNAPSHOT", "20230101.120000", 3); got != "1.0-20230101.120000-3" {
		t.Errorf("TimestampedVersion = %q", got)
	}
}

func TestLayout(t *testing.T) {
	l := NewLayout()
	c := core.Coordinate{GroupID: "com.google.guava", ArtifactID: "guava", Version: "32.1.0"}

	tests := []struct {
		name     string
		fn       func() string
		expected string
	}{
		{"model", func() string { return l.Model(c, c.Version) }, "com/google/guava/guava/32.1.0/guava-32.1.0.pom"},
		{"artifact", func() string { return l.Artifact(c, c.Version, "", "jar") }, "com/google/guava/guava/32.1.0/guava-32.1.0.jar"},
		{"classifier", func() string { return l.Artifact(c, c.Version, "sources", "jar") }, "com/google/guava/guava/32.1.0/guava-32.1.0-sources.jar"},
		{"version metadata", func() string { return l.VersionMetadata(c) }, "com/google/guava/guava/32.1.0/maven-metadata.xml"},
		{"project metadata", func() string { return l.ProjectMetadata(c) }, "com/google/guava/guava/maven-metadata.xml"},
		{"snapshot", func() string {
			s := c.WithVersion("1.0-SNAPSHOT")
			return l.Model(s, "1.0-20230101.120000-3")
		}, "com/google/guava/guava/1.0-SNAPSHOT/guava-1.0-20230101.120000-3.pom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.fn()
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}

	paths := core.BuildPaths(l, c)
	if paths["purl"] != "pkg:maven/com.google.guava/guava@32.1.0" {
		t.Errorf("purl = %q", paths["purl"])
	}
}

func TestType(t *testing.T) {
	p := New(nil)
	if p.Type() != "maven" {
		t.Errorf("expected type 'maven', got %q", p.Type())
	}
	found := false
	for _, typ := range core.SupportedTypes() {
		if typ == "maven" {
			found = true
		}
	}
	if !found {
		t.Error("maven provider not registered")
	}
}

func TestManagedRoundTrip(t *testing.T) {
	p := New(storage.NewMemoryFactory())
	cfg := &config.ManagedRepositoryConfiguration{
		ID:                    "internal",
		Name:                  "Internal",
		Location:              "repos/internal",
		Releases:              true,
		Scanned:               true,
		RefreshCronExpression: "0 0 * * * ?",
		IndexDir:              ".index",
		RetentionPeriod:       30,
		RetentionCount:        2,
		StageRepoNeeded:       true,
	}

	repo, err := p.CreateManaged(cfg)
	if err != nil {
		t.Fatalf("CreateManaged: %v", err)
	}
	defer func() { _ = repo.Close() }()

	if repo.Kind() != core.KindManaged || repo.Storage() == nil {
		t.Fatalf("unexpected repository %s", repo)
	}
	cleanup, err := core.FeatureOf[core.ArtifactCleanupFeature](repo)
	if err != nil || cleanup.RetentionPeriod != 30*24*time.Hour {
		t.Errorf("cleanup feature = %+v, %v", cleanup, err)
	}
	staging, err := core.FeatureOf[core.StagingFeature](repo)
	if err != nil || !staging.StageRepoNeeded || staging.StagingRepositoryID != "internal-stage" {
		t.Errorf("staging feature = %+v, %v", staging, err)
	}

	got, err := p.ManagedConfiguration(repo)
	if err != nil {
		t.Fatalf("ManagedConfiguration: %v", err)
	}
	want := cfg.Copy()
	want.Type = "maven"
	want.Layout = config.DefaultLayout
	want.PackedIndexDir = config.DefaultPackedIndexPath
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("configuration (-want +got):\n%s", diff)
	}
}

func TestUpdateManagedInPlace(t *testing.T) {
	p := New(storage.NewMemoryFactory())
	repo, err := p.CreateManaged(&config.ManagedRepositoryConfiguration{ID: "internal"})
	if err != nil {
		t.Fatalf("CreateManaged: %v", err)
	}
	defer func() { _ = repo.Close() }()
	st := repo.Storage()

	if err := p.UpdateManaged(repo, &config.ManagedRepositoryConfiguration{ID: "internal", Name: "Renamed"}); err != nil {
		t.Fatalf("UpdateManaged: %v", err)
	}
	if repo.Storage() != st {
		t.Error("storage replaced although the location did not change")
	}
	if repo.Name(core.DefaultLocale) != "Renamed" {
		t.Errorf("name = %q", repo.Name(core.DefaultLocale))
	}

	if err := p.UpdateManaged(repo, &config.ManagedRepositoryConfiguration{ID: "internal", Location: "elsewhere"}); err != nil {
		t.Fatalf("UpdateManaged: %v", err)
	}
	if repo.Storage() == st || repo.Location() != "elsewhere" {
		t.Error("storage not reopened for new location")
	}

	err = p.UpdateManaged(repo, &config.ManagedRepositoryConfiguration{ID: "internal", RefreshCronExpression: "bogus"})
	if !errors.Is(err, config.ErrInvalid) {
		t.Errorf("UpdateManaged(bad schedule) = %v", err)
	}
	if err := p.UpdateManaged(repo, &config.ManagedRepositoryConfiguration{ID: "other"}); err == nil {
		t.Error("UpdateManaged accepted a different id")
	}
}

func TestStagingConfiguration(t *testing.T) {
	p := New(nil)
	st := p.StagingConfiguration(&config.ManagedRepositoryConfiguration{ID: "internal", Name: "Internal", StageRepoNeeded: true})
	if st.ID != "internal-stage" || st.Location != "internal-stage" || st.StageRepoNeeded {
		t.Errorf("staging configuration = %+v", st)
	}

	repo, err := p.CreateManaged(st)
	if err != nil {
		t.Fatalf("CreateManaged(staging): %v", err)
	}
	defer func() { _ = repo.Close() }()
	if repo.Supports(core.FeatureStaging) {
		t.Error("staging repository declares its own staging feature")
	}
}

func TestRemoteRoundTrip(t *testing.T) {
	p := New(nil)
	cfg := &config.RemoteRepositoryConfiguration{
		ID:                  "central",
		URL:                 "https://repo.maven.apache.org/maven2",
		TimeoutSeconds:      60,
		ExtraHeaders:        map[string]string{"X-Token": "t"},
		DownloadRemoteIndex: true,
		RemoteIndexURL:      ".index",
	}
	repo, err := p.CreateRemote(cfg)
	if err != nil {
		t.Fatalf("CreateRemote: %v", err)
	}
	defer func() { _ = repo.Close() }()

	if repo.Remote().Timeout != time.Minute {
		t.Errorf("timeout = %v", repo.Remote().Timeout)
	}
	got, err := p.RemoteConfiguration(repo)
	if err != nil {
		t.Fatalf("RemoteConfiguration: %v", err)
	}
	want := cfg.Copy()
	want.Type = "maven"
	want.Location = "central"
	want.Layout = config.DefaultLayout
	want.IndexDir = config.DefaultIndexPath
	want.PackedIndexDir = config.DefaultPackedIndexPath
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("configuration (-want +got):\n%s", diff)
	}

	if _, err := p.CreateRemote(&config.RemoteRepositoryConfiguration{ID: "nourl"}); !errors.Is(err, config.ErrInvalid) {
		t.Errorf("CreateRemote without url = %v", err)
	}
}

func TestGroupRoundTrip(t *testing.T) {
	p := New(nil)
	cfg := &config.RepositoryGroupConfiguration{
		ID:              "public",
		Repositories:    []string{"internal", "snapshots"},
		MergedIndexPath: ".indexer",
		MergedIndexTTL:  300,
		CronExpression:  config.DefaultMergedIndexSchedule,
	}
	repo, err := p.CreateGroup(cfg)
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	defer func() { _ = repo.Close() }()

	if repo.Group().MergedIndexTTL != 300*time.Minute {
		t.Errorf("ttl = %v", repo.Group().MergedIndexTTL)
	}
	got, err := p.GroupConfiguration(repo)
	if err != nil {
		t.Fatalf("GroupConfiguration: %v", err)
	}
	want := cfg.Copy()
	want.Type = "maven"
	want.Location = "public"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("configuration (-want +got):\n%s", diff)
	}
}

func TestCreateRejectsOtherType(t *testing.T) {
	p := New(nil)
	_, err := p.CreateManaged(&config.ManagedRepositoryConfiguration{ID: "x", Type: "npm"})
	if !errors.Is(err, core.ErrUnknownType) {
		t.Errorf("CreateManaged(npm) = %v", err)
	}
}
