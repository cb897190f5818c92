package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"

	"github.com/git-pkgs/repositories/config"
	"github.com/git-pkgs/repositories/resolve"
)

func pom(g, a, v string) string {
	return fmt.Sprintf(`<?xml version="1.0"?>
<project>
  <modelVersion>4.0.0</modelVersion>
  <groupId>%s</groupId>
  <artifactId>%s</artifactId>
  <version>%s</version>
  <packaging>jar</packaging>
</project>`, g, a, v)
}

// remote serves files by path and answers 404 for everything else.
func remote(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// run executes the command line against dataDir and returns its output.
func run(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args = append(args, "--data-dir", dataDir)
	err := ExecuteContext(context.Background(), args, &stdout, &stderr)
	return stdout.String(), err
}

func mustRun(t *testing.T, dataDir string, args ...string) string {
	t.Helper()
	out, err := run(t, dataDir, args...)
	if err != nil {
		t.Fatalf("repoman %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestRepoCommands(t *testing.T) {
	dir := t.TempDir()

	out := mustRun(t, dir, "repo", "add-managed", "internal", "--stage", "--snapshots")
	if !strings.Contains(out, "staging repository internal-stage") {
		t.Errorf("add-managed output = %q", out)
	}
	mustRun(t, dir, "repo", "add-remote", "central", "https://repo.example.com/maven2", "--timeout", "30")
	out = mustRun(t, dir, "repo", "add-group", "public", "--member", "internal", "--member", "ghost")
	if !strings.Contains(out, "group public with 1 members") {
		t.Errorf("add-group output = %q", out)
	}

	store, err := config.NewFileStore(filepath.Join(dir, "repositories.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	cfg := store.Configuration()
	var managed []string
	for _, m := range cfg.ManagedRepositories {
		managed = append(managed, m.ID)
	}
	if diff := cmp.Diff([]string{"internal", "internal-stage"}, managed); diff != "" {
		t.Errorf("managed repositories mismatch (-want +got):\n%s", diff)
	}
	if g := cfg.RepositoryGroup("public"); g == nil || !cmp.Equal(g.Repositories, []string{"internal"}) {
		t.Errorf("group = %+v, want members [internal]", g)
	}
	if _, err := os.Stat(filepath.Join(dir, "internal")); err != nil {
		t.Errorf("managed storage not created: %v", err)
	}

	out = mustRun(t, dir, "repo", "list")
	for _, want := range []string{"central", "internal", "internal-stage", "public", "https://repo.example.com/maven2"} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q:\n%s", want, out)
		}
	}

	mustRun(t, dir, "repo", "clone", "internal", "copy")
	mustRun(t, dir, "repo", "remove", "internal")
	out = mustRun(t, dir, "repo", "list")
	if strings.Contains(out, "internal") {
		t.Errorf("internal still listed after remove:\n%s", out)
	}
	if !strings.Contains(out, "copy") {
		t.Errorf("clone not listed:\n%s", out)
	}

	if _, err := run(t, dir, "repo", "remove", "internal"); err == nil {
		t.Error("expected error removing an unknown repository")
	}
}

func TestRepoAddRejectsConflict(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "repo", "add-managed", "internal")
	if _, err := run(t, dir, "repo", "add-remote", "internal", "https://repo.example.com"); err == nil {
		t.Fatal("expected conflict error")
	}
}

func TestResolveCommand(t *testing.T) {
	srv := remote(t, map[string]string{
		"org/example/lib/1.0/lib-1.0.pom": pom("org.example", "lib", "1.0"),
		"org/example/app/2.0/app-2.0.pom": pom("org.example", "app", "2.0"),
	})
	dir := t.TempDir()
	mustRun(t, dir, "repo", "add-managed", "internal")

	out := mustRun(t, dir, "resolve", "internal", "org.example:lib:1.0", "--remote", srv.URL)
	if !strings.Contains(out, "org.example:lib:1.0") || !strings.Contains(out, "remote-1") {
		t.Errorf("resolve output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "internal", "org/example/lib/1.0/lib-1.0.pom")); err != nil {
		t.Errorf("model not stored: %v", err)
	}

	out = mustRun(t, dir, "resolve", "internal", "pkg:maven/org.example/lib@1.0")
	if !strings.Contains(out, "local") {
		t.Errorf("second resolve should be local, got %q", out)
	}

	mustRun(t, dir, "repo", "add-remote", "central", srv.URL)
	mustRun(t, dir, "connector", "add", "internal", "central")
	out = mustRun(t, dir, "connector", "list", "internal")
	if !strings.Contains(out, srv.URL) {
		t.Errorf("connector list = %q", out)
	}

	out = mustRun(t, dir, "resolve", "internal", "org.example:app:2.0", "--json")
	var views []ModelView
	if err := json.Unmarshal([]byte(out), &views); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	want := []ModelView{{
		Repository:      "internal",
		Coordinate:      "org.example:app:2.0",
		ConcreteVersion: "2.0",
		Path:            "org/example/app/2.0/app-2.0.pom",
		Source:          "central",
		Packaging:       "jar",
	}}
	if diff := cmp.Diff(want, views); diff != "" {
		t.Errorf("resolved model mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveCommandReportsMissing(t *testing.T) {
	srv := remote(t, map[string]string{
		"org/example/lib/1.0/lib-1.0.pom":   pom("org.example", "lib", "1.0"),
		"org/example/bare/1.0/bare-1.0.pom": pom("org.example", "bare", "1.0"),
	})
	dir := t.TempDir()
	mustRun(t, dir, "repo", "add-managed", "internal")

	_, err := run(t, dir, "resolve", "internal", "org.example:lib:1.0", "org.example:gone:1.0", "--remote", srv.URL)
	if err == nil || !strings.Contains(err.Error(), "org.example:gone:1.0") {
		t.Fatalf("err = %v, want the missing coordinate named", err)
	}

	_, err = run(t, dir, "resolve", "internal", "org.example:bare:1.0", "--remote", srv.URL, "--require-checksums")
	if err == nil {
		t.Fatal("expected resolution without checksums to fail")
	}

	out := mustRun(t, dir, "health", "--json")
	var report HealthReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	if report.Status != HealthStatusHealthy {
		t.Errorf("status = %s, want healthy", report.Status)
	}
	if len(report.Repositories) != 1 || report.Repositories[0].Facts != 2 {
		t.Errorf("repositories = %+v, want internal with 2 facts", report.Repositories)
	}

	if _, err := run(t, dir, "resolve", "nope", "org.example:lib:1.0"); err == nil {
		t.Error("expected error for an unknown repository")
	}
	if _, err := run(t, dir, "resolve", "internal", "not-a-coordinate"); err == nil {
		t.Error("expected error for a malformed coordinate")
	}
}

func TestServe(t *testing.T) {
	srv := remote(t, map[string]string{
		"org/example/lib/1.0/lib-1.0.pom": pom("org.example", "lib", "1.0"),
	})
	dir := t.TempDir()
	settings := config.DefaultSettings()
	settings.DataDir = dir
	settings.ConfigFile = filepath.Join(dir, "repositories.yaml")
	settings.FactsDB = filepath.Join(dir, "facts.db")
	settings.MetricsAddr = "127.0.0.1:0"
	settings.WatchConfig = false
	settings.Fetch.MaxRetries = 0

	store, err := config.NewFileStore(settings.ConfigFile)
	if err != nil {
		t.Fatal(err)
	}
	err = store.Save(context.Background(), &config.Configuration{
		ManagedRepositories: []*config.ManagedRepositoryConfiguration{{ID: "internal", Releases: true}},
		RemoteRepositories:  []*config.RemoteRepositoryConfiguration{{ID: "central", URL: srv.URL}},
		ProxyConnectors:     []*config.ProxyConnectorConfiguration{{SourceRepoID: "internal", TargetRepoID: "central"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	a := &app{settings: settings, log: logr.Discard()}
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	errc := make(chan error, 1)
	go func() {
		errc <- runServe(ctx, a, ready)
	}()
	var addr string
	select {
	case addr = <-ready:
	case err := <-errc:
		t.Fatalf("serve: %v", err)
	}
	base := "http://" + addr

	get := func(path string) (int, string) {
		t.Helper()
		resp, err := http.Get(base + path)
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	tests := []struct {
		path     string
		status   int
		contains string
	}{
		{"/repositories", http.StatusOK, `"id":"central"`},
		{"/repositories/internal/models/org.example:lib:1.0", http.StatusOK, `"source":"central"`},
		{"/repositories/internal/models/org.example:lib:1.0", http.StatusOK, `"path":"org/example/lib/1.0/lib-1.0.pom"`},
		{"/repositories/internal/models/org.example:gone:1.0", http.StatusNotFound, "not found"},
		{"/repositories/internal/models/bad", http.StatusBadRequest, "invalid coordinate"},
		{"/repositories/nope/models/org.example:lib:1.0", http.StatusNotFound, "managed repository nope not found"},
		{"/repositories/internal/facts", http.StatusOK, `"kind":"missing"`},
		{"/healthz", http.StatusOK, `"status":"healthy"`},
		{"/metrics", http.StatusOK, `repoman_resolutions_total{repository="internal",result="remote"} 1`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			status, body := get(tt.path)
			if status != tt.status {
				t.Errorf("status = %d, want %d (body %s)", status, tt.status, body)
			}
			if !strings.Contains(body, tt.contains) {
				t.Errorf("body %q does not contain %q", body, tt.contains)
			}
		})
	}

	cancel()
	if err := <-errc; err != nil {
		t.Errorf("serve returned %v", err)
	}
	if err := a.close(); err != nil {
		t.Errorf("close: %v", err)
	}

	facts, err := resolve.OpenBoltFactStore(settings.FactsDB)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = facts.Close() }()
	got, err := facts.Facts(context.Background(), "internal")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Project != "gone" {
		t.Errorf("facts = %+v, want one for gone", got)
	}
}

func TestHealthCheckReachesRemotes(t *testing.T) {
	t.Setenv("REPOMAN_FETCH_MAX_RETRIES", "0")
	up := remote(t, nil)
	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	dir := t.TempDir()
	mustRun(t, dir, "repo", "add-remote", "up", up.URL, "--check-path", "org/")
	mustRun(t, dir, "repo", "add-remote", "down", downURL)

	out := mustRun(t, dir, "health", "--check", "--json")
	var report HealthReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	if report.Status != HealthStatusDegraded {
		t.Errorf("status = %s, want degraded", report.Status)
	}
	reachable := make(map[string]bool)
	for _, r := range report.Repositories {
		if r.Reachable == nil {
			t.Fatalf("%s was not checked", r.ID)
		}
		reachable[r.ID] = *r.Reachable
	}
	if diff := cmp.Diff(map[string]bool{"up": true, "down": false}, reachable); diff != "" {
		t.Errorf("reachability mismatch (-want +got):\n%s", diff)
	}

	out = mustRun(t, dir, "health")
	if !strings.Contains(out, "status: healthy") {
		t.Errorf("health without checks = %q", out)
	}
}
