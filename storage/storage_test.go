package storage

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"golang.org/x/sync/errgroup"
)

func newTestStorage(t *testing.T) *FilesystemStorage {
	t.Helper()
	return NewFilesystemStorage("test", "memory://test", memoryfs.New())
}

func writeString(t *testing.T, s Storage, p, content string) *Asset {
	t.Helper()
	a := s.Asset(p)
	err := s.WriteData(a, func(w io.Writer) error {
		_, err := io.WriteString(w, content)
		return err
	}, true)
	if err != nil {
		t.Fatalf("WriteData(%s): %v", p, err)
	}
	return a
}

func readString(t *testing.T, s Storage, a *Asset) string {
	t.Helper()
	var buf bytes.Buffer
	err := s.ConsumeData(a, func(r io.Reader) error {
		_, err := io.Copy(&buf, r)
		return err
	}, true)
	if err != nil {
		t.Fatalf("ConsumeData(%s): %v", a.Path(), err)
	}
	return buf.String()
}

func TestClean(t *testing.T) {
	tests := map[string]string{
		"":                 "/",
		"a/b":              "/a/b",
		"/a/../b":          "/b",
		"a\\b\\c.pom":      "/a/b/c.pom",
		"/org/x/1.0/x.pom": "/org/x/1.0/x.pom",
	}
	for in, want := range tests {
		if got := Clean(in); got != want {
			t.Errorf("Clean(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWriteAndConsume(t *testing.T) {
	s := newTestStorage(t)
	a := writeString(t, s, "org/example/lib/1.0/lib-1.0.pom", "<project/>")

	if !a.Exists() {
		t.Fatal("asset does not exist after write")
	}
	if a.Size() != int64(len("<project/>")) {
		t.Errorf("Size = %d", a.Size())
	}
	if got := readString(t, s, a); got != "<project/>" {
		t.Errorf("content = %q", got)
	}
	if !a.Parent().IsContainer() {
		t.Error("parent is not a container")
	}
}

func TestWriteDataFailureKeepsOldContent(t *testing.T) {
	s := newTestStorage(t)
	a := writeString(t, s, "x/file.txt", "old")

	boom := errors.New("boom")
	err := s.WriteData(a, func(w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return boom
	}, true)
	if !errors.Is(err, boom) {
		t.Fatalf("WriteData = %v, want %v", err, boom)
	}
	if got := readString(t, s, a); got != "old" {
		t.Errorf("content = %q, want old", got)
	}
	children, err := a.Parent().Children()
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 1 {
		t.Errorf("leftover files: %v", children)
	}
}

func TestConsumeMissing(t *testing.T) {
	s := newTestStorage(t)
	err := s.ConsumeData(s.Asset("nope"), func(io.Reader) error { return nil }, false)
	if !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("ConsumeData = %v, want ErrAssetNotFound", err)
	}
}

func TestMoveAndCopy(t *testing.T) {
	s := newTestStorage(t)
	tmp, err := s.TempAsset("model-*.pom")
	if err != nil {
		t.Fatalf("TempAsset: %v", err)
	}
	if !strings.HasPrefix(tmp.Path(), TempDir+"/") {
		t.Errorf("temp asset %s outside %s", tmp.Path(), TempDir)
	}
	if err := s.WriteData(tmp, func(w io.Writer) error {
		_, err := io.WriteString(w, "content")
		return err
	}, false); err != nil {
		t.Fatalf("WriteData: %v", err)
	}

	moved, err := s.MoveAsset(tmp, "g/a/1/a-1.pom", true)
	if err != nil {
		t.Fatalf("MoveAsset: %v", err)
	}
	if tmp.Exists() {
		t.Error("source still exists after move")
	}
	if got := readString(t, s, moved); got != "content" {
		t.Errorf("moved content = %q", got)
	}

	copied, err := s.CopyAsset(moved, "g/a/1/copy.pom", true)
	if err != nil {
		t.Fatalf("CopyAsset: %v", err)
	}
	if !moved.Exists() {
		t.Error("copy removed source")
	}
	if got := readString(t, s, copied); got != "content" {
		t.Errorf("copied content = %q", got)
	}

	if _, err := s.MoveAsset(s.Asset("missing"), "x", true); !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("MoveAsset(missing) = %v", err)
	}
}

func TestMoveReplacesTarget(t *testing.T) {
	s := newTestStorage(t)
	writeString(t, s, "a.txt", "new")
	writeString(t, s, "b.txt", "old")
	moved, err := s.MoveAsset(s.Asset("a.txt"), "b.txt", true)
	if err != nil {
		t.Fatalf("MoveAsset: %v", err)
	}
	if got := readString(t, s, moved); got != "new" {
		t.Errorf("content = %q, want new", got)
	}
}

func TestAddAndRemoveAsset(t *testing.T) {
	s := newTestStorage(t)
	dir, err := s.AddAsset(".indexer", true)
	if err != nil {
		t.Fatalf("AddAsset: %v", err)
	}
	if !dir.IsContainer() {
		t.Fatal("not a container")
	}
	if _, err := s.AddAsset(".indexer/descriptor.yaml", false); err != nil {
		t.Fatalf("AddAsset file: %v", err)
	}
	if err := s.RemoveAsset(dir, true); err != nil {
		t.Fatalf("RemoveAsset: %v", err)
	}
	if dir.Exists() {
		t.Error("container survived removal")
	}
}

func TestClosedStorage(t *testing.T) {
	s := newTestStorage(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := s.AddAsset("x", false); !errors.Is(err, ErrClosed) {
		t.Errorf("AddAsset after close = %v", err)
	}
}

func TestConcurrentWritersNeverInterleave(t *testing.T) {
	s := newTestStorage(t)
	a := s.Asset("shared.bin")
	payloads := []string{
		strings.Repeat("a", 4096),
		strings.Repeat("b", 4096),
		strings.Repeat("c", 4096),
		strings.Repeat("d", 4096),
	}

	var g errgroup.Group
	for _, p := range payloads {
		g.Go(func() error {
			return s.WriteData(a, func(w io.Writer) error {
				for i := 0; i < len(p); i += 512 {
					if _, err := io.WriteString(w, p[i:i+512]); err != nil {
						return err
					}
				}
				return nil
			}, true)
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("writers: %v", err)
	}

	got := readString(t, s, a)
	valid := false
	for _, p := range payloads {
		if got == p {
			valid = true
		}
	}
	if !valid {
		t.Errorf("content is a mix of writers (len %d)", len(got))
	}
}

func TestPathLocksReleaseEntries(t *testing.T) {
	l := NewPathLocks()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("/p")
			unlock()
			runlock := l.RLock("/q")
			runlock()
		}()
	}
	wg.Wait()
	if l.Len() != 0 {
		t.Errorf("lock table retains %d entries", l.Len())
	}
}

func TestMemoryFactorySharesLocation(t *testing.T) {
	f := NewMemoryFactory()
	s1, err := f.NewStorage("a", "/repos/a")
	if err != nil {
		t.Fatal(err)
	}
	writeString(t, s1, "f.txt", "data")

	s2, err := f.NewStorage("a", "/repos/a")
	if err != nil {
		t.Fatal(err)
	}
	if got := readString(t, s2, s2.Asset("f.txt")); got != "data" {
		t.Errorf("content = %q", got)
	}
	other, _ := f.NewStorage("b", "/repos/b")
	if other.Asset("f.txt").Exists() {
		t.Error("distinct locations share data")
	}
}

func TestLocalPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"/var/repo", "/var/repo", false},
		{"file:///var/repo", "/var/repo", false},
		{"repos/internal", "repos/internal", false},
		{"s3://bucket/x", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := LocalPath(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("LocalPath(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("LocalPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
