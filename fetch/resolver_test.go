package fetch

import (
	"errors"
	"testing"
)

func TestResolverResolve(t *testing.T) {
	tests := []struct {
		name   string
		base   string
		params map[string]string
		path   string
		want   string
	}{
		{
			name: "trailing slash on base",
			base: "https://repo.maven.apache.org/maven2/",
			path: "junit/junit/4.13.2/junit-4.13.2.pom",
			want: "https://repo.maven.apache.org/maven2/junit/junit/4.13.2/junit-4.13.2.pom",
		},
		{
			name: "no trailing slash",
			base: "https://repo.example.com/releases",
			path: "/org/acme/lib/1.0/lib-1.0.pom",
			want: "https://repo.example.com/releases/org/acme/lib/1.0/lib-1.0.pom",
		},
		{
			name: "directory path",
			base: "https://repo.example.com",
			path: "org/acme/lib/",
			want: "https://repo.example.com/org/acme/lib/",
		},
		{
			name:   "extra parameters",
			base:   "https://repo.example.com/r?existing=1",
			params: map[string]string{"token": "abc", "b": "2"},
			path:   "a.pom",
			want:   "https://repo.example.com/r/a.pom?b=2&existing=1&token=abc",
		},
		{
			name: "no escaping out of base",
			base: "https://repo.example.com/r",
			path: "../../etc/passwd",
			want: "https://repo.example.com/r/etc/passwd",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewURLResolver(tt.base, tt.params)
			if err != nil {
				t.Fatalf("NewURLResolver: %v", err)
			}
			if got := r.Resolve(tt.path); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestResolverRejectsInvalidBase(t *testing.T) {
	for _, base := range []string{"", "ftp://repo.example.com", "https://", "::not a url"} {
		if _, err := NewURLResolver(base, nil); !errors.Is(err, ErrInvalidRemote) {
			t.Errorf("NewURLResolver(%q) = %v, want ErrInvalidRemote", base, err)
		}
	}
}

func TestFilenameFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://repo.example.com/a/b/lib-1.0.jar", "lib-1.0.jar"},
		{"https://repo.example.com/a/lib-1.0.pom?x=1", "lib-1.0.pom"},
		{"lib.jar", "lib.jar"},
	}
	for _, tt := range tests {
		if got := filenameFromURL(tt.url); got != tt.want {
			t.Errorf("filenameFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
