package fetch

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
)

var ErrInvalidRemote = errors.New("invalid remote repository URL")

// Resolver turns repository relative paths into absolute URLs on one remote
// repository.
type Resolver struct {
	base   *url.URL
	params url.Values
}

// NewURLResolver parses the remote base URL. Extra parameters are added to
// the query of every resolved URL.
func NewURLResolver(baseURL string, params map[string]string) (*Resolver, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidRemote, baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w %q: unsupported scheme", ErrInvalidRemote, baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w %q: missing host", ErrInvalidRemote, baseURL)
	}
	q := url.Values{}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, params[k])
	}
	return &Resolver{base: u, params: q}, nil
}

// Resolve returns the URL of remotePath below the base URL.
func (r *Resolver) Resolve(remotePath string) string {
	u := *r.base
	u.Path = path.Join("/", r.base.Path, path.Clean("/"+remotePath))
	if strings.HasSuffix(remotePath, "/") && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.RawPath = ""
	if len(r.params) > 0 {
		q := u.Query()
		for k, vs := range r.params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Base returns the remote base URL.
func (r *Resolver) Base() string {
	return r.base.String()
}

func filenameFromURL(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		u = u[:i]
	}
	if idx := strings.LastIndex(u, "/"); idx >= 0 {
		return u[idx+1:]
	}
	return u
}
