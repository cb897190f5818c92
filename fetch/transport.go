package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/rs/dnscache"

	"github.com/git-pkgs/repositories/storage"
)

// ErrTransfer marks an unexpected network or I/O failure while fetching from
// a remote source.
var ErrTransfer = errors.New("transfer failed")

// Source describes one remote repository to fetch from.
type Source struct {
	ID      string
	URL     string
	Timeout time.Duration
	Headers map[string]string
	Params  map[string]string
	// CheckPath is requested by Session.Check. Empty means the root.
	CheckPath string
}

// Credentials authenticate against a remote source.
type Credentials struct {
	Username string
	Password string
}

// Proxy is a network proxy used to reach a remote source.
type Proxy struct {
	Protocol string
	Host     string
	Port     int
	Username string
	Password string
}

// URL returns the proxy as a URL usable by net/http.
func (p *Proxy) URL() *url.URL {
	scheme := p.Protocol
	if scheme == "" {
		scheme = "http"
	}
	u := &url.URL{Scheme: scheme, Host: p.Host}
	if p.Port > 0 {
		u.Host = p.Host + ":" + strconv.Itoa(p.Port)
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}

// TransferError reports a failed fetch that was not a plain not-found.
type TransferError struct {
	Source string
	Path   string
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("fetching %s from %s: %v", e.Path, e.Source, e.Err)
}

func (e *TransferError) Unwrap() []error {
	return []error{ErrTransfer, e.Err}
}

// Transport opens sessions on remote sources.
type Transport interface {
	Connect(ctx context.Context, src Source, creds *Credentials, proxy *Proxy) (Session, error)
}

// Session fetches files from one connected remote source.
type Session interface {
	Source() Source

	// Fetch downloads remotePath into a temporary asset of st. It fails
	// with ErrNotFound when the source does not have the file and with a
	// *TransferError otherwise.
	Fetch(ctx context.Context, remotePath string, st storage.Storage) (*storage.Asset, error)

	// Check requests the source's check path with a HEAD request. A not-found
	// answer still proves the source reachable.
	Check(ctx context.Context) error

	Disconnect() error
}

// HTTPTransport fetches over HTTP(S). Sessions share a DNS cache and one
// circuit breaker per remote host.
type HTTPTransport struct {
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	dns        *dnscache.Resolver
	breakers   *BreakerSet
	log        logr.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// TransportOption configures an HTTPTransport.
type TransportOption func(*HTTPTransport)

// WithTransportUserAgent sets the User-Agent of every session.
func WithTransportUserAgent(ua string) TransportOption {
	return func(t *HTTPTransport) {
		t.userAgent = ua
	}
}

// WithTransportRetries sets retry attempts and the first backoff delay.
func WithTransportRetries(n int, baseDelay time.Duration) TransportOption {
	return func(t *HTTPTransport) {
		t.maxRetries = n
		t.baseDelay = baseDelay
	}
}

// WithBreakers shares a breaker set, typically to report its state.
func WithBreakers(set *BreakerSet) TransportOption {
	return func(t *HTTPTransport) {
		t.breakers = set
	}
}

// WithTransportLogger sets the logger.
func WithTransportLogger(log logr.Logger) TransportOption {
	return func(t *HTTPTransport) {
		t.log = log
	}
}

// NewHTTPTransport returns a transport. Call Close to stop the DNS refresh.
func NewHTTPTransport(opts ...TransportOption) *HTTPTransport {
	t := &HTTPTransport{
		userAgent:  "repoman/1.0",
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
		breakers:   NewBreakerSet(),
		log:        logr.Discard(),
		dns:        &dnscache.Resolver{},
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go refreshLoop(t.dns, t.stop)
	return t
}

// Breakers returns the breaker set used by every session.
func (t *HTTPTransport) Breakers() *BreakerSet {
	return t.breakers
}

// Close stops the DNS refresh goroutine.
func (t *HTTPTransport) Close() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *HTTPTransport) Connect(ctx context.Context, src Source, creds *Credentials, proxy *Proxy) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resolver, err := NewURLResolver(src.URL, src.Params)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", src.ID, err)
	}
	opts := []Option{
		WithUserAgent(t.userAgent),
		WithMaxRetries(t.maxRetries),
		WithBaseDelay(t.baseDelay),
		WithResolver(t.dns),
		WithHeaders(src.Headers),
	}
	if src.Timeout > 0 {
		opts = append(opts, WithTimeout(src.Timeout))
	}
	if creds != nil && creds.Username != "" {
		opts = append(opts, WithBasicAuth(creds.Username, creds.Password))
	}
	if proxy != nil && proxy.Host != "" {
		opts = append(opts, WithProxy(proxy.URL()))
	}
	f := NewFetcher(opts...)
	t.log.V(1).Info("connected", "source", src.ID, "url", resolver.Base())
	return &httpSession{
		src:      src,
		resolver: resolver,
		fetcher:  f,
		breaker:  NewCircuitBreakerFetcherWithSet(f, t.breakers),
	}, nil
}

type httpSession struct {
	src      Source
	resolver *Resolver
	fetcher  *Fetcher
	breaker  *CircuitBreakerFetcher
}

func (s *httpSession) Source() Source {
	return s.src
}

func (s *httpSession) Fetch(ctx context.Context, remotePath string, st storage.Storage) (*storage.Asset, error) {
	u := s.resolver.Resolve(remotePath)
	art, err := s.breaker.Fetch(ctx, u)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%s on %s: %w", remotePath, s.src.ID, ErrNotFound)
		}
		return nil, &TransferError{Source: s.src.ID, Path: remotePath, Err: err}
	}
	defer func() { _ = art.Body.Close() }()

	tmp, err := st.TempAsset(filenameFromURL(u) + ".*")
	if err != nil {
		return nil, &TransferError{Source: s.src.ID, Path: remotePath, Err: err}
	}
	err = st.WriteData(tmp, func(w io.Writer) error {
		n, err := io.Copy(w, art.Body)
		if err != nil {
			return err
		}
		if art.Size >= 0 && n != art.Size {
			return fmt.Errorf("short read: got %d of %d bytes", n, art.Size)
		}
		return nil
	}, false)
	if err != nil {
		_ = st.RemoveAsset(tmp, false)
		return nil, &TransferError{Source: s.src.ID, Path: remotePath, Err: err}
	}
	return tmp, nil
}

func (s *httpSession) Check(ctx context.Context) error {
	u := s.resolver.Resolve(s.src.CheckPath)
	_, _, err := s.breaker.Head(ctx, u)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return &TransferError{Source: s.src.ID, Path: s.src.CheckPath, Err: err}
	}
	return nil
}

func (s *httpSession) Disconnect() error {
	s.fetcher.Close()
	return nil
}
