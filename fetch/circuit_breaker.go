package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
)

// BreakerSet holds one circuit breaker per remote host. A set can be shared
// by several fetchers so that every session talking to a host sees the same
// breaker.
type BreakerSet struct {
	breakers map[string]*circuit.Breaker
	mu       sync.RWMutex
}

// NewBreakerSet returns an empty set.
func NewBreakerSet() *BreakerSet {
	return &BreakerSet{breakers: make(map[string]*circuit.Breaker)}
}

// get returns or creates the circuit breaker for host.
func (s *BreakerSet) get(host string) *circuit.Breaker {
	s.mu.RLock()
	breaker, exists := s.breakers[host]
	s.mu.RUnlock()

	if exists {
		return breaker
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if breaker, exists := s.breakers[host]; exists {
		return breaker
	}

	// Trips after 5 consecutive failures
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	opts := &circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	}
	breaker = circuit.NewBreakerWithOptions(opts)

	s.breakers[host] = breaker
	return breaker
}

// State returns "open" or "closed" for every host seen so far.
func (s *BreakerSet) State() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make(map[string]string, len(s.breakers))
	for host, breaker := range s.breakers {
		if breaker.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}

// Hosts lists the hosts with a breaker, sorted.
func (s *BreakerSet) Hosts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hosts := make([]string, 0, len(s.breakers))
	for h := range s.breakers {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

// CircuitBreakerFetcher wraps a fetcher with per-host circuit breakers.
// Not-found answers are a healthy response and never count as failures.
type CircuitBreakerFetcher struct {
	fetcher FetcherInterface
	set     *BreakerSet
}

// NewCircuitBreakerFetcher creates a circuit breaker wrapper with its own
// breaker set.
func NewCircuitBreakerFetcher(f FetcherInterface) *CircuitBreakerFetcher {
	return NewCircuitBreakerFetcherWithSet(f, NewBreakerSet())
}

// NewCircuitBreakerFetcherWithSet wraps f using the shared breaker set.
func NewCircuitBreakerFetcherWithSet(f FetcherInterface, set *BreakerSet) *CircuitBreakerFetcher {
	return &CircuitBreakerFetcher{fetcher: f, set: set}
}

// Fetch wraps the underlying fetcher's Fetch with circuit breaker logic.
func (cbf *CircuitBreakerFetcher) Fetch(ctx context.Context, fetchURL string) (*Artifact, error) {
	host := extractHost(fetchURL)
	breaker := cbf.set.get(host)

	if !breaker.Ready() {
		return nil, fmt.Errorf("circuit breaker open for %s: %w", host, ErrUpstreamDown)
	}

	var artifact *Artifact
	var notFound error
	err := breaker.Call(func() error {
		var fetchErr error
		artifact, fetchErr = cbf.fetcher.Fetch(ctx, fetchURL)
		if errors.Is(fetchErr, ErrNotFound) {
			notFound = fetchErr
			return nil
		}
		return fetchErr
	}, 0)

	if err != nil {
		return nil, err
	}
	if notFound != nil {
		return nil, notFound
	}
	return artifact, nil
}

// Head wraps the underlying fetcher's Head with circuit breaker logic.
func (cbf *CircuitBreakerFetcher) Head(ctx context.Context, headURL string) (size int64, contentType string, err error) {
	host := extractHost(headURL)
	breaker := cbf.set.get(host)

	if !breaker.Ready() {
		return 0, "", fmt.Errorf("circuit breaker open for %s: %w", host, ErrUpstreamDown)
	}

	var notFound error
	err = breaker.Call(func() error {
		var headErr error
		size, contentType, headErr = cbf.fetcher.Head(ctx, headURL)
		if errors.Is(headErr, ErrNotFound) {
			notFound = headErr
			return nil
		}
		return headErr
	}, 0)
	if err == nil && notFound != nil {
		err = notFound
	}
	return size, contentType, err
}

// GetBreakerState returns the current state of circuit breakers (for health checks).
func (cbf *CircuitBreakerFetcher) GetBreakerState() map[string]string {
	return cbf.set.State()
}

// extractHost extracts the host of a URL for circuit breaker grouping.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		// Fallback to simple truncation
		if len(rawURL) > 50 {
			return rawURL[:50]
		}
		return rawURL
	}
	return parsed.Host
}
