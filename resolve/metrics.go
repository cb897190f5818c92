package resolve

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "repoman"

// Results recorded by Metrics.
const (
	resultLocal     = "local"
	resultRemote    = "remote"
	resultMissing   = "missing"
	resultInvalid   = "invalid"
	resultNotFound  = "not_found"
	resultFailed    = "failed"
	resultMismatch  = "checksum_mismatch"
	resultFetched   = "fetched"
	resultCancelled = "cancelled"

	resultUnverified = "unverified"
)

// Metrics counts resolutions and remote fetches.
type Metrics struct {
	Resolutions   *prometheus.CounterVec
	RemoteFetches *prometheus.CounterVec
}

// NewMetrics creates the resolver counters and registers them with reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "resolutions_total",
				Help:      "Model resolutions by repository and outcome.",
			},
			[]string{"repository", "result"},
		),
		RemoteFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "remote_fetches_total",
				Help:      "Model fetches from remote sources by source and outcome.",
			},
			[]string{"source", "result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Resolutions, m.RemoteFetches)
	}
	return m
}

func (m *Metrics) resolution(repo, result string) {
	if m != nil {
		m.Resolutions.WithLabelValues(repo, result).Inc()
	}
}

func (m *Metrics) fetch(source, result string) {
	if m != nil {
		m.RemoteFetches.WithLabelValues(source, result).Inc()
	}
}
