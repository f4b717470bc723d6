package obslog

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instrumentation surface for a Provider.
// A nil *Metrics is safe to call methods on; they become no-ops.
type Metrics struct {
	refreshTotal      *prometheus.CounterVec
	refreshDuration   prometheus.Histogram
	failoverTotal     prometheus.Counter
	clientBackoffSecs *prometheus.GaugeVec
	secretCacheTotal  *prometheus.CounterVec
}

// NewMetrics registers (or reuses, via registerer idempotency) counters
// under the given registerer. Pass prometheus.DefaultRegisterer for process
// metrics, or a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dynconfig",
			Name:      "refresh_total",
			Help:      "Count of refresh() invocations by branch and outcome.",
		}, []string{"branch", "outcome"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dynconfig",
			Name:      "refresh_duration_seconds",
			Help:      "Wall-clock duration of refresh() calls that actually ran (not short-circuited).",
			Buckets:   prometheus.DefBuckets,
		}),
		failoverTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dynconfig",
			Name:      "client_failover_total",
			Help:      "Count of client rotations due to a failover-eligible transport error.",
		}),
		clientBackoffSecs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dynconfig",
			Name:      "client_backoff_seconds",
			Help:      "Seconds remaining until a client's backoff window expires.",
		}, []string{"endpoint"}),
		secretCacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dynconfig",
			Name:      "secret_cache_total",
			Help:      "Secret TTL cache hit/miss counts.",
		}, []string{"result"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.refreshTotal, m.refreshDuration, m.failoverTotal,
			m.clientBackoffSecs, m.secretCacheTotal,
		} {
			if err := reg.Register(c); err != nil {
				var are prometheus.AlreadyRegisteredError
				if ok := asAlreadyRegistered(err, &are); ok {
					continue
				}
			}
		}
	}

	return m
}

func asAlreadyRegistered(err error, target *prometheus.AlreadyRegisteredError) bool {
	are, ok := err.(prometheus.AlreadyRegisteredError)
	if !ok {
		return false
	}
	*target = are
	return true
}

var noopOnce sync.Once
var noopMetrics *Metrics

// Noop returns a Metrics instance that is never registered, for callers who
// do not want Prometheus wiring.
func Noop() *Metrics {
	noopOnce.Do(func() {
		noopMetrics = NewMetrics(nil)
	})
	return noopMetrics
}

func (m *Metrics) ObserveRefresh(branch, outcome string) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(branch, outcome).Inc()
}

func (m *Metrics) ObserveRefreshDuration(seconds float64) {
	if m == nil {
		return
	}
	m.refreshDuration.Observe(seconds)
}

func (m *Metrics) IncFailover() {
	if m == nil {
		return
	}
	m.failoverTotal.Inc()
}

func (m *Metrics) SetClientBackoff(endpoint string, seconds float64) {
	if m == nil {
		return
	}
	m.clientBackoffSecs.WithLabelValues(endpoint).Set(seconds)
}

func (m *Metrics) ObserveSecretCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.secretCacheTotal.WithLabelValues(result).Inc()
}
