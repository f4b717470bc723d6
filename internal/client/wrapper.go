// Package client implements the endpoint-failover and load-balancing
// layer: Wrapper holds one endpoint's transport plus its backoff state, and
// Manager discovers replicas and exposes the ordered list of
// currently-available wrappers.
package client

import (
	"sync"
	"time"

	"github.com/carverauto/dynconfig/internal/obslog"
	"github.com/carverauto/dynconfig/internal/refresh"
	"github.com/carverauto/dynconfig/internal/transport"
)

// backoffInterval is passed to refresh.Backoff so that base=min(interval,30s)
// and cap=min(interval,10min) resolve to the fixed 30s/10min formula used
// for client backoff (no per-client "interval" concept exists, unlike the
// RefreshTimer).
const backoffInterval = 24 * time.Hour

// Wrapper holds one endpoint's transport and backoff state.
type Wrapper struct {
	Transport transport.Transport

	mu             sync.Mutex
	backoffEnd     time.Time
	failedAttempts int
	now            func() time.Time
	jitter         refresh.Jitter

	metrics *obslog.Metrics
}

// NewWrapper constructs a Wrapper around a transport, immediately available.
// metrics may be nil.
func NewWrapper(t transport.Transport, metrics *obslog.Metrics) *Wrapper {
	return &Wrapper{Transport: t, now: time.Now, metrics: metrics}
}

// Endpoint returns the wrapped transport's endpoint.
func (w *Wrapper) Endpoint() string { return w.Transport.Endpoint() }

// Available reports whether this client's backoff window has elapsed.
func (w *Wrapper) Available() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return !w.clock().Before(w.backoffEnd)
}

// BackoffRemaining returns the duration until this client becomes available
// again (zero or negative if already available), for metrics.
func (w *Wrapper) BackoffRemaining() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.backoffEnd.Sub(w.clock())
}

// UpdateBackoff records the outcome of a request issued against this
// client. On success it zeroes the failure streak and clears backoff; on
// failure it advances backoffEnd exponentially.
func (w *Wrapper) UpdateBackoff(success bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if success {
		w.failedAttempts = 0
		w.backoffEnd = w.clock()
		w.metrics.SetClientBackoff(w.Transport.Endpoint(), 0)
		return
	}

	delay := refresh.Backoff(w.failedAttempts, backoffInterval, w.jitter)
	w.failedAttempts++
	w.backoffEnd = w.clock().Add(delay)
	w.metrics.SetClientBackoff(w.Transport.Endpoint(), delay.Seconds())
}

// FailedAttempts returns the current failure-streak length.
func (w *Wrapper) FailedAttempts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failedAttempts
}

func (w *Wrapper) clock() time.Time {
	if w.now != nil {
		return w.now()
	}
	return time.Now()
}
