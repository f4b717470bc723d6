package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/carverauto/dynconfig/internal/obslog"
	"github.com/carverauto/dynconfig/internal/transport"
)

// ErrAllClientsFailed is returned when every available client returned a
// failover-eligible error.
var ErrAllClientsFailed = errors.New("client: all available clients failed")

// TransportFactory builds a Transport for a discovered replica hostname.
// The manager only discovers hostnames via DNS; it delegates actually
// dialing them to this factory so callers can reuse TLS/auth config from
// the static client.
type TransportFactory func(endpoint string) (transport.Transport, error)

// Manager implements endpoint discovery, failover rotation, and
// load-balance rotation across available clients.
type Manager struct {
	static *Wrapper

	replicaDiscoveryEnabled bool
	loadBalancingEnabled    bool

	discoverer       *Discoverer
	transportFactory TransportFactory
	log              obslog.Logger
	metrics          *obslog.Metrics

	mu               sync.Mutex
	dynamic          []*Wrapper
	lastSuccessfulEP string
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	ReplicaDiscoveryEnabled bool
	LoadBalancingEnabled    bool
	TransportFactory        TransportFactory
	Lookup                  SRVLookupFunc
	Logger                  obslog.Logger
	Metrics                 *obslog.Metrics
}

// NewManager constructs a Manager around the single static transport.
func NewManager(static transport.Transport, opts ManagerOptions) *Manager {
	return &Manager{
		static:                  NewWrapper(static, opts.Metrics),
		replicaDiscoveryEnabled: opts.ReplicaDiscoveryEnabled,
		loadBalancingEnabled:    opts.LoadBalancingEnabled,
		discoverer:              NewDiscoverer(opts.Lookup),
		transportFactory:        opts.TransportFactory,
		log:                     opts.Logger,
		metrics:                 opts.Metrics,
	}
}

// GetClients returns the ordered list of currently-available wrappers,
// rotated for load balancing when enabled.
func (m *Manager) GetClients() []*Wrapper {
	all := m.allClients()

	available := make([]*Wrapper, 0, len(all))
	for _, w := range all {
		if w.Available() {
			available = append(available, w)
		}
	}

	if !m.loadBalancingEnabled || len(available) <= 1 {
		return available
	}

	return rotateAfter(available, m.lastSuccessfulEndpoint())
}

func (m *Manager) allClients() []*Wrapper {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*Wrapper, 0, 1+len(m.dynamic))
	all = append(all, m.static)
	all = append(all, m.dynamic...)
	return all
}

// ReplicaCount returns the number of dynamically-discovered replica clients
// currently known, for Correlation-Context telemetry.
func (m *Manager) ReplicaCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dynamic)
}

// FailedOver reports whether the last successful request was served by an
// endpoint other than primaryEndpoint, for Correlation-Context telemetry.
func (m *Manager) FailedOver(primaryEndpoint string) bool {
	ep := m.lastSuccessfulEndpoint()
	return ep != "" && ep != primaryEndpoint
}

func (m *Manager) lastSuccessfulEndpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSuccessfulEP
}

func (m *Manager) setLastSuccessfulEndpoint(ep string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSuccessfulEP = ep
}

// rotateAfter returns clients reordered so the one after lastSuccessful
// comes first, wrapping around. If lastSuccessful is not present, the
// original order is returned.
func rotateAfter(clients []*Wrapper, lastSuccessful string) []*Wrapper {
	idx := -1
	for i, w := range clients {
		if w.Endpoint() == lastSuccessful {
			idx = i
			break
		}
	}
	if idx < 0 {
		return clients
	}

	rotated := make([]*Wrapper, 0, len(clients))
	for i := 1; i <= len(clients); i++ {
		rotated = append(rotated, clients[(idx+i)%len(clients)])
	}
	return rotated
}

// EnsureDiscovered triggers (rate-limited, cached) replica discovery if
// enabled, wiring any newly-discovered hostnames into dynamic clients via
// the TransportFactory.
func (m *Manager) EnsureDiscovered(primaryHost string) {
	if !m.replicaDiscoveryEnabled || m.transportFactory == nil {
		return
	}

	hosts, err := m.discoverer.Discover(primaryHost)
	if err != nil {
		if m.log != nil {
			m.log.Warn().Err(err).Str("host", primaryHost).Msg("replica discovery failed")
		}
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing := make(map[string]bool, len(m.dynamic))
	for _, w := range m.dynamic {
		existing[w.Endpoint()] = true
	}

	for _, host := range hosts {
		endpoint := (&url.URL{Scheme: "https", Host: host}).String()
		if existing[endpoint] {
			continue
		}

		t, err := m.transportFactory(endpoint)
		if err != nil {
			if m.log != nil {
				m.log.Warn().Err(err).Str("endpoint", endpoint).Msg("failed to build transport for discovered replica")
			}
			continue
		}

		m.dynamic = append(m.dynamic, NewWrapper(t, m.metrics))
	}
}

// Invalidate forces the next EnsureDiscovered call to rediscover replicas,
// used after AllClientsFailed.
func (m *Manager) Invalidate() {
	m.discoverer.Invalidate()
}

// ExecuteWithFailover runs fn against each available client in order,
// rotating on failover-eligible errors and marking clients failed/succeeded
// as it goes. A non-failover-eligible error propagates
// immediately. Exhausting every client returns ErrAllClientsFailed and
// triggers replica rediscovery.
func ExecuteWithFailover[T any](ctx context.Context, m *Manager, primaryHost string, fn func(context.Context, transport.Transport) (T, error)) (T, error) {
	var zero T

	m.EnsureDiscovered(primaryHost)

	clients := m.GetClients()
	if len(clients) == 0 {
		return zero, fmt.Errorf("client: no available clients (all backing off)")
	}

	var lastErr error
	for _, w := range clients {
		result, err := fn(ctx, w.Transport)
		if err == nil {
			w.UpdateBackoff(true)
			m.setLastSuccessfulEndpoint(w.Endpoint())
			return result, nil
		}

		if !transport.IsFailoverEligible(err) {
			return zero, err
		}

		w.UpdateBackoff(false)
		if m.metrics != nil {
			m.metrics.IncFailover()
		}
		if m.log != nil {
			m.log.Warn().Err(err).Str("endpoint", w.Endpoint()).Msg("client failed, rotating to next")
		}
		lastErr = err
	}

	m.Invalidate()
	return zero, fmt.Errorf("%w: %v", ErrAllClientsFailed, lastErr)
}
