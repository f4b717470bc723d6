// Package dynconfig implements a client-side dynamic configuration
// provider: it materializes a remote key-value configuration store (plus
// optional feature-flag and secret-reference resolution) into an in-process
// read-only snapshot, refreshed incrementally via conditional requests, with
// failover and load-balancing across replica endpoints.
package dynconfig

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/dynconfig/internal/adapter"
	"github.com/carverauto/dynconfig/internal/client"
	"github.com/carverauto/dynconfig/internal/obslog"
	"github.com/carverauto/dynconfig/internal/refresh"
	"github.com/carverauto/dynconfig/internal/secret"
	"github.com/carverauto/dynconfig/internal/selector"
	"github.com/carverauto/dynconfig/internal/transport"
)

func newRefreshTimerFrom(interval time.Duration) *refresh.Timer {
	return refresh.NewTimer(interval)
}

// sentinelState is one watched setting's runtime state: the etag observed
// on the last load/refresh, or absent if the key did not exist.
type sentinelState struct {
	setting  WatchedSetting
	etag     string
	hasETag  bool
}

// Disposable is returned by OnRefresh; Dispose removes the listener.
type Disposable interface {
	Dispose()
}

type disposableListener struct {
	id uuid.UUID
	p  *Provider
}

func (d *disposableListener) Dispose() {
	d.p.removeListener(d.id)
}

type listenerEntry struct {
	id uuid.UUID
	fn func()
}

// Provider is the core orchestrator: it owns the current ConfigMap, the
// selector/sentinel state, and the refresh timers, and publishes
// Get/Has/Size/Range/Refresh/OnRefresh to application code.
type Provider struct {
	opts Options

	manager        *client.Manager
	primaryHost    string
	primaryOrigin  string
	trimPrefixes   []string

	kvSelectors []selector.Paged
	ffSelectors []selector.Selector

	sentinels []sentinelState
	watchAll  bool

	kvTimer     refreshTimer
	ffTimer     refreshTimer
	secretTimer refreshTimer

	secretProvider *secret.Provider
	adapterChain   *adapter.Chain

	mu             sync.RWMutex
	configMap      *configMap
	secretSettings []secretSetting

	listenersMu sync.Mutex
	listeners   []listenerEntry

	refreshInFlight atomic.Bool
	initialLoadDone atomic.Bool

	log     obslog.Logger
	metrics *obslog.Metrics
}

// refreshTimer is the narrow view of internal/refresh.Timer the provider
// depends on.
type refreshTimer interface {
	CanRefresh() bool
	Reset()
	Backoff()
}

// Load parses endpointOrConnectionString (either a bare HTTPS endpoint or a
// full `Endpoint=...;Id=...;Secret=...` connection string), constructs a
// Provider, and performs one blocking initial load. A fatal error from that
// load is wrapped as StartupError after the minimum unhandled-error
// propagation delay has elapsed.
func Load(ctx context.Context, endpointOrConnectionString string, credential any, opts Options) (*Provider, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	endpoint, err := resolveEndpoint(endpointOrConnectionString)
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = obslog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = obslog.Noop()
	}

	primaryHost, err := hostOf(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	// p is declared before its transports so their header callbacks can
	// close over it and read live state (replica count, failover status,
	// selector shape) at request time.
	p := &Provider{
		opts:          opts,
		primaryHost:   primaryHost,
		primaryOrigin: endpoint,
		trimPrefixes:  sortedTrimPrefixes(opts.TrimKeyPrefixes),
		configMap:     newConfigMap(),
		log:           log,
		metrics:       metrics,
	}
	headerFunc := p.correlationHeaders

	primaryTransport, err := newTransport(endpoint, credential, opts.ClientOptions, headerFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	mgr := client.NewManager(primaryTransport, client.ManagerOptions{
		ReplicaDiscoveryEnabled: opts.replicaDiscoveryEnabled(),
		LoadBalancingEnabled:    opts.LoadBalancingEnabled,
		TransportFactory: func(discoveredEndpoint string) (transport.Transport, error) {
			return newTransport(discoveredEndpoint, credential, opts.ClientOptions, headerFunc)
		},
		Logger:  log,
		Metrics: metrics,
	})

	return finishLoad(ctx, p, mgr, opts)
}

// finishLoad wires the remaining provider state around an already-built
// client.Manager and performs the blocking initial load. Split out from
// Load so tests can construct a Provider around an in-memory transport
// (internal/transport/transporttest.Fake) without going through real HTTP
// endpoint resolution.
func finishLoad(ctx context.Context, p *Provider, mgr *client.Manager, opts Options) (*Provider, error) {
	p.manager = mgr

	kvSelectors, err := normalizeSelectors(opts.Selectors)
	if err != nil {
		return nil, err
	}
	p.kvSelectors = kvSelectors

	p.secretProvider = secret.New(secret.Options{
		Clients:              opts.KeyVaultOptions.SecretClients,
		DefaultClientFactory: opts.KeyVaultOptions.DefaultClientFactory,
		Resolver: func(_ context.Context, sourceID string) (string, error) {
			if opts.KeyVaultOptions.SecretResolver == nil {
				return "", secret.ErrMissingResolver
			}
			return opts.KeyVaultOptions.SecretResolver(sourceID)
		},
		CacheTTL: opts.KeyVaultOptions.SecretRefreshInterval,
		Metrics:  p.metrics,
	})

	if opts.KeyVaultOptions.SecretRefreshInterval > 0 {
		p.secretTimer = newRefreshTimerFrom(opts.KeyVaultOptions.SecretRefreshInterval)
	}

	p.adapterChain = adapter.NewChain(
		adapter.SecretReferenceAdapter{Resolver: p.secretProvider},
		adapter.SnapshotReferenceAdapter{Fetcher: snapshotFetcherFunc(p.fetchSnapshotContents)},
		adapter.JSONAdapter{},
	)

	if opts.RefreshOptions.Enabled {
		p.kvTimer = newRefreshTimerFrom(opts.RefreshOptions.RefreshInterval)
		p.sentinels = make([]sentinelState, len(opts.RefreshOptions.WatchedSettings))
		for i, ws := range opts.RefreshOptions.WatchedSettings {
			p.sentinels[i] = sentinelState{setting: ws}
		}
		p.watchAll = len(opts.RefreshOptions.WatchedSettings) == 0
	}

	if opts.FeatureFlagOptions.Enabled {
		ffSelectors, err := normalizeFFSelectors(opts.FeatureFlagOptions.Selectors)
		if err != nil {
			return nil, err
		}
		p.ffSelectors = ffSelectors
		if opts.FeatureFlagOptions.Refresh.Enabled {
			p.ffTimer = newRefreshTimerFrom(opts.FeatureFlagOptions.Refresh.RefreshInterval)
		}
	}

	start := time.Now()
	if err := p.load(ctx); err != nil {
		return nil, startupError(start, opts.StartupOptions, err)
	}

	// The refresh interval counts from the completed initial load, not from
	// timer construction, so the first Refresh call isn't immediately due.
	if p.kvTimer != nil {
		p.kvTimer.Reset()
	}
	if p.ffTimer != nil {
		p.ffTimer.Reset()
	}
	if p.secretTimer != nil {
		p.secretTimer.Reset()
	}

	p.initialLoadDone.Store(true)
	return p, nil
}

// startupError applies the minimum unhandled-error propagation delay before
// returning the wrapped StartupError.
func startupError(start time.Time, opts StartupOptions, cause error) error {
	floor := 5 * time.Second
	if opts.Timeout > 0 && opts.Timeout < floor {
		floor = opts.Timeout
	}
	if elapsed := time.Since(start); elapsed < floor {
		time.Sleep(floor - elapsed)
	}
	return &StartupError{Err: cause}
}

func resolveEndpoint(input string) (string, error) {
	if strings.Contains(input, "Endpoint=") {
		cs, err := ParseConnectionString(input)
		if err != nil {
			return "", err
		}
		return cs.Endpoint, nil
	}
	if !strings.HasPrefix(input, "https://") && !strings.HasPrefix(input, "http://") {
		return "", fmt.Errorf("%w: endpoint must be an absolute URL or connection string", ErrInvalidArgument)
	}
	return input, nil
}

func hostOf(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}

func newTransport(endpoint string, _ any, clientOpts ClientOptions, headers func() http.Header) (transport.Transport, error) {
	t := transport.NewHTTPTransport(endpoint, nil)
	t.Headers = headers
	_ = clientOpts.UserAgentPrefix // reserved for a future user-agent-aware transport
	return t, nil
}

// correlationHeaders builds the Correlation-Context header from
// live provider state: Startup before the first load completes, Watch
// thereafter; replica count and failover status read from the client
// manager; key-vault usage and tag-filter usage read from configured
// options and selectors.
func (p *Provider) correlationHeaders() http.Header {
	requestType := RequestTypeWatch
	if !p.initialLoadDone.Load() {
		requestType = RequestTypeStartup
	}

	cc := CorrelationContext{
		RequestType:  requestType,
		ReplicaCount: p.manager.ReplicaCount(),
		FilterTags:   p.filterTags(),
		UsesKeyVault: p.usesKeyVault(),
		Failover:     p.manager.FailedOver(p.primaryOrigin),
	}

	h := http.Header{}
	if v := cc.Header(); v != "" {
		h.Set("Correlation-Context", v)
	}
	return h
}

// filterTags reports which selector dimensions (custom key filter, tag
// filter) are in use across the configured kv selectors, per the Filter tag
// set of ("CSTM", "TRGT").
func (p *Provider) filterTags() []string {
	var tags []string
	customKey, tagFilter := false, false
	for _, sel := range p.kvSelectors {
		if sel.Selector.KeyFilter != "" && sel.Selector.KeyFilter != "*" {
			customKey = true
		}
		if len(sel.Selector.TagFilters) > 0 {
			tagFilter = true
		}
	}
	if customKey {
		tags = append(tags, "CSTM")
	}
	if tagFilter {
		tags = append(tags, "TRGT")
	}
	return tags
}

func (p *Provider) usesKeyVault() bool {
	kv := p.opts.KeyVaultOptions
	return len(kv.SecretClients) > 0 || kv.DefaultClientFactory != nil || kv.SecretResolver != nil
}

func normalizeSelectors(in []Selector) ([]selector.Paged, error) {
	converted := make([]selector.Selector, len(in))
	for i, s := range in {
		converted[i] = s.toInternal()
	}

	normalized, err := selector.Normalize(converted)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	paged := make([]selector.Paged, len(normalized))
	for i, s := range normalized {
		paged[i] = selector.Paged{Selector: s}
	}
	return paged, nil
}

func normalizeFFSelectors(in []Selector) ([]selector.Selector, error) {
	converted := make([]selector.Selector, len(in))
	for i, s := range in {
		converted[i] = s.toInternal()
	}

	normalized, err := selector.Normalize(converted)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	return selector.ForFeatureFlags(normalized), nil
}

func sortedTrimPrefixes(prefixes []string) []string {
	sorted := append([]string(nil), prefixes...)
	sort.Sort(sort.Reverse(sort.StringSlice(sorted)))
	return sorted
}

// trimPrefix strips the first (longest, since trimPrefixes is sorted
// descending) matching prefix from key.
func (p *Provider) trimPrefix(key string) string {
	for _, prefix := range p.trimPrefixes {
		if strings.HasPrefix(key, prefix) {
			return strings.TrimPrefix(key, prefix)
		}
	}
	return key
}

// Get returns the value stored at effective key, if any.
func (p *Provider) Get(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.configMap.get(key)
}

// Has reports whether key is present.
func (p *Provider) Has(key string) bool {
	_, ok := p.Get(key)
	return ok
}

// Size returns the number of entries currently in the snapshot.
func (p *Provider) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.configMap.size()
}

// Range calls fn for every (key, value) pair in insertion order, over a
// stable snapshot taken at call time. Stops early if fn returns false.
func (p *Provider) Range(fn func(key string, value any) bool) {
	p.mu.RLock()
	snapshot := p.configMap
	p.mu.RUnlock()

	for _, k := range snapshot.keys {
		if !fn(k, snapshot.values[k]) {
			return
		}
	}
}

// OnRefresh registers a listener invoked after a refresh that reloaded the
// kv snapshot, reloaded feature flags, or changed a key-vault secret value
// (a feature-flag reload counts even when no flag differs). Returns a
// Disposable to unregister it. Listener panics are
// isolated and logged, never propagated to the caller of Refresh.
func (p *Provider) OnRefresh(listener func()) Disposable {
	id := uuid.New()

	p.listenersMu.Lock()
	p.listeners = append(p.listeners, listenerEntry{id: id, fn: listener})
	p.listenersMu.Unlock()

	return &disposableListener{id: id, p: p}
}

func (p *Provider) removeListener(id uuid.UUID) {
	p.listenersMu.Lock()
	defer p.listenersMu.Unlock()

	for i, l := range p.listeners {
		if l.id == id {
			p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
			return
		}
	}
}

func (p *Provider) notifyListeners() {
	p.listenersMu.Lock()
	snapshot := append([]listenerEntry(nil), p.listeners...)
	p.listenersMu.Unlock()

	for _, l := range snapshot {
		p.invokeListener(l)
	}
}

func (p *Provider) invokeListener(l listenerEntry) {
	defer func() {
		if r := recover(); r != nil {
			if p.log != nil {
				p.log.Warn().Interface("panic", r).Msg("refresh listener panicked, isolating")
			}
		}
	}()
	l.fn()
}

// snapshotFetcherFunc adapts a method value to adapter.SnapshotFetcher.
type snapshotFetcherFunc func(ctx context.Context, name string) ([]transport.Setting, error)

func (f snapshotFetcherFunc) FetchSnapshotSettings(ctx context.Context, name string) ([]transport.Setting, error) {
	return f(ctx, name)
}
