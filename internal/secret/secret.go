// Package secret resolves Key Vault secret references via explicit
// clients, a cached default-credential client, or a user-supplied resolver
// callback, with an optional TTL cache and unversioned-reference change
// tracking.
package secret

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/carverauto/dynconfig/internal/adapter"
	"github.com/carverauto/dynconfig/internal/obslog"
)

// ErrMissingResolver is returned when a secret reference names a vault with
// no explicit client, no working default-credential client, and no
// secret_resolver callback configured.
var ErrMissingResolver = errors.New("secret: no resolver available for vault")

// Client resolves one secret by name and optional version from a single
// Key Vault. Implementations wrap whatever Key Vault SDK the caller prefers;
// dynconfig only depends on this narrow interface.
type Client interface {
	GetSecret(ctx context.Context, name, version string) (string, error)
}

// ClientFactory constructs a default-credential-backed Client for a vault
// host the caller did not register an explicit client for.
type ClientFactory func(vaultHost string) (Client, error)

// Options configures a Provider.
type Options struct {
	// Clients maps vault host to an explicit, pre-constructed client.
	Clients map[string]Client
	// DefaultClientFactory builds a client lazily for vaults with no
	// explicit entry in Clients; its results are cached per vault host.
	DefaultClientFactory ClientFactory
	// Resolver is the last-resort callback, keyed by SourceID.
	Resolver func(ctx context.Context, sourceID string) (string, error)
	// CacheTTL enables the secret value cache when non-zero.
	CacheTTL time.Duration
	// CacheSize bounds the TTL cache; ignored when CacheTTL is zero.
	CacheSize int
	// Metrics records cache hit/miss counts, if non-nil.
	Metrics *obslog.Metrics
}

// Provider implements adapter.SecretResolver.
type Provider struct {
	explicit map[string]Client
	factory  ClientFactory
	resolver func(ctx context.Context, sourceID string) (string, error)

	mu             sync.Mutex
	defaultClients map[string]Client

	cache *lru.LRU[string, string]

	versionsMu   sync.Mutex
	lastVersions map[string]string

	metrics *obslog.Metrics
}

// New constructs a Provider from Options.
func New(opts Options) *Provider {
	p := &Provider{
		explicit:       opts.Clients,
		factory:        opts.DefaultClientFactory,
		resolver:       opts.Resolver,
		defaultClients: make(map[string]Client),
		lastVersions:   make(map[string]string),
		metrics:        opts.Metrics,
	}
	if opts.CacheTTL > 0 {
		size := opts.CacheSize
		if size <= 0 {
			size = 256
		}
		p.cache = lru.NewLRU[string, string](size, nil, opts.CacheTTL)
	}
	return p
}

// ResolveSecret resolves ref in order of precedence: explicit client for
// the vault, else a cached default-credential client, else the resolver
// callback, else ErrMissingResolver. A configured TTL cache is consulted
// first and populated on resolution.
func (p *Provider) ResolveSecret(ctx context.Context, ref adapter.SecretReference) (string, error) {
	if p.cache != nil {
		if v, ok := p.cache.Get(ref.SourceID); ok {
			p.recordVersion(ref)
			p.metrics.ObserveSecretCache(true)
			return v, nil
		}
	}

	value, err := p.resolve(ctx, ref)
	if err != nil {
		return "", err
	}

	if p.cache != nil {
		p.cache.Add(ref.SourceID, value)
		p.metrics.ObserveSecretCache(false)
	}
	p.recordVersion(ref)

	return value, nil
}

func (p *Provider) resolve(ctx context.Context, ref adapter.SecretReference) (string, error) {
	if client, ok := p.explicit[ref.VaultHost]; ok {
		return client.GetSecret(ctx, ref.SecretName, ref.Version)
	}

	if client, err := p.defaultClient(ref.VaultHost); err == nil && client != nil {
		return client.GetSecret(ctx, ref.SecretName, ref.Version)
	}

	if p.resolver != nil {
		return p.resolver(ctx, ref.SourceID)
	}

	return "", fmt.Errorf("%w: %s", ErrMissingResolver, ref.VaultHost)
}

func (p *Provider) defaultClient(vaultHost string) (Client, error) {
	if p.factory == nil {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.defaultClients[vaultHost]; ok {
		return c, nil
	}

	c, err := p.factory(vaultHost)
	if err != nil {
		return nil, err
	}
	p.defaultClients[vaultHost] = c
	return c, nil
}

// recordVersion tracks the version last observed for an unversioned
// reference's SourceID. InvalidateIfVersionChanged uses this
// to detect a secret reference rolling to a new version even when the
// owning KV setting's etag has not changed.
func (p *Provider) recordVersion(ref adapter.SecretReference) {
	if ref.Version == "" {
		return
	}

	p.versionsMu.Lock()
	defer p.versionsMu.Unlock()
	p.lastVersions[ref.SourceID] = ref.Version
}

// InvalidateIfVersionChanged reports whether ref's version differs from the
// last one observed for its SourceID, evicting the cached value so the next
// ResolveSecret call re-fetches it. Used by the refresh path to detect a
// version bump on an otherwise-unversioned reference.
func (p *Provider) InvalidateIfVersionChanged(ref adapter.SecretReference) bool {
	p.versionsMu.Lock()
	last, seen := p.lastVersions[ref.SourceID]
	p.versionsMu.Unlock()

	if !seen || last == ref.Version {
		return false
	}

	if p.cache != nil {
		p.cache.Remove(ref.SourceID)
	}
	return true
}

// InvalidateCache drops all cached secret values, called when the provider's
// secret-refresh timer expires.
func (p *Provider) InvalidateCache() {
	if p.cache != nil {
		p.cache.Purge()
	}
}
