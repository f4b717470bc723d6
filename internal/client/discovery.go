package client

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

const (
	// discoveryMinInterval rate-limits replica rediscovery attempts.
	discoveryMinInterval = 30 * time.Second
	// discoveryCacheTTL expires a successful discovery result.
	discoveryCacheTTL = time.Hour
	// maxAlternates bounds how many _altN._tcp SRV records are probed.
	maxAlternates = 10
)

// SRVLookupFunc matches net.LookupSRV's signature, abstracted so tests can
// inject a fake resolver instead of hitting real DNS.
type SRVLookupFunc func(service, proto, name string) (cname string, addrs []*net.SRV, err error)

// Discoverer resolves replica hostnames via DNS SRV records:
// `_origin._tcp.<host>` names the origin record, then `_alt0._tcp.<origin>`,
// `_alt1.…` up to maxAlternates name the replicas.
type Discoverer struct {
	lookup SRVLookupFunc
	now    func() time.Time

	mu          sync.Mutex
	lastAttempt time.Time
	cachedAt    time.Time
	cached      []string
}

// NewDiscoverer constructs a Discoverer. A nil lookup defaults to net.LookupSRV.
func NewDiscoverer(lookup SRVLookupFunc) *Discoverer {
	if lookup == nil {
		lookup = net.LookupSRV
	}
	return &Discoverer{lookup: lookup, now: time.Now}
}

// Discover returns the set of replica hostnames for primaryHost, subject to
// the minimum-interval rate limit and the 1h cache. Forcing rediscovery
// (e.g. after AllClientsFailed) is done by calling Invalidate first.
func (d *Discoverer) Discover(primaryHost string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	clock := d.clock()

	if !d.cachedAt.IsZero() && clock.Sub(d.cachedAt) < discoveryCacheTTL {
		return d.cached, nil
	}

	if !d.lastAttempt.IsZero() && clock.Sub(d.lastAttempt) < discoveryMinInterval {
		return d.cached, nil
	}

	d.lastAttempt = clock

	hosts, err := d.discoverLocked(primaryHost)
	if err != nil {
		return nil, err
	}

	d.cached = hosts
	d.cachedAt = clock

	return hosts, nil
}

// Invalidate clears the cache and rate-limit window, forcing the next
// Discover call to hit DNS again. Called after AllClientsFailed.
func (d *Discoverer) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cachedAt = time.Time{}
	d.lastAttempt = time.Time{}
}

func (d *Discoverer) clock() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now()
}

func (d *Discoverer) discoverLocked(primaryHost string) ([]string, error) {
	_, originAddrs, err := d.lookup("origin", "tcp", primaryHost)
	if err != nil || len(originAddrs) == 0 {
		return nil, fmt.Errorf("client: origin SRV lookup for %q failed: %w", primaryHost, err)
	}

	origin := strings.TrimSuffix(originAddrs[0].Target, ".")

	suffix, ok := TrustedDomainSuffix(primaryHost)
	if !ok {
		return nil, fmt.Errorf("client: %q has no trusted appconfig/azconfig domain suffix", primaryHost)
	}

	var hosts []string
	for i := 0; i < maxAlternates; i++ {
		service := fmt.Sprintf("alt%d", i)
		_, addrs, err := d.lookup(service, "tcp", origin)
		if err != nil || len(addrs) == 0 {
			break
		}

		for _, addr := range addrs {
			host := strings.TrimSuffix(addr.Target, ".")
			if !strings.HasSuffix(strings.ToLower(host), strings.ToLower(suffix)) {
				continue // untrusted replica, reject 
			}
			hosts = append(hosts, host)
		}
	}

	return hosts, nil
}

// TrustedDomainSuffix returns the "valid domain" of a primary endpoint host:
// the trailing occurrence of ".azconfig." or ".appconfig." through the end
// of the string. ok is false if neither marker is present.
func TrustedDomainSuffix(primaryHost string) (string, bool) {
	lower := strings.ToLower(primaryHost)

	bestIdx := -1
	for _, marker := range []string{".azconfig.", ".appconfig."} {
		if idx := strings.LastIndex(lower, marker); idx > bestIdx {
			bestIdx = idx
		}
	}

	if bestIdx < 0 {
		return "", false
	}

	return primaryHost[bestIdx:], true
}
