package client

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverReturnsTrustedReplicasOnly(t *testing.T) {
	calls := 0
	lookup := func(service, proto, name string) (string, []*net.SRV, error) {
		calls++
		switch {
		case service == "origin":
			return "", []*net.SRV{{Target: "origin.azconfig.io."}}, nil
		case service == "alt0":
			return "", []*net.SRV{
				{Target: "replica1.azconfig.io."},
				{Target: "evil.example.com."},
			}, nil
		default:
			return "", nil, errors.New("no more records")
		}
	}

	d := NewDiscoverer(lookup)
	hosts, err := d.Discover("primary.azconfig.io")
	require.NoError(t, err)
	assert.Equal(t, []string{"replica1.azconfig.io"}, hosts)
}

func TestDiscoverIsRateLimited(t *testing.T) {
	calls := 0
	lookup := func(service, proto, name string) (string, []*net.SRV, error) {
		calls++
		if service == "origin" {
			return "", []*net.SRV{{Target: "origin.azconfig.io."}}, nil
		}
		return "", nil, errors.New("done")
	}

	d := NewDiscoverer(lookup)
	now := time.Now()
	d.now = func() time.Time { return now }

	_, err := d.Discover("primary.azconfig.io")
	require.NoError(t, err)
	firstCalls := calls

	_, err = d.Discover("primary.azconfig.io")
	require.NoError(t, err)
	assert.Equal(t, firstCalls, calls, "cached discovery result should suppress a second lookup")

	now = now.Add(2 * time.Hour)
	d.Invalidate()
	_, err = d.Discover("primary.azconfig.io")
	require.NoError(t, err)
	assert.Greater(t, calls, firstCalls)
}

func TestTrustedDomainSuffixVariants(t *testing.T) {
	cases := []struct {
		host   string
		suffix string
		ok     bool
	}{
		{"myapp.appconfig.io", ".appconfig.io", true},
		{"myapp.azconfig.io", ".azconfig.io", true},
		{"myapp.internal.example.com", "", false},
	}

	for _, c := range cases {
		suffix, ok := TrustedDomainSuffix(c.host)
		assert.Equal(t, c.ok, ok, c.host)
		if c.ok {
			assert.Equal(t, c.suffix, suffix, c.host)
		}
	}
}
