package client

import (
	"context"
	"errors"
	"testing"

	"github.com/carverauto/dynconfig/internal/transport"
	"github.com/carverauto/dynconfig/internal/transport/transporttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteWithFailoverRotatesOnFailoverEligibleError(t *testing.T) {
	primary := transporttest.New("https://primary.azconfig.io")
	primary.FailNext(&transport.HTTPError{StatusCode: 500, Err: errors.New("boom")})

	secondary := transporttest.New("https://secondary.azconfig.io")
	secondary.Set(transport.Setting{Key: "k", Value: strPtr("v")})

	mgr := NewManager(primary, ManagerOptions{})
	mgr.dynamic = append(mgr.dynamic, NewWrapper(secondary, nil))

	result, err := ExecuteWithFailover(context.Background(), mgr, "primary.azconfig.io", func(ctx context.Context, tr transport.Transport) ([]transport.Page, error) {
		return tr.List(ctx, transport.Filter{KeyFilter: "*", LabelFilter: "\x00"})
	})

	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "https://secondary.azconfig.io", mgr.lastSuccessfulEndpoint())
}

func TestExecuteWithFailoverPropagatesNonFailoverError(t *testing.T) {
	primary := transporttest.New("https://primary.azconfig.io")
	benign := errors.New("malformed filter")
	primary.FailNext(benign)

	mgr := NewManager(primary, ManagerOptions{})

	_, err := ExecuteWithFailover(context.Background(), mgr, "primary.azconfig.io", func(ctx context.Context, tr transport.Transport) ([]transport.Page, error) {
		return tr.List(ctx, transport.Filter{})
	})

	assert.ErrorIs(t, err, benign)
}

func TestExecuteWithFailoverAllClientsFailed(t *testing.T) {
	primary := transporttest.New("https://primary.azconfig.io")
	primary.FailNext(&transport.HTTPError{StatusCode: 503, Err: errors.New("down")})

	mgr := NewManager(primary, ManagerOptions{})

	_, err := ExecuteWithFailover(context.Background(), mgr, "primary.azconfig.io", func(ctx context.Context, tr transport.Transport) ([]transport.Page, error) {
		return tr.List(ctx, transport.Filter{})
	})

	assert.ErrorIs(t, err, ErrAllClientsFailed)
}

func TestLoadBalancingRotatesAfterLastSuccessful(t *testing.T) {
	a := transporttest.New("https://a.azconfig.io")
	b := transporttest.New("https://b.azconfig.io")
	c := transporttest.New("https://c.azconfig.io")

	mgr := NewManager(a, ManagerOptions{LoadBalancingEnabled: true})
	mgr.dynamic = append(mgr.dynamic, NewWrapper(b, nil), NewWrapper(c, nil))

	mgr.setLastSuccessfulEndpoint("https://a.azconfig.io")
	ordered := mgr.GetClients()
	require.Len(t, ordered, 3)
	assert.Equal(t, "https://b.azconfig.io", ordered[0].Endpoint())

	mgr.setLastSuccessfulEndpoint("https://c.azconfig.io")
	ordered = mgr.GetClients()
	assert.Equal(t, "https://a.azconfig.io", ordered[0].Endpoint())
}

func TestTrustedDomainSuffixRejectsUntrustedReplica(t *testing.T) {
	suffix, ok := TrustedDomainSuffix("myconfig.azconfig.io")
	require.True(t, ok)
	assert.Equal(t, ".azconfig.io", suffix)

	_, ok = TrustedDomainSuffix("example.com")
	assert.False(t, ok)
}

func strPtr(s string) *string { return &s }
