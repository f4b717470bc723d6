package dynconfig

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/dynconfig/internal/adapter"
	"github.com/carverauto/dynconfig/internal/transport"
	"github.com/carverauto/dynconfig/internal/transport/transporttest"
)

func TestRefreshKeyVaultSecretsPicksUpVaultSideRotationWithoutEtagChange(t *testing.T) {
	fake := transporttest.New("primary.example.com")
	fake.Set(transport.Setting{
		Key:         "db/password",
		ContentType: adapter.SecretReferenceContentType,
		Value:       strPtr(`{"secretId": "https://myvault.vault.azure.net/secrets/mysecret"}`),
		ETag:        "e1",
	})

	calls := 0
	p, err := newTestProvider(context.Background(), Options{
		RefreshOptions: RefreshOptions{
			Enabled:         true,
			RefreshInterval: time.Hour,
		},
		KeyVaultOptions: KeyVaultOptions{
			SecretRefreshInterval: 10 * time.Millisecond,
			SecretResolver: func(sourceID string) (string, error) {
				calls++
				return fmt.Sprintf("secret-v%d", calls), nil
			},
		},
	}, fake)
	require.NoError(t, err)

	v, ok := p.Get("db/password")
	require.True(t, ok)
	assert.Equal(t, "secret-v1", v)

	notified := 0
	p.OnRefresh(func() { notified++ })

	time.Sleep(15 * time.Millisecond)

	// The owning App Configuration setting's etag never changes (no Set
	// call happens here), but the secret-refresh timer fires independently
	// of kv's hour-long interval and picks up the vault-side rotation.
	require.NoError(t, p.Refresh(context.Background()))
	assert.Equal(t, 1, notified)
	assert.Equal(t, 2, calls)

	v, ok = p.Get("db/password")
	require.True(t, ok)
	assert.Equal(t, "secret-v2", v)
}

func TestRefreshKeyVaultSecretsNoopWithoutSecretReferences(t *testing.T) {
	fake := transporttest.New("primary.example.com")
	fake.Set(transport.Setting{Key: "app/name", Value: strPtr("widget"), ETag: "e1"})

	p, err := newTestProvider(context.Background(), Options{
		RefreshOptions: RefreshOptions{
			Enabled:         true,
			RefreshInterval: time.Hour,
		},
		KeyVaultOptions: KeyVaultOptions{
			SecretRefreshInterval: 10 * time.Millisecond,
			SecretResolver: func(sourceID string) (string, error) {
				return "", fmt.Errorf("should never be called")
			},
		},
	}, fake)
	require.NoError(t, err)

	notified := 0
	p.OnRefresh(func() { notified++ })

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, p.Refresh(context.Background()))
	assert.Equal(t, 0, notified)
}
