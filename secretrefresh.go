package dynconfig

import (
	"context"

	"github.com/carverauto/dynconfig/internal/adapter"
)

// secretSetting records one currently-loaded secret-reference setting's
// effective config_map key and parsed vault reference, so
// refreshKeyVaultSecrets can re-resolve it independently of a full kv
// reload.
type secretSetting struct {
	effectiveKey string
	ref          adapter.SecretReference
}

// refreshKeyVaultSecrets purges the secret provider's value cache and
// re-resolves every currently-loaded secret reference, writing back any
// value that changed. It runs on its own schedule
// (KeyVaultOptions.SecretRefreshInterval), independently of the kv and ff
// load branches, so an unversioned secret reference whose vault-side value
// rotates silently is still picked up even though the owning setting's own
// etag never changes (Key Vault gives no change notification for secret
// rotation the way App Configuration does for its own settings). Reports
// whether config_map changed.
func (p *Provider) refreshKeyVaultSecrets(ctx context.Context) bool {
	p.mu.RLock()
	secrets := append([]secretSetting(nil), p.secretSettings...)
	p.mu.RUnlock()

	if len(secrets) == 0 {
		return false
	}

	p.secretProvider.InvalidateCache()

	changed := false
	for _, s := range secrets {
		value, err := p.secretProvider.ResolveSecret(ctx, s.ref)
		if err != nil {
			if p.log != nil {
				p.log.Warn().Err(err).Str("key", s.effectiveKey).Msg("skipping key vault secret refresh")
			}
			continue
		}

		p.mu.Lock()
		old, ok := p.configMap.get(s.effectiveKey)
		if !ok || old != any(value) {
			next := p.configMap.clone()
			next.set(s.effectiveKey, value)
			p.configMap = next
			changed = true
		}
		p.mu.Unlock()
	}

	return changed
}
