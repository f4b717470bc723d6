package dynconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/carverauto/dynconfig/internal/adapter"
	"github.com/carverauto/dynconfig/internal/client"
	"github.com/carverauto/dynconfig/internal/selector"
	"github.com/carverauto/dynconfig/internal/transport"
)

// load performs the full initial-load algorithm of Steps 1 and 3
// run for every Load call; step 2 (sentinel bootstrap) and step 4 (feature
// flags) only apply when the corresponding feature is enabled.
func (p *Provider) load(ctx context.Context) error {
	kvSettings, err := p.fetchKeyValues(ctx)
	if err != nil {
		return err
	}

	if p.opts.RefreshOptions.Enabled && len(p.sentinels) > 0 {
		if err := p.bootstrapSentinels(ctx, kvSettings); err != nil {
			return err
		}
	}

	next, secrets := p.processSettings(ctx, kvSettings)

	if p.opts.FeatureFlagOptions.Enabled {
		flags, err := p.fetchFeatureManagement(ctx)
		if err != nil {
			return err
		}
		next.set(FeatureManagementKey, flags)
	}

	p.mu.Lock()
	p.configMap = next
	p.secretSettings = secrets
	p.mu.Unlock()

	return nil
}

// fetchKeyValues executes every kv selector over the failover-aware client
// manager, discarding any feature-flag settings encountered, and records each non-snapshot selector's page etags for watch-all
// refresh comparisons.
func (p *Provider) fetchKeyValues(ctx context.Context) ([]transport.Setting, error) {
	var all []transport.Setting

	for i := range p.kvSelectors {
		sel := &p.kvSelectors[i]

		settings, pageETags, err := p.fetchSelector(ctx, sel.Selector, nil)
		if err != nil {
			return nil, err
		}
		sel.PageETags = pageETags

		for _, s := range settings {
			if s.ContentType == adapter.FeatureFlagContentType {
				continue
			}
			all = append(all, s)
		}
	}

	return all, nil
}

// fetchSelector resolves one selector: a snapshot selector fetches its
// metadata (asserting composition="key") and lists its contents; a
// non-snapshot selector paginates via List, carrying priorPageETags for
// conditional re-listing.
func (p *Provider) fetchSelector(ctx context.Context, sel selector.Selector, priorPageETags []string) ([]transport.Setting, []string, error) {
	if sel.IsSnapshot() {
		settings, err := client.ExecuteWithFailover(ctx, p.manager, p.primaryHost, func(ctx context.Context, t transport.Transport) ([]transport.Setting, error) {
			meta, err := t.GetSnapshot(ctx, sel.SnapshotName)
			if err != nil {
				return nil, err
			}
			if meta.Composition != "key" {
				return nil, fmt.Errorf("dynconfig: snapshot %q has composition %q, expected \"key\"", sel.SnapshotName, meta.Composition)
			}
			return t.ListSnapshotSettings(ctx, sel.SnapshotName)
		})
		return settings, nil, err
	}

	pages, err := client.ExecuteWithFailover(ctx, p.manager, p.primaryHost, func(ctx context.Context, t transport.Transport) ([]transport.Page, error) {
		return t.List(ctx, transport.Filter{
			KeyFilter:      sel.KeyFilter,
			LabelFilter:    sel.LabelFilter,
			TagFilters:     sel.TagFilters,
			PriorPageETags: priorPageETags,
		})
	})
	if err != nil {
		return nil, nil, err
	}

	var settings []transport.Setting
	etags := make([]string, 0, len(pages))
	for _, page := range pages {
		settings = append(settings, page.Settings...)
		etags = append(etags, page.ETag)
	}

	return settings, etags, nil
}

// fetchSnapshotContents implements adapter.SnapshotFetcher for the
// snapshot-reference adapter: just fetch and return the named snapshot's
// settings, no composition assertion.
func (p *Provider) fetchSnapshotContents(ctx context.Context, name string) ([]transport.Setting, error) {
	return client.ExecuteWithFailover(ctx, p.manager, p.primaryHost, func(ctx context.Context, t transport.Transport) ([]transport.Setting, error) {
		return t.ListSnapshotSettings(ctx, name)
	})
}

// bootstrapSentinels populates each sentinel's etag from the already-loaded
// kv settings; for a sentinel not present there, issues a dedicated point
// get.
func (p *Provider) bootstrapSentinels(ctx context.Context, loaded []transport.Setting) error {
	byKeyLabel := make(map[[2]string]transport.Setting, len(loaded))
	for _, s := range loaded {
		byKeyLabel[[2]string{s.Key, s.Label}] = s
	}

	for i := range p.sentinels {
		ws := p.sentinels[i].setting
		if s, ok := byKeyLabel[[2]string{ws.Key, ws.Label}]; ok {
			p.sentinels[i].etag = s.ETag
			p.sentinels[i].hasETag = true
			continue
		}

		s, err := client.ExecuteWithFailover(ctx, p.manager, p.primaryHost, func(ctx context.Context, t transport.Transport) (*transport.Setting, error) {
			s, found, err := t.Get(ctx, ws.Key, ws.Label)
			if err != nil {
				return nil, err
			}
			if !found {
				return nil, nil
			}
			return s, nil
		})
		if err != nil {
			return err
		}

		if s != nil {
			p.sentinels[i].etag = s.ETag
			p.sentinels[i].hasETag = true
		} else {
			p.sentinels[i].hasETag = false
		}
	}

	return nil
}

// processSettings runs every loaded setting through the adapter chain and
// prefix trim, returning a fresh configMap seeded with the prior
// feature_management entry, plus the subset of settings that resolved
// through the secret-reference adapter (tracked so refreshKeyVaultSecrets
// can re-resolve them independently of a full kv reload). It does not
// mutate p.configMap — callers swap it in once ready, so that the kv and ff
// refresh branches, which may run concurrently, never race on a half-built
// map.
func (p *Provider) processSettings(ctx context.Context, settings []transport.Setting) (*configMap, []secretSetting) {
	p.mu.RLock()
	next := p.configMap.clearExceptFeatureManagement()
	p.mu.RUnlock()

	var secrets []secretSetting

	for _, s := range settings {
		effectiveKey, value, err := p.adapterChain.Process(ctx, s)
		if err != nil {
			var secErr *adapter.SecretResolutionError
			if errors.As(err, &secErr) {
				err = &KeyVaultReferenceError{
					Key:      secErr.Key,
					Label:    secErr.Label,
					ETag:     secErr.ETag,
					SecretID: secErr.SecretID,
					Err:      secErr.Err,
				}
			}
			if p.log != nil {
				p.log.Warn().Err(err).Str("key", s.Key).Msg("skipping setting: adapter processing failed")
			}
			continue
		}

		key := p.trimPrefix(effectiveKey)
		next.set(key, value)

		if ref, ok, refErr := adapter.ExtractSecretReference(s); ok && refErr == nil {
			secrets = append(secrets, secretSetting{effectiveKey: key, ref: ref})
		}
	}

	return next, secrets
}

// fetchFeatureManagement fetches every ff selector, parses each flag
// document as JSON, and returns the feature_management value. Like processSettings, it does not mutate p.configMap itself.
func (p *Provider) fetchFeatureManagement(ctx context.Context) (map[string]any, error) {
	var flags []any

	for _, sel := range p.ffSelectors {
		settings, _, err := p.fetchSelector(ctx, sel, nil)
		if err != nil {
			return nil, err
		}

		for _, s := range settings {
			if s.ContentType != adapter.FeatureFlagContentType {
				continue // non-feature-flag settings in the ff path are discarded
			}
			if s.Value == nil {
				continue
			}

			doc, err := parseFeatureFlagDocument(*s.Value)
			if err != nil {
				if p.log != nil {
					p.log.Warn().Err(err).Str("key", s.Key).Msg("skipping malformed feature flag document")
				}
				continue
			}

			annotateFeatureFlagTelemetry(doc, s, p.primaryOrigin)
			flags = append(flags, doc)
		}
	}

	return map[string]any{"feature_flags": flags}, nil
}

func parseFeatureFlagDocument(raw string) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// annotateFeatureFlagTelemetry attaches etag and a canonical
// feature_flag_reference URI (primary endpoint origin + key + label) to the
// parsed document.
func annotateFeatureFlagTelemetry(doc map[string]any, s transport.Setting, primaryOrigin string) {
	telemetry, _ := doc["telemetry"].(map[string]any)
	if telemetry == nil {
		telemetry = map[string]any{}
	}

	telemetry["etag"] = s.ETag

	ref := strings.TrimRight(primaryOrigin, "/") + "/kv/" + url.PathEscape(s.Key)
	if s.Label != "" {
		ref += "?label=" + url.QueryEscape(s.Label)
	}
	telemetry["feature_flag_reference"] = ref

	doc["telemetry"] = telemetry
}

// refreshResult carries what each branch of a parallel refresh computed, to
// be merged and swapped in once by the caller: config_map is swapped only
// by the single refresh-in-flight path. kvErr/ffErr are each branch's own
// outcome; a failure in one branch never prevents the other's result from
// being applied.
type refreshResult struct {
	kv        *configMap
	kvSecrets []secretSetting
	kvChanged bool
	kvErr     error

	ff        map[string]any
	ffChanged bool
	ffErr     error
}

// runLoadBranches runs the kv and/or ff load branches concurrently on plain
// goroutines, sharing the caller's ctx (no derived cancel-on-error context)
// and each with its own error slot: one
// branch's failure never cancels or discards the other's result, so a
// transient ff fetch error doesn't stop a successful kv reload (or vice
// versa) from being applied.
func (p *Provider) runLoadBranches(ctx context.Context, loadKV, loadFF bool) refreshResult {
	var result refreshResult
	var wg sync.WaitGroup

	if loadKV {
		wg.Add(1)
		go func() {
			defer wg.Done()
			settings, err := p.fetchKeyValues(ctx)
			if err != nil {
				result.kvErr = fmt.Errorf("kv: %w", err)
				return
			}
			result.kv, result.kvSecrets = p.processSettings(ctx, settings)
			result.kvChanged = true
		}()
	}

	if loadFF {
		wg.Add(1)
		go func() {
			defer wg.Done()
			flags, err := p.fetchFeatureManagement(ctx)
			if err != nil {
				result.ffErr = fmt.Errorf("ff: %w", err)
				return
			}
			result.ff = flags
			result.ffChanged = true
		}()
	}

	wg.Wait()
	return result
}

// applyRefreshResult merges a refreshResult into the live configMap and
// swaps it in under a single lock acquisition, the one point where
// config_map mutates during a refresh. A branch that failed (kvChanged or
// ffChanged false) simply contributes nothing; the other branch's result
// still applies.
func (p *Provider) applyRefreshResult(r refreshResult) {
	if !r.kvChanged && !r.ffChanged {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var next *configMap
	if r.kvChanged {
		next = r.kv
		p.secretSettings = r.kvSecrets
	} else {
		next = p.configMap.clone()
	}

	if r.ffChanged {
		next.set(FeatureManagementKey, r.ff)
	}

	p.configMap = next
}
