package dynconfig

import (
	"context"
	"fmt"
	"time"

	"github.com/carverauto/dynconfig/internal/client"
	"github.com/carverauto/dynconfig/internal/transport"
)

// Refresh determines whether a reload is needed
// (sentinel polling when WatchedSettings is non-empty, otherwise
// conditional re-listing of every kv selector), reloads feature flags on
// their own independent schedule, and swaps the merged kv/ff result into
// the ConfigMap once; when the key-vault secret timer is also due, each
// re-resolved secret whose value changed is swapped in afterwards.
// Feature flags are reloaded whenever their timer is due, without a
// conditional check, and a successful ff reload always counts as a change
// for listener notification.
// Concurrent calls collapse into a single in-flight refresh; the loser
// returns immediately with a nil error.
//
// The kv and ff branches are independent: a rejected or failed branch is
// logged and backed off on its own timer, but never prevents the other
// branch's result from being applied or its timer from being reset. Refresh
// only returns an error when every branch that was due this cycle failed.
func (p *Provider) Refresh(ctx context.Context) error {
	if !p.opts.RefreshOptions.Enabled && !(p.opts.FeatureFlagOptions.Enabled && p.opts.FeatureFlagOptions.Refresh.Enabled) {
		return ErrNotEnabled
	}

	if !p.refreshInFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer p.refreshInFlight.Store(false)

	kvDue := p.opts.RefreshOptions.Enabled && p.kvTimer != nil && p.kvTimer.CanRefresh()
	ffDue := p.opts.FeatureFlagOptions.Enabled && p.ffTimer != nil && p.ffTimer.CanRefresh()
	secretDue := p.secretTimer != nil && p.secretTimer.CanRefresh()

	if !kvDue && !ffDue && !secretDue {
		return nil
	}

	start := time.Now()

	loadKV := false
	var kvErr error
	if kvDue {
		needed, err := p.kvNeedsReload(ctx)
		if err != nil {
			kvErr = err
		} else {
			loadKV = needed
		}
	}

	loadFF := ffDue

	result := p.runLoadBranches(ctx, loadKV, loadFF)
	if kvDue && loadKV && kvErr == nil {
		kvErr = result.kvErr
	}
	ffErr := result.ffErr

	if kvDue {
		if kvErr != nil {
			p.kvTimer.Backoff()
			p.metrics.ObserveRefresh("kv", "error")
		} else {
			p.kvTimer.Reset()
			p.metrics.ObserveRefresh("kv", "ok")
		}
	}
	if ffDue {
		if ffErr != nil {
			p.ffTimer.Backoff()
			p.metrics.ObserveRefresh("ff", "error")
		} else {
			p.ffTimer.Reset()
			p.metrics.ObserveRefresh("ff", "ok")
		}
	}

	p.applyRefreshResult(result)

	changed := result.kvChanged || result.ffChanged

	if secretDue {
		if p.refreshKeyVaultSecrets(ctx) {
			changed = true
		}
		p.secretTimer.Reset()
	}

	if changed {
		p.notifyListeners()
	}

	p.metrics.ObserveRefreshDuration(time.Since(start).Seconds())

	switch {
	case kvDue && ffDue:
		if kvErr != nil && ffErr != nil {
			return fmt.Errorf("dynconfig: refresh failed: kv: %v, ff: %v", kvErr, ffErr)
		}
	case kvDue:
		if kvErr != nil {
			return kvErr
		}
	case ffDue:
		if ffErr != nil {
			return ffErr
		}
	}

	return nil
}

// kvNeedsReload determines whether the kv snapshot needs
// reloading: sentinel mode issues a conditional point Get per watched
// setting; watch-all mode issues a conditional List per selector and
// reloads if any page reports Changed.
func (p *Provider) kvNeedsReload(ctx context.Context) (bool, error) {
	if len(p.sentinels) > 0 {
		return p.sentinelsChanged(ctx)
	}
	return p.pagesChanged(ctx)
}

// sentinelsChanged polls each watched setting with a conditional Get,
// updating its recorded etag in place. Status 200 (new etag) or
// 404-after-having-existed both signal a reload; 304 does not.
func (p *Provider) sentinelsChanged(ctx context.Context) (bool, error) {
	changed := false

	for i := range p.sentinels {
		ws := p.sentinels[i].setting
		ifETag := p.sentinels[i].etag

		result, err := client.ExecuteWithFailover(ctx, p.manager, p.primaryHost, func(ctx context.Context, t transport.Transport) (transport.PointResult, error) {
			return t.GetConditional(ctx, ws.Key, ws.Label, ifETag)
		})
		if err != nil {
			return false, err
		}

		switch result.Status {
		case 304:
			// unchanged
		case 404:
			if p.sentinels[i].hasETag {
				changed = true
			}
			p.sentinels[i].hasETag = false
			p.sentinels[i].etag = ""
		case 200:
			changed = true
			p.sentinels[i].hasETag = true
			if result.Setting != nil {
				p.sentinels[i].etag = result.Setting.ETag
			}
		default:
			return false, fmt.Errorf("dynconfig: unexpected conditional get status %d for key %q", result.Status, ws.Key)
		}
	}

	return changed, nil
}

// pagesChanged re-lists every non-snapshot kv selector with its
// previously-recorded page etags, reporting true if any page came back
// changed (status 200 rather than 304), and updates the recorded etags
// regardless so the next poll compares against the latest state.
func (p *Provider) pagesChanged(ctx context.Context) (bool, error) {
	changed := false

	for i := range p.kvSelectors {
		sel := &p.kvSelectors[i]
		if sel.Selector.IsSnapshot() {
			continue
		}

		pages, err := client.ExecuteWithFailover(ctx, p.manager, p.primaryHost, func(ctx context.Context, t transport.Transport) ([]transport.Page, error) {
			return t.List(ctx, transport.Filter{
				KeyFilter:      sel.Selector.KeyFilter,
				LabelFilter:    sel.Selector.LabelFilter,
				TagFilters:     sel.Selector.TagFilters,
				PriorPageETags: sel.PageETags,
			})
		})
		if err != nil {
			return false, err
		}

		etags := make([]string, 0, len(pages))
		for _, page := range pages {
			etags = append(etags, page.ETag)
			if page.Changed {
				changed = true
			}
		}
		sel.PageETags = etags
	}

	return changed, nil
}
