// Package adapter implements the key-value adapter chain: each setting is
// run through secret-reference, snapshot-reference, and JSON adapters in
// order, falling back to pass-through.
package adapter

import (
	"context"

	"github.com/carverauto/dynconfig/internal/transport"
)

// Adapter transforms one Setting into an effective (key, value) pair.
type Adapter interface {
	// CanProcess reports whether this adapter claims the setting, typically
	// by inspecting its ContentType.
	CanProcess(s transport.Setting) bool
	// Process returns the effective key and value. effectiveKey defaults to
	// s.Key when the adapter does not rewrite it.
	Process(ctx context.Context, s transport.Setting) (effectiveKey string, value any, err error)
}

// Chain runs a setting through adapters in order, using the first one that
// claims it; unclaimed settings pass through unchanged.
type Chain struct {
	adapters []Adapter
}

// NewChain builds the chain in order: secret-reference, then
// snapshot-reference, then JSON, else pass-through. A nil secret or snapshot
// resolver disables that adapter (e.g. no KeyVaultOptions configured).
func NewChain(secretAdapter, snapshotAdapter Adapter, jsonAdapter Adapter) *Chain {
	c := &Chain{}
	if secretAdapter != nil {
		c.adapters = append(c.adapters, secretAdapter)
	}
	if snapshotAdapter != nil {
		c.adapters = append(c.adapters, snapshotAdapter)
	}
	if jsonAdapter != nil {
		c.adapters = append(c.adapters, jsonAdapter)
	} else {
		c.adapters = append(c.adapters, JSONAdapter{})
	}
	c.adapters = append(c.adapters, PassThroughAdapter{})
	return c
}

// Process runs s through the chain in order, returning the first adapter's
// result.
func (c *Chain) Process(ctx context.Context, s transport.Setting) (string, any, error) {
	for _, a := range c.adapters {
		if a.CanProcess(s) {
			return a.Process(ctx, s)
		}
	}
	return PassThroughAdapter{}.Process(ctx, s)
}

// PassThroughAdapter returns the setting's raw string value unchanged. It is
// the chain's terminal fallback and always claims every setting.
type PassThroughAdapter struct{}

func (PassThroughAdapter) CanProcess(transport.Setting) bool { return true }

func (PassThroughAdapter) Process(_ context.Context, s transport.Setting) (string, any, error) {
	if s.Value == nil {
		return s.Key, nil, nil
	}
	return s.Key, *s.Value, nil
}
