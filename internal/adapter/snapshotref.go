package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/carverauto/dynconfig/internal/transport"
)

// SnapshotFetcher is the narrow collaborator this adapter needs to inline a
// referenced snapshot's settings.
type SnapshotFetcher interface {
	FetchSnapshotSettings(ctx context.Context, snapshotName string) ([]transport.Setting, error)
}

type snapshotRefDocument struct {
	SnapshotName string `json:"snapshotName"`
}

// SnapshotReferenceAdapter resolves `application/vnd.microsoft.appconfig.snapshotref+json`
// settings by fetching the named snapshot and inlining its settings as a
// nested map keyed by each contained setting's own key.
type SnapshotReferenceAdapter struct {
	Fetcher SnapshotFetcher
}

func (a SnapshotReferenceAdapter) CanProcess(s transport.Setting) bool {
	return a.Fetcher != nil && s.ContentType == SnapshotReferenceContentType
}

func (a SnapshotReferenceAdapter) Process(ctx context.Context, s transport.Setting) (string, any, error) {
	if s.Value == nil {
		return s.Key, nil, fmt.Errorf("adapter: snapshot reference %q has no value", s.Key)
	}

	var doc snapshotRefDocument
	if err := json.Unmarshal([]byte(*s.Value), &doc); err != nil {
		return s.Key, nil, fmt.Errorf("adapter: snapshot reference %q: invalid document: %w", s.Key, err)
	}

	settings, err := a.Fetcher.FetchSnapshotSettings(ctx, doc.SnapshotName)
	if err != nil {
		return s.Key, nil, fmt.Errorf("adapter: fetching snapshot %q for %q: %w", doc.SnapshotName, s.Key, err)
	}

	inlined := make(map[string]any, len(settings))
	for _, inner := range settings {
		if inner.ContentType == FeatureFlagContentType {
			continue // feature flags inside a snapshot are discarded
		}
		if inner.Value == nil {
			inlined[inner.Key] = nil
			continue
		}
		inlined[inner.Key] = *inner.Value
	}

	return s.Key, inlined, nil
}
