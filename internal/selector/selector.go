// Package selector implements Selector/Paged normalization:
// defaulting, tuple-based deduplication, tag_filter validation, and
// feature-flag key-prefix rewriting.
package selector

import (
	"fmt"
	"strings"
)

// NullLabel is the single-NUL-character sentinel standing in for "no label".
const NullLabel = "\x00"

// FeatureFlagKeyPrefix marks feature-flag keys; prepended to every
// feature-flag selector's KeyFilter.
const FeatureFlagKeyPrefix = ".appconfig.featureflag/"

// Selector is a user-declared filter: exactly one of the (KeyFilter,
// LabelFilter, TagFilters) triple or SnapshotName is meaningful.
type Selector struct {
	KeyFilter   string
	LabelFilter string
	TagFilters  []string
	SnapshotName string
}

// IsSnapshot reports whether this selector names a server-side snapshot.
func (s Selector) IsSnapshot() bool { return s.SnapshotName != "" }

// dedupKey is the tuple selectors are deduplicated by.
func (s Selector) dedupKey() [3]string {
	return [3]string{s.KeyFilter, s.LabelFilter, s.SnapshotName}
}

// Validate enforces at most 5 tag filters, each of the form name=value
// with neither side empty; reserved characters rejected in key/label
// filters; snapshots forbid key/label/tag filters.
func (s Selector) Validate() error {
	if s.IsSnapshot() {
		if s.KeyFilter != "" || s.LabelFilter != "" || len(s.TagFilters) > 0 {
			return fmt.Errorf("selector: snapshot selector %q must not carry key/label/tag filters", s.SnapshotName)
		}
		return nil
	}

	if s.KeyFilter == "" {
		return fmt.Errorf("selector: key_filter is required")
	}
	if strings.Count(s.KeyFilter, "*") > 0 && !strings.HasSuffix(s.KeyFilter, "*") {
		return fmt.Errorf("selector: %q may only use '*' as a trailing wildcard", s.KeyFilter)
	}
	if strings.Contains(s.LabelFilter, ",") {
		return fmt.Errorf("selector: label_filter %q must not contain ','", s.LabelFilter)
	}

	if len(s.TagFilters) > 5 {
		return fmt.Errorf("selector: at most 5 tag_filters allowed, got %d", len(s.TagFilters))
	}
	for _, tf := range s.TagFilters {
		parts := strings.SplitN(tf, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("selector: tag_filter %q must be name=value with neither side empty", tf)
		}
	}

	return nil
}

// Normalize applies defaulting and deduplication: an empty input
// defaults to a single catch-all selector; duplicates (by the (key_filter,
// label_filter, snapshot_name) tuple) keep the later occurrence, preserving
// its position (last-wins).
func Normalize(selectors []Selector) ([]Selector, error) {
	if len(selectors) == 0 {
		selectors = []Selector{{KeyFilter: "*", LabelFilter: NullLabel}}
	}

	type indexed struct {
		sel Selector
		pos int
	}
	byKey := make(map[[3]string]indexed, len(selectors))
	normalized := make([]Selector, 0, len(selectors))

	for i, s := range selectors {
		if s.LabelFilter == "" && !s.IsSnapshot() {
			s.LabelFilter = NullLabel
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}

		byKey[s.dedupKey()] = indexed{sel: s, pos: i}
		normalized = append(normalized, s)
	}

	result := make([]Selector, 0, len(byKey))
	for i, s := range normalized {
		if byKey[s.dedupKey()].pos == i {
			result = append(result, s)
		}
	}
	return result, nil
}

// ForFeatureFlags rewrites already-normalized selectors for the feature-flag
// path: prepend FeatureFlagKeyPrefix to key_filter, defaulting to
// prefix+"*" with the null label when selectors is empty.
func ForFeatureFlags(selectors []Selector) []Selector {
	if len(selectors) == 0 {
		return []Selector{{KeyFilter: FeatureFlagKeyPrefix + "*", LabelFilter: NullLabel}}
	}

	out := make([]Selector, len(selectors))
	for i, s := range selectors {
		s.KeyFilter = FeatureFlagKeyPrefix + s.KeyFilter
		out[i] = s
	}
	return out
}

// Paged pairs a Selector with the page etags observed on its last successful
// fetch, used for conditional re-listing.
type Paged struct {
	Selector  Selector
	PageETags []string
}
