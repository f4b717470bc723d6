package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDefaultsToCatchAll(t *testing.T) {
	result, err := Normalize(nil)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "*", result[0].KeyFilter)
	assert.Equal(t, NullLabel, result[0].LabelFilter)
}

func TestNormalizeDedupKeepsLastOccurrence(t *testing.T) {
	result, err := Normalize([]Selector{
		{KeyFilter: "app.*", LabelFilter: "dev"},
		{KeyFilter: "other.*"},
		{KeyFilter: "app.*", LabelFilter: "dev", TagFilters: []string{"env=prod"}},
	})
	require.NoError(t, err)
	require.Len(t, result, 2)

	assert.Equal(t, "other.*", result[0].KeyFilter)
	assert.Equal(t, "app.*", result[1].KeyFilter)
	assert.Equal(t, []string{"env=prod"}, result[1].TagFilters)
}

func TestNormalizeRejectsTooManyTagFilters(t *testing.T) {
	_, err := Normalize([]Selector{
		{KeyFilter: "*", TagFilters: []string{"a=1", "b=2", "c=3", "d=4", "e=5", "f=6"}},
	})
	assert.Error(t, err)
}

func TestNormalizeRejectsMalformedTagFilter(t *testing.T) {
	_, err := Normalize([]Selector{{KeyFilter: "*", TagFilters: []string{"noequals"}}})
	assert.Error(t, err)

	_, err = Normalize([]Selector{{KeyFilter: "*", TagFilters: []string{"=value"}}})
	assert.Error(t, err)
}

func TestNormalizeRejectsNonTrailingWildcard(t *testing.T) {
	_, err := Normalize([]Selector{{KeyFilter: "a*b"}})
	assert.Error(t, err)
}

func TestSnapshotSelectorForbidsOtherFilters(t *testing.T) {
	_, err := Normalize([]Selector{{SnapshotName: "snap1", KeyFilter: "*"}})
	assert.Error(t, err)

	result, err := Normalize([]Selector{{SnapshotName: "snap1"}})
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.True(t, result[0].IsSnapshot())
}

func TestForFeatureFlagsDefaultsAndPrepends(t *testing.T) {
	defaulted := ForFeatureFlags(nil)
	require.Len(t, defaulted, 1)
	assert.Equal(t, FeatureFlagKeyPrefix+"*", defaulted[0].KeyFilter)
	assert.Equal(t, NullLabel, defaulted[0].LabelFilter)

	rewritten := ForFeatureFlags([]Selector{{KeyFilter: "beta.*", LabelFilter: "dev"}})
	require.Len(t, rewritten, 1)
	assert.Equal(t, FeatureFlagKeyPrefix+"beta.*", rewritten[0].KeyFilter)
}
