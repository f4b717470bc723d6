package dynconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProviderWithKeys(values map[string]any) *Provider {
	c := newConfigMap()
	for k, v := range values {
		c.set(k, v)
	}
	return &Provider{configMap: c}
}

func TestConstructConfigurationObjectNestsOnSeparator(t *testing.T) {
	p := newProviderWithKeys(map[string]any{
		"app.name":    "widget",
		"app.timeout": "30",
	})

	obj, err := p.ConstructConfigurationObject(nil)
	require.NoError(t, err)

	app, ok := obj.(map[string]any)["app"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "widget", app["name"])
	assert.Equal(t, "30", app["timeout"])
}

func TestConstructConfigurationObjectBuildsContiguousArray(t *testing.T) {
	p := newProviderWithKeys(map[string]any{
		"items.0": "a",
		"items.1": "b",
		"items.2": "c",
	})

	obj, err := p.ConstructConfigurationObject(nil)
	require.NoError(t, err)

	items, ok := obj.(map[string]any)["items"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b", "c"}, items)
}

func TestConstructConfigurationObjectNonContiguousStaysObject(t *testing.T) {
	p := newProviderWithKeys(map[string]any{
		"items.0": "a",
		"items.2": "c",
	})

	obj, err := p.ConstructConfigurationObject(nil)
	require.NoError(t, err)

	items, ok := obj.(map[string]any)["items"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a", items["0"])
	assert.Equal(t, "c", items["2"])
}

func TestConstructConfigurationObjectRejectsInvalidSeparator(t *testing.T) {
	p := newProviderWithKeys(map[string]any{"a.b": 1})

	_, err := p.ConstructConfigurationObject(&ConstructionOptions{Separator: "|"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestConstructConfigurationObjectRejectsEmptySegment(t *testing.T) {
	p := newProviderWithKeys(map[string]any{"a..b": 1})

	_, err := p.ConstructConfigurationObject(nil)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestConstructConfigurationObjectRejectsAmbiguousPath(t *testing.T) {
	p := newProviderWithKeys(map[string]any{
		"a":   "leaf",
		"a.b": "also-leaf",
	})

	_, err := p.ConstructConfigurationObject(nil)
	assert.ErrorIs(t, err, ErrAmbiguousPath)
}
