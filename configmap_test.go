package dynconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigMapSetPreservesInsertionOrder(t *testing.T) {
	c := newConfigMap()
	c.set("b", 1)
	c.set("a", 2)
	c.set("b", 3) // overwrite, position unchanged

	assert.Equal(t, []string{"b", "a"}, c.keys)
	v, ok := c.get("b")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestConfigMapClearExceptFeatureManagement(t *testing.T) {
	c := newConfigMap()
	c.set("app/name", "x")
	c.set(FeatureManagementKey, map[string]any{"feature_flags": []any{}})

	cleared := c.clearExceptFeatureManagement()

	assert.Equal(t, 1, cleared.size())
	v, ok := cleared.get(FeatureManagementKey)
	assert.True(t, ok)
	assert.NotNil(t, v)
	_, ok = cleared.get("app/name")
	assert.False(t, ok)
}

func TestConfigMapClone(t *testing.T) {
	c := newConfigMap()
	c.set("k", "v")

	clone := c.clone()
	clone.set("k2", "v2")

	assert.Equal(t, 1, c.size())
	assert.Equal(t, 2, clone.size())
}
