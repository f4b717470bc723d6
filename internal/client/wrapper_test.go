package client

import (
	"testing"
	"time"

	"github.com/carverauto/dynconfig/internal/transport/transporttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapperAvailableAfterBackoffElapses(t *testing.T) {
	w := NewWrapper(transporttest.New("https://a.azconfig.io"), nil)

	now := time.Now()
	w.now = func() time.Time { return now }
	w.jitter = func() float64 { return 0 }

	require.True(t, w.Available())

	w.UpdateBackoff(false)
	assert.False(t, w.Available())
	assert.Equal(t, 1, w.FailedAttempts())

	now = now.Add(31 * time.Second)
	assert.True(t, w.Available())
}

func TestWrapperUpdateBackoffResetsOnSuccess(t *testing.T) {
	w := NewWrapper(transporttest.New("https://a.azconfig.io"), nil)

	w.UpdateBackoff(false)
	w.UpdateBackoff(false)
	require.Equal(t, 2, w.FailedAttempts())

	w.UpdateBackoff(true)
	assert.Equal(t, 0, w.FailedAttempts())
	assert.True(t, w.Available())
}

func TestWrapperBackoffGrowsWithFailures(t *testing.T) {
	w := NewWrapper(transporttest.New("https://a.azconfig.io"), nil)

	now := time.Now()
	w.now = func() time.Time { return now }

	w.UpdateBackoff(false)
	first := w.BackoffRemaining()

	w.UpdateBackoff(false)
	second := w.BackoffRemaining()

	assert.Greater(t, second, first)
}
