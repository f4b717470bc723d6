package refresh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zeroJitter() float64 { return 0 }

func TestTimerCanRefreshInitiallyTrue(t *testing.T) {
	timer := NewTimer(time.Second)
	assert.True(t, timer.CanRefresh())
}

func TestTimerResetGatesUntilInterval(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	timer := NewTimer(2 * time.Second).WithClock(clock)
	timer.Reset()
	require.False(t, timer.CanRefresh())

	now = now.Add(2*time.Second + time.Millisecond)
	assert.True(t, timer.CanRefresh())
}

func TestBackoffMonotonicUntilCap(t *testing.T) {
	interval := time.Minute

	var prev time.Duration
	for attempt := 0; attempt < 10; attempt++ {
		d := Backoff(attempt, interval, zeroJitter)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
	assert.LessOrEqual(t, prev, MaxBackoffCap)
}

func TestBackoffRespectsSmallInterval(t *testing.T) {
	// interval smaller than the 30s floor becomes both base and cap.
	d := Backoff(0, 5*time.Second, zeroJitter)
	assert.Equal(t, 5*time.Second, d)

	d = Backoff(5, 5*time.Second, zeroJitter)
	assert.Equal(t, 5*time.Second, d)
}

func TestTimerBackoffIncrementsAttempts(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	timer := NewTimer(time.Minute).WithClock(clock).WithJitter(zeroJitter)
	assert.Equal(t, 0, timer.Attempts())

	timer.Backoff()
	assert.Equal(t, 1, timer.Attempts())
	assert.False(t, timer.CanRefresh())

	timer.Backoff()
	assert.Equal(t, 2, timer.Attempts())
}

func TestTimerResetClearsAttempts(t *testing.T) {
	timer := NewTimer(time.Minute).WithJitter(zeroJitter)
	timer.Backoff()
	timer.Backoff()
	require.Equal(t, 2, timer.Attempts())

	timer.Reset()
	assert.Equal(t, 0, timer.Attempts())
}
