package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOptionsOverrideExecutorTiming(t *testing.T) {
	e := New(nil, nil, NewMonitor(false), "acct",
		WithDrainInterval(5*time.Second),
		WithBackoff(2*time.Second, time.Minute),
		WithNetworkTimeout(3*time.Second),
	)
	assert.Equal(t, 5*time.Second, e.drainInterval)
	assert.Equal(t, 2*time.Second, e.backoffMin)
	assert.Equal(t, time.Minute, e.backoffMax)
	assert.Equal(t, 3*time.Second, e.networkTimeout)
}

func TestDefaultsApplyWithoutOptions(t *testing.T) {
	e := New(nil, nil, NewMonitor(false), "acct")
	assert.Equal(t, DefaultDrainInterval, e.drainInterval)
	assert.Equal(t, DefaultBackoffMin, e.backoffMin)
	assert.Equal(t, DefaultBackoffMax, e.backoffMax)
}
