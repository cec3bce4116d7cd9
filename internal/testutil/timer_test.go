package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualTimerFireAndCancel(t *testing.T) {
	m := NewManualTimer()

	var ran []string
	m.AfterFunc(time.Second, func() { ran = append(ran, "a") })
	cancel := m.AfterFunc(time.Second, func() { ran = append(ran, "b") })
	assert.Equal(t, 2, m.Pending())

	assert.True(t, cancel())
	assert.False(t, cancel()) // already removed

	assert.Equal(t, 1, m.Fire())
	assert.Equal(t, []string{"a"}, ran)
	assert.Zero(t, m.Pending())
}

func TestManualTimerReschedulingCallbackWaitsForNextFire(t *testing.T) {
	m := NewManualTimer()

	fired := 0
	var trailing func()
	trailing = func() {
		fired++
		if fired == 1 {
			m.AfterFunc(time.Second, trailing)
		}
	}
	m.AfterFunc(time.Second, trailing)

	assert.Equal(t, 1, m.Fire())
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, m.Pending())

	assert.Equal(t, 1, m.Fire())
	assert.Equal(t, 2, fired)
	assert.Zero(t, m.Pending())
}

func TestSeqIDGeneratorFormat(t *testing.T) {
	g := NewSeqIDGenerator(1748779200000)
	assert.Equal(t, "T-1748779200000-0001", g.NewID("T"))
	assert.Equal(t, "I-1748779200000-0002", g.NewID("I"))
}

func TestClockAdvance(t *testing.T) {
	c := NewClock(Epoch)
	assert.True(t, c.Now().Equal(Epoch))
	c.Advance(time.Minute)
	assert.True(t, c.Now().Equal(Epoch.Add(time.Minute)))
	c.Set(Epoch)
	assert.True(t, c.Now().Equal(Epoch))
}
