package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealClockNow(t *testing.T) {
	c := New()
	before := time.Now()
	now := c.Now()
	assert.WithinDuration(t, before, now, time.Second)
}

func TestFakeNowAndAdvance(t *testing.T) {
	start := time.Unix(1000, 0)
	f := NewFake(start)

	assert.Equal(t, start, f.Now())

	f.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), f.Now())
}

func TestFakeTimerFiresOnAdvance(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	timer := f.NewTimer(10 * time.Second)

	select {
	case <-timer.C():
		t.Fatal("timer fired before the deadline")
	default:
	}
	assert.Equal(t, 1, f.PendingTimers())

	f.Advance(9 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired one second early")
	default:
	}

	f.Advance(time.Second)
	select {
	case fired := <-timer.C():
		assert.Equal(t, time.Unix(10, 0), fired)
	default:
		t.Fatal("timer did not fire at the deadline")
	}
	assert.Zero(t, f.PendingTimers())
}

func TestFakeTimerImmediateForZeroDuration(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	timer := f.NewTimer(0)

	select {
	case <-timer.C():
	default:
		t.Fatal("zero-duration timer must fire immediately")
	}
}

func TestFakeTimerStop(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	timer := f.NewTimer(time.Second)

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second Stop reports the timer already inactive")
	assert.Zero(t, f.PendingTimers())

	f.Advance(2 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("stopped timer must not fire")
	default:
	}
}

func TestFakeAfter(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ch := f.After(5 * time.Second)

	f.Advance(5 * time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("After channel did not fire")
	}
}

func TestFakeMultipleTimers(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	early := f.NewTimer(time.Second)
	late := f.NewTimer(time.Minute)
	require.Equal(t, 2, f.PendingTimers())

	f.Advance(2 * time.Second)
	select {
	case <-early.C():
	default:
		t.Fatal("early timer should have fired")
	}
	select {
	case <-late.C():
		t.Fatal("late timer fired too soon")
	default:
	}
	assert.Equal(t, 1, f.PendingTimers())
}
