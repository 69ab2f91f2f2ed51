package countdown

import (
	"testing"
	"time"

	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)

func TestExpiresAfterDuration(t *testing.T) {
	clk := clock.NewManual(epoch)
	fired := 0
	timer := New(clk, 5*time.Second, func() { fired++ })

	assert.Equal(t, 5, timer.Remaining())

	for i := 0; i < 4; i++ {
		clk.Advance(time.Second)
		timer.Tick()
	}
	assert.Equal(t, 1, timer.Remaining())
	assert.Equal(t, 0, fired)

	clk.Advance(time.Second)
	timer.Tick()
	assert.Equal(t, 0, timer.Remaining())
	assert.Equal(t, 1, fired)
	assert.True(t, timer.Expired())

	select {
	case <-timer.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestRepeatedTicksAfterExpiryAreNoops(t *testing.T) {
	clk := clock.NewManual(epoch)
	fired := 0
	timer := New(clk, 2*time.Second, func() { fired++ })

	clk.Advance(10 * time.Second)
	for i := 0; i < 5; i++ {
		timer.Tick()
	}
	assert.Equal(t, 1, fired)
}

func TestRemainingIsNonIncreasing(t *testing.T) {
	clk := clock.NewManual(epoch)
	timer := New(clk, 10*time.Second, nil)

	clk.Advance(3 * time.Second)
	timer.Tick()
	assert.Equal(t, 7, timer.Remaining())

	// A clock step backwards must not give time back.
	clk2 := clock.NewManual(epoch)
	back := New(clk2, 10*time.Second, nil)
	clk2.Advance(4 * time.Second)
	back.Tick()
	assert.Equal(t, 6, back.Remaining())
	back.clock = clock.NewManual(epoch)
	back.Tick()
	assert.Equal(t, 6, back.Remaining())
}

func TestDeadlineAlreadyPassed(t *testing.T) {
	clk := clock.NewManual(epoch)
	fired := 0
	timer := NewUntil(clk, epoch.Add(-2*time.Second), func() { fired++ })

	assert.Equal(t, 0, timer.Remaining())
	assert.Equal(t, 0, fired)

	timer.Tick()
	assert.Equal(t, 1, fired)
}

func TestCatchUpAfterPause(t *testing.T) {
	clk := clock.NewManual(epoch)
	fired := 0
	timer := New(clk, 60*time.Second, func() { fired++ })

	clk.Advance(90 * time.Second)
	timer.Tick()
	timer.Tick()
	assert.Equal(t, 0, timer.Remaining())
	assert.Equal(t, 1, fired)
}

func TestFractionalSecondsRoundUp(t *testing.T) {
	clk := clock.NewManual(epoch)
	timer := New(clk, 3*time.Second, nil)

	clk.Advance(1500 * time.Millisecond)
	timer.Tick()
	assert.Equal(t, 2, timer.Remaining())
}
