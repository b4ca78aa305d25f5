package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockLiveModeTracksWallClock(t *testing.T) {
	c := New(nil)
	assert.Equal(t, ModeLive, c.Mode())
	before := time.Now().UnixMilli()
	got := c.NowMillis()
	after := time.Now().UnixMilli()
	assert.GreaterOrEqual(t, got, before)
	assert.LessOrEqual(t, got, after)
}

func TestClockBacktestModeHoldsVirtualTime(t *testing.T) {
	c := New(nil)
	c.SetMode(ModeBacktest)
	require.NoError(t, c.SetBacktestTime(1000))
	assert.EqualValues(t, 1000, c.NowMillis())

	time.Sleep(5 * time.Millisecond)
	assert.EqualValues(t, 1000, c.NowMillis(), "virtual time must not drift with wall clock")
}

func TestClockRejectsBackwardJump(t *testing.T) {
	c := New(nil)
	c.SetMode(ModeBacktest)
	require.NoError(t, c.SetBacktestTime(5000))
	err := c.SetBacktestTime(4000)
	assert.Error(t, err)
	assert.EqualValues(t, 5000, c.NowMillis(), "a rejected jump must not mutate state")
}

func TestClockAdvanceIsMonotonic(t *testing.T) {
	c := New(nil)
	c.SetMode(ModeBacktest)
	require.NoError(t, c.SetBacktestTime(0))
	require.NoError(t, c.Advance(1.5))
	assert.EqualValues(t, 1500, c.NowMillis())
	require.NoError(t, c.Advance(0.25))
	assert.EqualValues(t, 1750, c.NowMillis())
}

func TestClockSwitchingToLiveResumesWallClock(t *testing.T) {
	c := New(nil)
	c.SetMode(ModeBacktest)
	require.NoError(t, c.SetBacktestTime(123))
	c.SetMode(ModeLive)
	assert.GreaterOrEqual(t, c.NowMillis(), time.Now().UnixMilli()-1000)
}
