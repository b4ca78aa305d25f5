package replay

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradsys/vexchange/internal/timeutil"
)

func newTestClock() *timeutil.Clock {
	c := timeutil.New(nil)
	c.SetMode(timeutil.ModeBacktest)
	_ = c.SetBacktestTime(0)
	return c
}

func slice(ts ...int64) *SliceSource {
	payloads := make([]interface{}, len(ts))
	for i, t := range ts {
		payloads[i] = t
	}
	return NewSliceSource(ts, payloads)
}

func TestProcessAllSyncMergesByTimestampAcrossSources(t *testing.T) {
	c, err := New(newTestClock(), DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, c.AddSource("a", slice(10, 30, 50)))
	require.NoError(t, c.AddSource("b", slice(20, 40)))

	out, err := c.ProcessAllSync()
	require.NoError(t, err)
	require.Len(t, out, 5)

	wantTS := []int64{10, 20, 30, 40, 50}
	wantSrc := []string{"a", "b", "a", "b", "a"}
	for i, dp := range out {
		assert.Equal(t, wantTS[i], dp.Timestamp)
		assert.Equal(t, wantSrc[i], dp.SourceID)
	}
	assert.Equal(t, StatusCompleted, c.Status())
}

func TestMergeTiesBrokenByRegistrationOrder(t *testing.T) {
	c, err := New(newTestClock(), DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, c.AddSource("first", slice(5, 5)))
	require.NoError(t, c.AddSource("second", slice(5)))

	out, err := c.ProcessAllSync()
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "first", out[0].SourceID)
	assert.Equal(t, "first", out[1].SourceID)
	assert.Equal(t, "second", out[2].SourceID)
}

func TestProcessAllSyncAdvancesTheClock(t *testing.T) {
	clock := newTestClock()
	c, err := New(clock, DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, c.AddSource("a", slice(100, 200, 300)))

	_, err = c.ProcessAllSync()
	require.NoError(t, err)
	assert.Equal(t, int64(300), clock.NowMillis())
}

func TestStepEmitsOneDataPointAtATime(t *testing.T) {
	c, err := New(newTestClock(), DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, c.AddSource("a", slice(1, 2)))

	dp, err := c.Step()
	require.NoError(t, err)
	require.NotNil(t, dp)
	assert.Equal(t, int64(1), dp.Timestamp)
	assert.Equal(t, StatusRunning, c.Status())

	dp, err = c.Step()
	require.NoError(t, err)
	require.NotNil(t, dp)
	assert.Equal(t, int64(2), dp.Timestamp)

	dp, err = c.Step()
	require.NoError(t, err)
	assert.Nil(t, dp)
	assert.Equal(t, StatusCompleted, c.Status())
}

func TestRegisterCallbackFansOutInline(t *testing.T) {
	c, err := New(newTestClock(), DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, c.AddSource("a", slice(1, 2, 3)))

	var mu sync.Mutex
	var seen []int64
	c.RegisterCallback(func(sourceID string, payload interface{}) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, payload.(int64))
	})

	_, err = c.ProcessAllSync()
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{1, 2, 3}, seen)
}

func TestUnregisterCallbackStopsDelivery(t *testing.T) {
	c, err := New(newTestClock(), DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, c.AddSource("a", slice(1, 2)))

	var calls int32
	id := c.RegisterCallback(func(sourceID string, payload interface{}) {
		atomic.AddInt32(&calls, 1)
	})
	c.UnregisterCallback(id)

	_, err = c.ProcessAllSync()
	require.NoError(t, err)
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func TestBatchCallbacksRouteThroughPool(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchCallbacks = true
	cfg.PoolSize = 2
	c, err := New(newTestClock(), cfg, nil)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.AddSource("a", slice(1, 2, 3, 4)))

	var calls int32
	done := make(chan struct{})
	var once sync.Once
	c.RegisterCallback(func(sourceID string, payload interface{}) {
		if atomic.AddInt32(&calls, 1) == 4 {
			once.Do(func() { close(done) })
		}
	})

	_, err = c.ProcessAllSync()
	require.NoError(t, err)
	c.Stop() // drains any in-flight pooled callbacks

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pooled callbacks never all fired")
	}
	assert.EqualValues(t, 4, atomic.LoadInt32(&calls))
}

func TestStartSteppedIsDrivenExplicitlyByStep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeStepped
	c, err := New(newTestClock(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, c.AddSource("a", slice(1, 2)))

	require.NoError(t, c.Start())
	assert.Equal(t, StatusRunning, c.Status())

	dp, err := c.Step()
	require.NoError(t, err)
	assert.Equal(t, int64(1), dp.Timestamp)
}

func TestStartBacktestRunsToCompletionAsynchronously(t *testing.T) {
	c, err := New(newTestClock(), DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, c.AddSource("a", slice(1, 2, 3)))

	var calls int32
	c.RegisterCallback(func(sourceID string, payload interface{}) {
		atomic.AddInt32(&calls, 1)
	})

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool {
		return c.Status() == StatusCompleted
	}, time.Second, 5*time.Millisecond)

	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestStartTwiceWhileRunningErrors(t *testing.T) {
	c, err := New(newTestClock(), DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, c.AddSource("a", slice(1, 2, 3, 4, 5)))

	require.NoError(t, c.Start())
	err = c.Start()
	assert.Error(t, err)
	c.Stop()
}

// gatedSource yields one item per send on ch, blocking Next() in between.
// advanceOnce holds the controller's lock while Next() is in flight, so the
// test only ever sends while the controller is not paused.
type gatedSource struct{ ch chan int64 }

func (g *gatedSource) Next() (int64, interface{}, bool, error) {
	v, ok := <-g.ch
	if !ok {
		return 0, nil, false, nil
	}
	return v, v, true, nil
}

func TestPauseSuspendsAndResumeContinues(t *testing.T) {
	c, err := New(newTestClock(), DefaultConfig(), nil)
	require.NoError(t, err)
	src := &gatedSource{ch: make(chan int64, 1)}
	require.NoError(t, c.AddSource("a", src))

	var calls int32
	c.RegisterCallback(func(sourceID string, payload interface{}) {
		atomic.AddInt32(&calls, 1)
	})

	require.NoError(t, c.Start())
	src.ch <- 1
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 1
	}, time.Second, 5*time.Millisecond)

	c.Pause()
	require.Eventually(t, func() bool {
		return c.Status() == StatusPaused
	}, time.Second, 5*time.Millisecond)

	// Buffered, not consumed: the emitter loop must not call Next() again
	// while paused.
	src.ch <- 2
	time.Sleep(3 * waitTick)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "no further emission while paused")

	c.Resume()
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 2
	}, time.Second, 5*time.Millisecond)

	close(src.ch)
	require.Eventually(t, func() bool {
		return c.Status() == StatusCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestStopHaltsEmitterLoopPromptly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeRealtime
	c, err := New(newTestClock(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, c.AddSource("a", slice(0, 10_000, 20_000)))

	require.NoError(t, c.Start())
	time.Sleep(2 * waitTick)
	c.Stop()
	assert.Equal(t, StatusStopped, c.Status())
}

func TestResetRewindsResettableSourcesAndCounters(t *testing.T) {
	c, err := New(newTestClock(), DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, c.AddSource("a", slice(1, 2, 3)))

	_, err = c.ProcessAllSync()
	require.NoError(t, err)
	assert.EqualValues(t, 3, c.Progress().Emitted)

	require.NoError(t, c.Reset())
	p := c.Progress()
	assert.EqualValues(t, 0, p.Emitted)
	assert.EqualValues(t, 0, p.LastTS)
	assert.Equal(t, StatusIdle, c.Status())

	out, err := c.ProcessAllSync()
	require.NoError(t, err)
	assert.Len(t, out, 3)
}

func TestResetWhileRunningErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeRealtime
	c, err := New(newTestClock(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, c.AddSource("a", slice(0, 5000)))

	require.NoError(t, c.Start())
	err = c.Reset()
	assert.Error(t, err)
	c.Stop()
}

func TestProgressReportsTotalEstimateFromSources(t *testing.T) {
	c, err := New(newTestClock(), DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, c.AddSource("a", slice(1, 2, 3)))
	require.NoError(t, c.AddSource("b", slice(4, 5)))

	p := c.Progress()
	assert.EqualValues(t, 0, p.Emitted)
	assert.EqualValues(t, 5, p.TotalEstimate)

	_, err = c.Step()
	require.NoError(t, err)
	p = c.Progress()
	assert.EqualValues(t, 1, p.Emitted)
	assert.EqualValues(t, 5, p.TotalEstimate)
}

type nonEstimatingSource struct{ items []int64 }

func (s *nonEstimatingSource) Next() (int64, interface{}, bool, error) {
	if len(s.items) == 0 {
		return 0, nil, false, nil
	}
	ts := s.items[0]
	s.items = s.items[1:]
	return ts, ts, true, nil
}

func TestProgressTotalEstimateUnknownWhenAnySourceLacksEstimator(t *testing.T) {
	c, err := New(newTestClock(), DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, c.AddSource("a", slice(1, 2)))
	require.NoError(t, c.AddSource("b", &nonEstimatingSource{items: []int64{3, 4}}))

	p := c.Progress()
	assert.EqualValues(t, -1, p.TotalEstimate)
}

func TestAddSourceRejectsDuplicateID(t *testing.T) {
	c, err := New(newTestClock(), DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, c.AddSource("a", slice(1)))
	err = c.AddSource("a", slice(2))
	assert.Error(t, err)
}

func TestRemoveSourceDropsItFromTheMerge(t *testing.T) {
	c, err := New(newTestClock(), DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, c.AddSource("a", slice(1, 3)))
	require.NoError(t, c.AddSource("b", slice(2, 4)))

	require.NoError(t, c.RemoveSource("a"))
	out, err := c.ProcessAllSync()
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].SourceID)
	assert.Equal(t, "b", out[1].SourceID)
}

func TestRemoveSourceUnknownIDErrors(t *testing.T) {
	c, err := New(newTestClock(), DefaultConfig(), nil)
	require.NoError(t, err)
	assert.Error(t, c.RemoveSource("missing"))
}

func TestProcessAllSyncCannotInterleaveWithActiveRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeRealtime
	c, err := New(newTestClock(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, c.AddSource("a", slice(0, 5000)))

	require.NoError(t, c.Start())
	_, err = c.ProcessAllSync()
	assert.Error(t, err)
	c.Stop()
}
