package replay

import (
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/tradsys/vexchange/internal/timeutil"
)

// Mode selects how the controller paces emission.
type Mode string

const (
	ModeBacktest    Mode = "BACKTEST"
	ModeStepped     Mode = "STEPPED"
	ModeRealtime    Mode = "REALTIME"
	ModeAccelerated Mode = "ACCELERATED"
)

// RunStatus is the controller's lifecycle state.
type RunStatus string

const (
	StatusIdle      RunStatus = "IDLE"
	StatusRunning   RunStatus = "RUNNING"
	StatusPaused    RunStatus = "PAUSED"
	StatusCompleted RunStatus = "COMPLETED"
	StatusStopped   RunStatus = "STOPPED"
)

// waitTick bounds the emitter loop's sleeps: a paused loop re-checks for
// Resume/Stop every waitTick, and a REALTIME/ACCELERATED pacing sleep runs in
// waitTick chunks so Stop takes effect without waiting out the whole sleep.
const waitTick = 200 * time.Millisecond

// Callback receives an emitted data point after the clock has been advanced
// to its timestamp.
type Callback func(sourceID string, payload interface{})

// Resettable is implemented by sources that can rewind to their start; Reset
// is a no-op for sources that can't (a fresh Source must be added instead).
type Resettable interface {
	Reset()
}

// Estimator lets a source report how many items remain, for Progress().
type Estimator interface {
	Remaining() int
}

type cursorEntry struct {
	id        string
	order     int
	source    Source
	next      *DataPoint
	exhausted bool
}

// Config carries the replay tunables (replay.*).
type Config struct {
	Mode            Mode
	SpeedFactor     float64
	BatchCallbacks  bool
	MemoryOptimized bool
	PoolSize        int
}

// DefaultConfig holds the documented replay defaults.
func DefaultConfig() Config {
	return Config{
		Mode:           ModeBacktest,
		SpeedFactor:    1,
		BatchCallbacks: false,
		PoolSize:       8,
	}
}

// Progress is the snapshot returned by Controller.Progress.
type Progress struct {
	Emitted       int64
	TotalEstimate int64 // -1 if unknown (a source doesn't implement Estimator)
	Elapsed       time.Duration
	LastTS        int64
}

// Controller is the ReplayController: it merges N timestamp-ordered sources,
// drives the shared virtual clock forward one data point at a time, and fans
// callbacks out to subscribers either inline or through a bounded
// panjf2000/ants goroutine pool, under one of four playback modes.
type Controller struct {
	mu     sync.Mutex
	clock  *timeutil.Clock
	cfg    Config
	logger *zap.Logger

	sources     []*cursorEntry
	sourceIndex map[string]int
	nextOrder   int

	callbacks      map[int]Callback
	nextCallbackID int

	pool  *ants.Pool
	cbWG  sync.WaitGroup
	runWG sync.WaitGroup

	status       RunStatus
	emitted      int64
	lastTS       int64
	startWall    time.Time
	activeDriver bool // true while Start()'s runLoop or ProcessAllSync owns emission
}

// New creates a ReplayController bound to clock. If cfg.BatchCallbacks is
// true, callbacks fan out through a bounded ants pool instead of running
// inline in the emitter goroutine.
func New(clock *timeutil.Clock, cfg Config, logger *zap.Logger) (*Controller, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SpeedFactor <= 0 {
		cfg.SpeedFactor = 1
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 8
	}
	c := &Controller{
		clock:       clock,
		cfg:         cfg,
		logger:      logger,
		sourceIndex: make(map[string]int),
		callbacks:   make(map[int]Callback),
		status:      StatusIdle,
	}
	if cfg.BatchCallbacks {
		pool, err := ants.NewPool(cfg.PoolSize)
		if err != nil {
			return nil, fmt.Errorf("replay: creating callback pool: %w", err)
		}
		c.pool = pool
	}
	return c, nil
}

// AddSource registers a new time-ordered data source under id.
func (c *Controller) AddSource(id string, source Source) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.sourceIndex[id]; exists {
		return fmt.Errorf("replay: source %q already registered", id)
	}
	entry := &cursorEntry{id: id, order: c.nextOrder, source: source}
	c.nextOrder++
	c.sourceIndex[id] = len(c.sources)
	c.sources = append(c.sources, entry)
	return nil
}

// RemoveSource unregisters a source; in-flight peeked items are discarded.
func (c *Controller) RemoveSource(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.sourceIndex[id]
	if !ok {
		return fmt.Errorf("replay: unknown source %q", id)
	}
	c.sources = append(c.sources[:idx], c.sources[idx+1:]...)
	delete(c.sourceIndex, id)
	for i, e := range c.sources {
		c.sourceIndex[e.id] = i
	}
	return nil
}

// RegisterCallback adds cb to the fan-out set and returns its id.
func (c *Controller) RegisterCallback(cb Callback) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextCallbackID
	c.nextCallbackID++
	c.callbacks[id] = cb
	return id
}

// UnregisterCallback removes a previously registered callback.
func (c *Controller) UnregisterCallback(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.callbacks, id)
}

// Status returns the current run status.
func (c *Controller) Status() RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// peekLocked ensures e.next holds the entry's next item (or marks it
// exhausted), called with c.mu held.
func (c *Controller) peekLocked(e *cursorEntry) {
	if e.next != nil || e.exhausted {
		return
	}
	ts, payload, ok, err := e.source.Next()
	if err != nil {
		c.logger.Error("replay: source errored, marking exhausted",
			zap.String("source_id", e.id), zap.Error(err))
		e.exhausted = true
		return
	}
	if !ok {
		e.exhausted = true
		return
	}
	e.next = &DataPoint{Timestamp: ts, SourceID: e.id, Payload: payload}
}

// pickNextLocked implements the merge algorithm: smallest timestamp
// wins, ties broken by source registration order.
func (c *Controller) pickNextLocked() *cursorEntry {
	var best *cursorEntry
	for _, e := range c.sources {
		c.peekLocked(e)
		if e.exhausted || e.next == nil {
			continue
		}
		if best == nil ||
			e.next.Timestamp < best.next.Timestamp ||
			(e.next.Timestamp == best.next.Timestamp && e.order < best.order) {
			best = e
		}
	}
	return best
}

// advanceOnce picks the next item across all sources, advances the clock to
// its timestamp, and consumes it. Returns ok=false once every source is
// exhausted.
func (c *Controller) advanceOnce() (*DataPoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.pickNextLocked()
	if entry == nil {
		return nil, false
	}
	dp := entry.next
	entry.next = nil
	if err := c.clock.SetBacktestTime(dp.Timestamp); err != nil {
		c.logger.Warn("replay: clock advance rejected", zap.Error(err))
	}
	c.emitted++
	c.lastTS = dp.Timestamp
	return dp, true
}

func (c *Controller) dispatch(dp DataPoint) {
	c.mu.Lock()
	cbs := make([]Callback, 0, len(c.callbacks))
	for _, cb := range c.callbacks {
		cbs = append(cbs, cb)
	}
	pool := c.pool
	c.mu.Unlock()

	for _, cb := range cbs {
		cb := cb
		if pool == nil {
			safeInvoke(c.logger, cb, dp)
			continue
		}
		c.cbWG.Add(1)
		err := pool.Submit(func() {
			defer c.cbWG.Done()
			safeInvoke(c.logger, cb, dp)
		})
		if err != nil {
			c.cbWG.Done()
			c.logger.Warn("replay: callback pool saturated, running inline", zap.Error(err))
			safeInvoke(c.logger, cb, dp)
		}
	}
}

func safeInvoke(logger *zap.Logger, cb Callback, dp DataPoint) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("replay: callback panicked",
				zap.Any("recover", r), zap.String("source_id", dp.SourceID))
		}
	}()
	cb(dp.SourceID, dp.Payload)
}

// Step emits exactly one data point, for STEPPED mode or synchronous callers.
// It is a caller error to use it while an asynchronous run is active.
func (c *Controller) Step() (*DataPoint, error) {
	c.mu.Lock()
	if c.activeDriver {
		c.mu.Unlock()
		return nil, fmt.Errorf("replay: step() cannot interleave with an active asynchronous run")
	}
	if c.startWall.IsZero() {
		c.startWall = time.Now()
	}
	c.status = StatusRunning
	c.mu.Unlock()

	dp, ok := c.advanceOnce()
	if !ok {
		c.mu.Lock()
		c.status = StatusCompleted
		c.mu.Unlock()
		return nil, nil
	}
	c.dispatch(*dp)
	return dp, nil
}

// ProcessAllSync drains every source synchronously, in merged order,
// returning every emitted data point. It ignores Mode's pacing entirely,
// advancing the clock and dispatching callbacks as fast as the caller pulls.
func (c *Controller) ProcessAllSync() ([]DataPoint, error) {
	c.mu.Lock()
	if c.activeDriver {
		c.mu.Unlock()
		return nil, fmt.Errorf("replay: process_all_sync() cannot interleave with an active run")
	}
	c.status = StatusRunning
	c.startWall = time.Now()
	c.activeDriver = true
	c.mu.Unlock()

	var out []DataPoint
	for {
		dp, ok := c.advanceOnce()
		if !ok {
			break
		}
		c.dispatch(*dp)
		out = append(out, *dp)
	}
	c.mu.Lock()
	c.status = StatusCompleted
	c.activeDriver = false
	c.mu.Unlock()
	return out, nil
}

// Start launches the asynchronous emitter loop for BACKTEST/REALTIME/
// ACCELERATED modes. STEPPED mode only flips status to RUNNING; callers drive
// it with Step().
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.activeDriver {
		c.mu.Unlock()
		return fmt.Errorf("replay: already running")
	}
	c.status = StatusRunning
	c.startWall = time.Now()
	stepped := c.cfg.Mode == ModeStepped
	if !stepped {
		c.activeDriver = true
	}
	c.mu.Unlock()

	if stepped {
		return nil
	}
	c.runWG.Add(1)
	go c.runLoop()
	return nil
}

func (c *Controller) runLoop() {
	defer c.runWG.Done()
	defer func() {
		c.mu.Lock()
		c.activeDriver = false
		c.mu.Unlock()
	}()
	var lastTS int64
	hasLast := false

	for {
		c.mu.Lock()
		status := c.status
		c.mu.Unlock()

		switch status {
		case StatusStopped:
			return
		case StatusPaused:
			time.Sleep(waitTick)
			continue
		}

		dp, ok := c.advanceOnce()
		if !ok {
			c.mu.Lock()
			c.status = StatusCompleted
			c.mu.Unlock()
			return
		}

		if hasLast && (c.cfg.Mode == ModeRealtime || c.cfg.Mode == ModeAccelerated) {
			delta := dp.Timestamp - lastTS
			if delta > 0 {
				d := time.Duration(delta) * time.Millisecond
				if c.cfg.Mode == ModeAccelerated {
					d = time.Duration(float64(d) / c.cfg.SpeedFactor)
				}
				if c.interruptibleSleep(d) {
					return
				}
			}
		}
		lastTS = dp.Timestamp
		hasLast = true

		c.dispatch(*dp)
	}
}

// interruptibleSleep sleeps d in bounded chunks so Stop() takes effect within
// one wait tick. Returns true if stopped mid-sleep.
func (c *Controller) interruptibleSleep(d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		chunk := remaining
		if chunk > waitTick {
			chunk = waitTick
		}
		time.Sleep(chunk)
		c.mu.Lock()
		stopped := c.status == StatusStopped
		c.mu.Unlock()
		if stopped {
			return true
		}
	}
}

// Pause suspends an active run; the emitter loop polls at most every
// waitTick to resume.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusRunning {
		c.status = StatusPaused
	}
}

// Resume continues a paused run.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusPaused {
		c.status = StatusRunning
	}
}

// Stop signals the emitter loop to exit and blocks until it has stopped,
// within one waitTick. Callbacks already dispatched to the pool are allowed
// to finish.
func (c *Controller) Stop() {
	c.mu.Lock()
	wasActive := c.status == StatusRunning || c.status == StatusPaused
	c.status = StatusStopped
	c.mu.Unlock()
	if wasActive {
		c.runWG.Wait()
	}
	c.cbWG.Wait()
}

// Reset rewinds every Resettable source and zeroes progress counters. It is
// an error to call while a run is active.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusRunning || c.status == StatusPaused {
		return fmt.Errorf("replay: cannot reset while running; call Stop first")
	}
	for _, e := range c.sources {
		if r, ok := e.source.(Resettable); ok {
			r.Reset()
		}
		e.next = nil
		e.exhausted = false
	}
	c.emitted = 0
	c.lastTS = 0
	c.startWall = time.Time{}
	c.status = StatusIdle
	return nil
}

// Progress reports emission counters and, when every registered source
// implements Estimator, a total-item estimate (emitted plus still pending);
// otherwise TotalEstimate is -1.
func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, e := range c.sources {
		est, ok := e.source.(Estimator)
		if !ok {
			total = -1
			break
		}
		total += int64(est.Remaining())
		if e.next != nil {
			total++ // already pulled from the source but not yet emitted
		}
	}
	if total >= 0 {
		total += c.emitted
	}
	var elapsed time.Duration
	if !c.startWall.IsZero() {
		elapsed = time.Since(c.startWall)
	}
	return Progress{Emitted: c.emitted, TotalEstimate: total, Elapsed: elapsed, LastTS: c.lastTS}
}

// Close releases the callback pool, if one was created.
func (c *Controller) Close() {
	if c.pool != nil {
		c.pool.Release()
	}
}
