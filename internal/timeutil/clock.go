// Package timeutil implements the process-wide virtual/live clock.
// Every other component consumes Clock.NowMillis instead of reading
// wall-clock directly, which is what makes deterministic backtests possible.
package timeutil

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Mode selects where "now" comes from.
type Mode string

const (
	ModeLive     Mode = "LIVE"
	ModeBacktest Mode = "BACKTEST"
)

// Clock is an explicit, injectable time source. Tests construct their own
// isolated Clock per scenario rather than relying on a package-level global.
type Clock struct {
	mu         sync.RWMutex
	mode       Mode
	virtualMs  int64
	logger     *zap.Logger
}

// New creates a Clock starting in LIVE mode.
func New(logger *zap.Logger) *Clock {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Clock{mode: ModeLive, logger: logger}
}

// Mode returns the current mode.
func (c *Clock) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// SetMode switches between LIVE and BACKTEST. Switching into BACKTEST keeps
// whatever virtual time was last set (or 0 if none yet); switching into LIVE
// makes NowMillis immediately start returning wall-clock time again.
func (c *Clock) SetMode(m Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = m
	c.logger.Info("clock mode changed", zap.String("mode", string(m)))
}

// NowMillis returns the current time in unix milliseconds, from wall-clock in
// LIVE mode or from the last value set by SetBacktestTime in BACKTEST mode.
func (c *Clock) NowMillis() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.mode == ModeLive {
		return time.Now().UnixMilli()
	}
	return c.virtualMs
}

// SetBacktestTime sets the virtual clock. It must be monotonic
// non-decreasing; a backward jump is rejected with an error rather than
// silently applied, since every timestamp downstream (order, trade, filter
// window) depends on monotonicity.
func (c *Clock) SetBacktestTime(ms int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ms < c.virtualMs {
		return fmt.Errorf("timeutil: backward time jump rejected: %d < %d", ms, c.virtualMs)
	}
	c.virtualMs = ms
	return nil
}

// Advance is a convenience for monotonic forward steps expressed in seconds.
func (c *Clock) Advance(dtSeconds float64) error {
	c.mu.Lock()
	delta := int64(dtSeconds * 1000)
	next := c.virtualMs + delta
	c.mu.Unlock()
	return c.SetBacktestTime(next)
}
