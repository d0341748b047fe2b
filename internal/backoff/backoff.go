// Package backoff throttles calls to the upstream content source after
// repeated failures.
package backoff

import (
	"math/rand"
	"sync"
	"time"
)

// Governor tracks consecutive source failures and computes when the next
// call may be attempted. It is shared by every worker in the process so a
// throttled source is respected globally.
type Governor struct {
	mu             sync.Mutex
	threshold      int
	baseDelay      time.Duration
	maxDelay       time.Duration
	failures       int
	availableAfter time.Time
	now            func() time.Time
	jitter         func(time.Duration) time.Duration
}

// Status is a point-in-time snapshot of the governor.
type Status struct {
	ConsecutiveFailures int
	Active              bool
	NextAvailableIn     time.Duration
	CurrentDelay        time.Duration
}

// New builds a governor. Failures below threshold never delay; at and above
// it, delay doubles per additional failure up to maxDelay.
func New(threshold int, baseDelay, maxDelay time.Duration) *Governor {
	if threshold < 1 {
		threshold = 1
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &Governor{
		threshold: threshold,
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		now:       time.Now,
		jitter:    defaultJitter,
	}
}

// Up to 25% added on top of the computed delay, so synchronized workers
// spread out their retries.
func defaultJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(delay)/4 + 1))
}

// RecordSuccess clears the failure streak and any pending delay.
func (g *Governor) RecordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = 0
	g.availableAfter = time.Time{}
}

// RecordFailure notes another consecutive failure and extends the delay if
// the streak has reached the threshold.
func (g *Governor) RecordFailure() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures++
	if g.failures < g.threshold {
		return
	}
	delay := g.delayLocked()
	g.availableAfter = g.now().Add(delay + g.jitter(delay))
}

// delayLocked computes the undelayed backoff for the current streak.
func (g *Governor) delayLocked() time.Duration {
	excess := g.failures - g.threshold
	delay := g.baseDelay
	for i := 0; i < excess; i++ {
		delay *= 2
		if delay >= g.maxDelay {
			return g.maxDelay
		}
	}
	if delay > g.maxDelay {
		return g.maxDelay
	}
	return delay
}

// IsAvailable reports whether a source call may proceed now.
func (g *Governor) IsAvailable() bool {
	return g.NextAvailableIn() == 0
}

// NextAvailableIn returns how long to wait before the next source call.
// Zero means the source is available.
func (g *Governor) NextAvailableIn() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.availableAfter.IsZero() {
		return 0
	}
	remaining := g.availableAfter.Sub(g.now())
	if remaining <= 0 {
		return 0
	}
	return remaining
}

// Status returns a snapshot for the status API and CLI.
func (g *Governor) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	status := Status{ConsecutiveFailures: g.failures}
	if !g.availableAfter.IsZero() {
		if remaining := g.availableAfter.Sub(g.now()); remaining > 0 {
			status.Active = true
			status.NextAvailableIn = remaining
		}
	}
	if g.failures >= g.threshold {
		status.CurrentDelay = g.delayLocked()
	}
	return status
}
