package vm

import (
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// Reclaimer: grace-period release of retired registry arrays
// ---------------------------------------------------------------------------

// Readers of the class table never announce themselves, so a backing array
// replaced by a resize may still be in use by a lookup that loaded it just
// before the swap. The Reclaimer holds retired arrays for a grace period
// and only then drops its reference. A negative grace keeps them forever.

// ReclaimStats holds statistics from a single sweep.
type ReclaimStats struct {
	Released      int
	Pending       int
	SweepDuration time.Duration
	Timestamp     time.Time
}

type retiredItem struct {
	what string
	v    any
	at   time.Time
}

// Reclaimer periodically releases retired values whose grace period has
// elapsed.
type Reclaimer struct {
	grace    time.Duration
	interval time.Duration
	enabled  atomic.Bool
	stop     chan struct{}
	stopped  chan struct{}
	mu       sync.Mutex // protects start/stop lifecycle

	qmu   sync.Mutex
	queue []retiredItem
	now   func() time.Time

	// Statistics
	sweepCount    atomic.Uint64
	retiredTotal  atomic.Uint64
	releasedTotal atomic.Uint64
	lastStats     atomic.Pointer[ReclaimStats]
}

const (
	// DefaultReclaimGrace is how long a retired array is held.
	DefaultReclaimGrace = time.Second
	// DefaultReclaimInterval is the default sweep interval.
	DefaultReclaimInterval = 5 * time.Second
)

// NewReclaimer creates a reclaimer. A non-positive interval selects
// DefaultReclaimInterval.
func NewReclaimer(grace, interval time.Duration) *Reclaimer {
	if interval <= 0 {
		interval = DefaultReclaimInterval
	}
	r := &Reclaimer{
		grace:    grace,
		interval: interval,
		now:      time.Now,
	}
	r.enabled.Store(true)
	return r
}

// Retire hands v to the reclaimer. what names it for debug logging.
func (r *Reclaimer) Retire(what string, v any) {
	r.qmu.Lock()
	r.queue = append(r.queue, retiredItem{what: what, v: v, at: r.now()})
	r.qmu.Unlock()
	r.retiredTotal.Add(1)
	log.Debugf("retired %s", what)
}

// Pending returns the number of values still held.
func (r *Reclaimer) Pending() int {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	return len(r.queue)
}

// Start begins the periodic sweep goroutine. Calling Start on a running
// reclaimer does nothing.
func (r *Reclaimer) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stop != nil {
		return
	}
	r.stop = make(chan struct{})
	r.stopped = make(chan struct{})
	go r.loop(r.stop, r.stopped)
}

// Stop halts the sweep goroutine and waits for it. It is safe to call on a
// reclaimer that was never started.
func (r *Reclaimer) Stop() {
	r.mu.Lock()
	stopCh := r.stop
	stoppedCh := r.stopped
	r.stop = nil
	r.stopped = nil
	r.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-stoppedCh
	}
}

// SetEnabled enables or disables sweeping.
func (r *Reclaimer) SetEnabled(enabled bool) {
	r.enabled.Store(enabled)
}

// Grace returns the configured grace period.
func (r *Reclaimer) Grace() time.Duration { return r.grace }

// SweepCount returns the number of sweeps performed.
func (r *Reclaimer) SweepCount() uint64 { return r.sweepCount.Load() }

// Totals returns the number of values ever retired and released.
func (r *Reclaimer) Totals() (retired, released uint64) {
	return r.retiredTotal.Load(), r.releasedTotal.Load()
}

// LastStats returns the most recent sweep's statistics, or nil.
func (r *Reclaimer) LastStats() *ReclaimStats {
	return r.lastStats.Load()
}

// SweepNow performs an immediate sweep.
func (r *Reclaimer) SweepNow() *ReclaimStats {
	return r.sweep()
}

func (r *Reclaimer) loop(stopCh <-chan struct{}, stoppedCh chan struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if r.enabled.Load() {
				r.sweep()
			}
		}
	}
}

func (r *Reclaimer) sweep() *ReclaimStats {
	start := time.Now()
	stats := &ReclaimStats{Timestamp: start}

	r.qmu.Lock()
	if r.grace >= 0 {
		cutoff := r.now().Add(-r.grace)
		kept := r.queue[:0]
		for _, it := range r.queue {
			if it.at.After(cutoff) {
				kept = append(kept, it)
				continue
			}
			log.Debugf("released %s", it.what)
			stats.Released++
		}
		clear(r.queue[len(kept):])
		r.queue = kept
	}
	stats.Pending = len(r.queue)
	r.qmu.Unlock()

	stats.SweepDuration = time.Since(start)
	r.releasedTotal.Add(uint64(stats.Released))
	r.sweepCount.Add(1)
	r.lastStats.Store(stats)
	return stats
}
