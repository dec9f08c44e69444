// Package timer is the single retransmission / drain timer each GBN entity
// owns. Expiry runs on the runtime's timer goroutine and only sets a flag
// (plus a wake-up for a blocked event loop); the entity consumes the flag
// when its event loop gets to it.
package timer

import (
	"sync"
	"sync/atomic"
	"time"
)

type Timer struct {
	mu      sync.Mutex
	t       *time.Timer
	gen     uint64 // bumped on every Start/Stop so stale callbacks are ignored
	running bool

	expired atomic.Bool
	wake    chan struct{}
}

func New() *Timer {
	return &Timer{wake: make(chan struct{}, 1)}
}

// Start arms the timer, replacing any pending arm.
func (tm *Timer) Start(interval time.Duration) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.stopLocked()
	gen := tm.gen
	tm.running = true
	tm.t = time.AfterFunc(interval, func() { tm.fire(gen) })
}

func (tm *Timer) fire(gen uint64) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if gen != tm.gen {
		return
	}
	tm.running = false
	tm.expired.Store(true)
	select {
	case tm.wake <- struct{}{}:
	default:
	}
}

// Stop cancels a pending arm and clears an expiry nobody consumed yet.
// Stopping a timer that already fired or was never started is a no-op.
func (tm *Timer) Stop() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.stopLocked()
}

func (tm *Timer) stopLocked() {
	tm.gen++
	tm.running = false
	if tm.t != nil {
		tm.t.Stop()
		tm.t = nil
	}
	tm.expired.Store(false)
	select {
	case <-tm.wake:
	default:
	}
}

// Running reports whether the timer is armed and has not fired yet.
func (tm *Timer) Running() bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.running
}

// Expired consumes the expiry flag. It reports true at most once per Start.
func (tm *Timer) Expired() bool {
	return tm.expired.Swap(false)
}

// Wake receives a value after the timer fires. It is only a hint to stop
// blocking: the expiry itself is still read through Expired, and a wake-up
// may be stale if the flag was already consumed.
func (tm *Timer) Wake() <-chan struct{} {
	return tm.wake
}
