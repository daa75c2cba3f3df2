package httpapi

import (
	"sync"
	"sync/atomic"
)

// CallRegistry tracks live call sessions, enforces the session ceiling and
// supports graceful draining. While draining, new calls are refused and
// in-flight calls finish naturally.
//
// The mu mutex makes the admission checks and wg.Add atomic in Add(),
// preventing a TOCTOU race where StartDraining+Wait could be called between
// the draining check and wg.Add, or two callers could both take the last slot.
type CallRegistry struct {
	mu       sync.Mutex
	draining bool
	max      int64
	wg       sync.WaitGroup
	count    atomic.Int64
}

// NewCallRegistry creates a registry admitting at most max concurrent calls.
// max <= 0 means unlimited.
func NewCallRegistry(max int) *CallRegistry {
	return &CallRegistry{max: int64(max)}
}

// Add registers a new active call. Returns false if the registry is draining
// or full, meaning the call must be refused.
func (cr *CallRegistry) Add() bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.draining {
		return false
	}
	if cr.max > 0 && cr.count.Load() >= cr.max {
		return false
	}
	cr.wg.Add(1)
	cr.count.Add(1)
	return true
}

// Done marks a call as completed. Must be called exactly once per successful Add.
func (cr *CallRegistry) Done() {
	cr.count.Add(-1)
	cr.wg.Done()
}

// StartDraining sets the draining flag so that future Add calls return false.
func (cr *CallRegistry) StartDraining() {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.draining = true
}

// IsDraining reports whether the registry is in draining mode.
func (cr *CallRegistry) IsDraining() bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.draining
}

// ActiveCount returns the number of currently active calls.
func (cr *CallRegistry) ActiveCount() int64 {
	return cr.count.Load()
}

// Max returns the session ceiling, 0 when unlimited.
func (cr *CallRegistry) Max() int64 {
	return cr.max
}

// Wait blocks until all active calls have completed (all Done calls matched Add calls).
func (cr *CallRegistry) Wait() {
	cr.wg.Wait()
}
