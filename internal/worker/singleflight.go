package worker

import "sync"

// inflight is an explicit single-flight guard. The scheduler acquires it
// at the start of a pass and releases it when the pass finishes; a tick
// that fires while a pass is still running observes a failed acquire and
// skips instead of starting a second concurrent pass.
type inflight struct {
	mu     sync.Mutex
	active bool
}

// TryAcquire takes the guard if it is free. Returns false when a pass is
// already running.
func (f *inflight) TryAcquire() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		return false
	}
	f.active = true
	return true
}

// Release frees the guard.
func (f *inflight) Release() {
	f.mu.Lock()
	f.active = false
	f.mu.Unlock()
}

// Active reports whether a pass currently holds the guard.
func (f *inflight) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}
