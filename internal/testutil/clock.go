package testutil

import (
	"sync"
	"time"
)

// FixedNow returns a now-function that starts at a fixed instant and
// advances by step on every call. Audit entries stamped with it are
// reproducible across runs.
//
// The returned function implements the gateway's WithNow hook.
func FixedNow(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(step)
		return t
	}
}

// Epoch is the conventional start instant for deterministic scenarios.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
