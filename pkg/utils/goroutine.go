// Package utils contains helpers shared by the package test suites.
package utils

import (
	"runtime"
	"testing"
	"time"
)

const (
	leakStabilizeDelay = 200 * time.Millisecond
	leakRecheckDelay   = 100 * time.Millisecond
	leakRechecks       = 3
)

// LeakCheck snapshots the current goroutine count and returns a
// function that fails the test if goroutines are still alive after the
// work under test has shut down. Sessions, channels and clients all
// spawn background goroutines; their Close paths must reap every one.
//
//	defer utils.LeakCheck(t)()
func LeakCheck(t *testing.T) func() {
	t.Helper()

	time.Sleep(leakStabilizeDelay)
	before := runtime.NumGoroutine()

	return func() {
		t.Helper()

		// Shutdown is asynchronous; poll a few times before declaring
		// a leak.
		after := runtime.NumGoroutine()
		for i := 0; i < leakRechecks && after > before; i++ {
			time.Sleep(leakRecheckDelay)
			after = runtime.NumGoroutine()
		}

		if after > before {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			t.Errorf("goroutine leak: %d before, %d after\n%s", before, after, buf[:n])
		}
	}
}
