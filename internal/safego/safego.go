// Package safego provides a panic-recovering goroutine launcher for background work.
package safego

import "log/slog"

// Go launches fn in a new goroutine named for logging purposes. If fn panics,
// the panic is recovered and logged rather than crashing the process. All
// fire-and-forget goroutines (the SQS listener, scheduled jobs) go through
// this so an unrecovered panic cannot silently kill a worker forever.
func Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "name", name, "panic", r)
			}
		}()
		fn()
	}()
}
