// Package safego provides panic-recovering goroutine launchers for fire-and-forget work
// such as download counting, which must never fail or delay the request that triggers it.
package safego

import (
	"context"
	"log/slog"
	"time"
)

// Go launches fn in a new goroutine. A panic in fn is recovered and logged with
// the task name instead of crashing the process.
func Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "task", name, "panic", r)
			}
		}()
		fn()
	}()
}

// Detached runs fn in the background with a fresh context bounded by timeout, so the
// work outlives the request context that started it. Errors are logged at warn level.
func Detached(name string, timeout time.Duration, fn func(ctx context.Context) error) {
	Go(name, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			slog.Warn("background task failed", "task", name, "error", err)
		}
	})
}
