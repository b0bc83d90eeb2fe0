package services

import (
	"context"
	"log"
	"time"
)

const bestEffortTimeout = 10 * time.Second

// FireAndForget runs fn on its own goroutine with a bounded context and
// returns a buffered channel carrying the eventual result. Callers along
// the primary flow are expected to drop the channel: a best-effort call
// failing is logged, never surfaced, and never rolls anything back. Tests
// receive on the channel to assert completion.
func FireAndForget(label string, fn func(ctx context.Context) error) <-chan error {
	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), bestEffortTimeout)
		defer cancel()

		err := fn(ctx)
		if err != nil {
			log.Printf("Warning: best-effort %s failed: %v", label, err)
		}
		done <- err
	}()
	return done
}
