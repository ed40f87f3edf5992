package crawler

import (
	"context"
	"time"
)

// PauseController abstracts the politeness delay between consecutive page fetches.
type PauseController interface {
	Pause(ctx context.Context, delay time.Duration) error
}

// TimerPauseController sleeps on a timer and returns early with ctx.Err() on cancellation.
type TimerPauseController struct{}

// Pause blocks for delay or until ctx is done.
func (TimerPauseController) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
