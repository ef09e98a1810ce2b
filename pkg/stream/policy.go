package stream

import (
	"context"
	"time"
)

// ReconnectPolicy governs the outer connection loop: a fixed delay between
// attempts and no cap on how many are made. Long sessions are expected to
// eventually succeed once the ingest server is ready, so the delay never
// grows.
type ReconnectPolicy struct {
	Delay time.Duration
}

// DefaultReconnectPolicy retries every 2 seconds, forever.
var DefaultReconnectPolicy = ReconnectPolicy{Delay: 2 * time.Second}

// Wait sleeps out the policy delay, returning early with the context's error
// if it is cancelled first.
func (p ReconnectPolicy) Wait(ctx context.Context) error {
	timer := time.NewTimer(p.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
