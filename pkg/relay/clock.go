// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"time"
)

// Clock is the time source for delays and pacing.
type Clock interface {
	Now() time.Time
	// Sleep suspends for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// pacer enforces a minimum interval between successive sends.
type pacer struct {
	clock    Clock
	interval time.Duration
	sent     bool
}

func (p *pacer) wait(ctx context.Context) error {
	if !p.sent {
		p.sent = true
		return nil
	}
	return p.clock.Sleep(ctx, p.interval)
}
