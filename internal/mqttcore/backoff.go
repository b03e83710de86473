package mqttcore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Default progressive backoff timings.
const (
	defaultBaseReconnect    = 1 * time.Second
	defaultMaximumReconnect = 32 * time.Second
	defaultMinimumConnect   = 20 * time.Second
)

// Backoff computes the delay before each automatic reconnect.
//
// Every BackOff call waits for the current delay and then doubles it, up to
// the maximum. A connection that stays up for minStable (see
// StartStableTimer) is trusted, and the next disconnect starts again from
// the base delay.
type Backoff struct {
	mu        sync.Mutex
	base      time.Duration
	max       time.Duration
	minStable time.Duration
	current   time.Duration

	timer *time.Timer
	// gen invalidates a stable timer that fires while BackOff is cancelling it.
	gen uint64

	sleep func(ctx context.Context, d time.Duration) error
}

// NewBackoff creates a Backoff. base must be positive, not larger than max,
// and strictly shorter than minStable.
func NewBackoff(base, max, minStable time.Duration) (*Backoff, error) {
	if err := validateBackoff(base, max, minStable); err != nil {
		return nil, err
	}
	return &Backoff{
		base:      base,
		max:       max,
		minStable: minStable,
		current:   base,
		sleep:     sleepContext,
	}, nil
}

func validateBackoff(base, max, minStable time.Duration) error {
	switch {
	case base <= 0:
		return fmt.Errorf("%w: base reconnect time must be positive", ErrInvalidArgument)
	case max < base:
		return fmt.Errorf("%w: maximum reconnect time must not be shorter than base", ErrInvalidArgument)
	case base >= minStable:
		return fmt.Errorf("%w: minimum connect time must be longer than base reconnect time", ErrInvalidArgument)
	}
	return nil
}

// Configure replaces the timings and resets the current delay to base.
func (b *Backoff) Configure(base, max, minStable time.Duration) error {
	if err := validateBackoff(base, max, minStable); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelTimerLocked()
	b.base, b.max, b.minStable = base, max, minStable
	b.current = base
	return nil
}

// BackOff cancels any pending stable timer, blocks for the current delay
// and then doubles the delay for the next call, capped at max.
//
// It returns ctx.Err() if ctx is cancelled before the delay has elapsed;
// the delay is not advanced in that case.
func (b *Backoff) BackOff(ctx context.Context) error {
	b.mu.Lock()
	b.cancelTimerLocked()
	delay := b.current
	b.mu.Unlock()

	if err := b.sleep(ctx, delay); err != nil {
		return err
	}

	b.mu.Lock()
	b.current = min(b.max, b.current*2)
	b.mu.Unlock()
	return nil
}

// StartStableTimer arms a one-shot timer of minStable. If no BackOff call
// interrupts it, the delay is reset to base when it fires.
func (b *Backoff) StartStableTimer() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelTimerLocked()
	gen := b.gen
	b.timer = time.AfterFunc(b.minStable, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.gen != gen {
			return
		}
		b.current = b.base
		b.timer = nil
	})
}

// Stop cancels a pending stable timer.
func (b *Backoff) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelTimerLocked()
}

// Current returns the delay the next BackOff call will wait.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Backoff) cancelTimerLocked() {
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// sleepContext blocks for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
