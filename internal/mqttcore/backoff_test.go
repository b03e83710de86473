package mqttcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

// recordingBackoff returns a Backoff whose sleeps are recorded instead of
// performed.
func recordingBackoff(t *testing.T, base, max, minStable time.Duration) (*Backoff, *[]time.Duration) {
	t.Helper()
	b, err := NewBackoff(base, max, minStable)
	if err != nil {
		t.Fatalf("NewBackoff() error = %v", err)
	}
	var delays []time.Duration
	b.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return b, &delays
}

func TestNewBackoffValidation(t *testing.T) {
	tests := []struct {
		name                 string
		base, max, minStable time.Duration
		wantErr              bool
	}{
		{"defaults", time.Second, 32 * time.Second, 20 * time.Second, false},
		{"base equals max", time.Second, time.Second, 2 * time.Second, false},
		{"zero base", 0, time.Second, time.Second, true},
		{"max below base", 2 * time.Second, time.Second, 5 * time.Second, true},
		{"base equals min stable", time.Second, 4 * time.Second, time.Second, true},
		{"base above min stable", 3 * time.Second, 4 * time.Second, time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBackoff(tt.base, tt.max, tt.minStable)
			if tt.wantErr && !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("NewBackoff() error = %v, want ErrInvalidArgument", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("NewBackoff() error = %v", err)
			}
		})
	}
}

func TestBackoffDoublesUpToMax(t *testing.T) {
	b, delays := recordingBackoff(t, time.Second, 32*time.Second, 60*time.Second)

	for i := 0; i < 8; i++ {
		if err := b.BackOff(context.Background()); err != nil {
			t.Fatalf("BackOff() error = %v", err)
		}
	}

	want := []time.Duration{1, 2, 4, 8, 16, 32, 32, 32}
	if len(*delays) != len(want) {
		t.Fatalf("recorded %d delays, want %d", len(*delays), len(want))
	}
	for i, d := range *delays {
		if d != want[i]*time.Second {
			t.Errorf("delay %d = %v, want %v", i, d, want[i]*time.Second)
		}
	}
}

func TestBackoffResetAfterStablePeriod(t *testing.T) {
	b, delays := recordingBackoff(t, time.Millisecond, 32*time.Millisecond, 20*time.Millisecond)

	for i := 0; i < 4; i++ {
		_ = b.BackOff(context.Background())
	}
	if got := b.Current(); got != 16*time.Millisecond {
		t.Fatalf("Current() = %v, want 16ms", got)
	}

	b.StartStableTimer()
	deadline := time.Now().Add(2 * time.Second)
	for b.Current() != time.Millisecond && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	_ = b.BackOff(context.Background())
	last := (*delays)[len(*delays)-1]
	if last != time.Millisecond {
		t.Errorf("delay after stable period = %v, want base 1ms", last)
	}
}

func TestBackoffCancelsStableTimer(t *testing.T) {
	b, _ := recordingBackoff(t, time.Millisecond, 32*time.Millisecond, 30*time.Millisecond)

	_ = b.BackOff(context.Background())
	_ = b.BackOff(context.Background())
	b.StartStableTimer()
	_ = b.BackOff(context.Background())

	time.Sleep(60 * time.Millisecond)
	if got := b.Current(); got != 8*time.Millisecond {
		t.Errorf("Current() = %v, want 8ms; interrupted timer must not reset", got)
	}
}

func TestBackoffContextCancelled(t *testing.T) {
	b, err := NewBackoff(time.Hour, 2*time.Hour, 3*time.Hour)
	if err != nil {
		t.Fatalf("NewBackoff() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := b.BackOff(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("BackOff() error = %v, want context.Canceled", err)
	}
	if got := b.Current(); got != time.Hour {
		t.Errorf("Current() = %v, want unchanged 1h", got)
	}
}

func TestBackoffConfigureResets(t *testing.T) {
	b, _ := recordingBackoff(t, time.Second, 8*time.Second, 10*time.Second)
	_ = b.BackOff(context.Background())
	_ = b.BackOff(context.Background())

	if err := b.Configure(2*time.Second, 16*time.Second, 30*time.Second); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if got := b.Current(); got != 2*time.Second {
		t.Errorf("Current() = %v, want 2s", got)
	}
	if err := b.Configure(5*time.Second, 16*time.Second, 5*time.Second); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Configure() error = %v, want ErrInvalidArgument", err)
	}
}
