package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestConfig_Delay(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		attempt int
		want    time.Duration
	}{
		{"fixed", Config{Delay: 10 * time.Millisecond}, 3, 10 * time.Millisecond},
		{"linear", Config{Delay: 10 * time.Millisecond, Backoff: Linear}, 3, 30 * time.Millisecond},
		{"exponential", Config{Delay: 10 * time.Millisecond, Backoff: Exponential}, 3, 40 * time.Millisecond},
		{"capped", Config{Delay: 10 * time.Millisecond, Backoff: Linear, MaxDelay: 15 * time.Millisecond}, 3, 15 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.delay(tt.attempt); got != tt.want {
				t.Errorf("delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{Attempts: 3, Delay: time.Millisecond}, zerolog.Nop(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDo_Exhausted(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Do(context.Background(), Config{Attempts: 2, Delay: time.Millisecond}, zerolog.Nop(), "op", func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Do() error = %v, want wrapped boom", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestDo_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Config{Attempts: 5, Delay: time.Hour}, zerolog.Nop(), "op", func(context.Context) error {
		calls++
		cancel()
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
