// Package retry runs an operation a bounded number of times with backoff.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Backoff selects how the delay grows between attempts.
type Backoff int

const (
	// Fixed waits Delay between every attempt.
	Fixed Backoff = iota
	// Linear waits attempt*Delay.
	Linear
	// Exponential doubles the delay after every attempt.
	Exponential
)

// Config defines retry behaviour.
type Config struct {
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
	Backoff  Backoff
}

// delay returns the wait after the given 1-based failed attempt.
func (c Config) delay(attempt int) time.Duration {
	var d time.Duration
	switch c.Backoff {
	case Linear:
		d = time.Duration(attempt) * c.Delay
	case Exponential:
		d = c.Delay << (attempt - 1)
	default:
		d = c.Delay
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

// Do calls fn until it succeeds, the attempts are exhausted or ctx is done.
func Do(ctx context.Context, cfg Config, logger zerolog.Logger, operation string, fn func(ctx context.Context) error) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s cancelled: %w", operation, err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 1 {
				logger.Debug().Str("operation", operation).Int("attempts", attempt).
					Msg("Operation succeeded after retries")
			}
			return nil
		}
		if attempt == cfg.Attempts {
			break
		}

		d := cfg.delay(attempt)
		logger.Debug().Str("operation", operation).Int("attempt", attempt).
			Dur("delay", d).Err(lastErr).Msg("Operation failed, retrying")

		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%s cancelled: %w", operation, ctx.Err())
		case <-t.C:
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operation, cfg.Attempts, lastErr)
}
