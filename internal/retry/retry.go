// Package retry runs an operation with bounded exponential backoff.
//
// The loop is an explicit state machine:
//
//	Attempting(n) -> Succeeded
//	Attempting(n) -> Waiting(delay) -> Attempting(n+1)
//	Attempting(n) -> Exhausted
//
// Waiting is the only suspension point and always selects on the context.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"crosspost/pkg/logx"
)

const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultMultiplier   = 2.0
)

// Config controls attempts and backoff. Zero durations and multipliers take defaults;
// MaxRetries is used as-is (0 means a single attempt).
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter in [0,1] spreads each delay by +/- Jitter*delay.
	Jitter float64
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Multiplier:   DefaultMultiplier,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = DefaultMultiplier
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.Jitter > 1 {
		c.Jitter = 1
	}
	return c
}

// Delay is the wait before retry number attempt+1 (attempt is 0-based), without jitter:
// min(InitialDelay * Multiplier^attempt, MaxDelay).
func (c Config) Delay(attempt int) time.Duration {
	c = c.withDefaults()
	if attempt < 0 {
		attempt = 0
	}
	d := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if d >= float64(c.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

func (c Config) delayFor(attempt int, err error) time.Duration {
	d := c.Delay(attempt)
	var ae AfterError
	if err != nil && errors.As(err, &ae) {
		d = min(ae.RetryAfter(), c.MaxDelay)
	}
	if c.Jitter > 0 && d > 0 {
		r := (rand.Float64()*2 - 1) * c.Jitter
		d = time.Duration(float64(d) * (1 + r))
	}
	return max(0, min(d, c.MaxDelay))
}

// State is a step of the retry state machine.
type State int

const (
	StateAttempting State = iota
	StateWaiting
	StateSucceeded
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateWaiting:
		return "waiting"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Op is one attempt. attempt is 0-based.
type Op[T any] func(ctx context.Context, attempt int) (T, error)

// Do runs op up to MaxRetries+1 times and returns the first success.
//
// On failure it returns the last attempt's value together with an error wrapping
// ErrExhausted and the last attempt error. A permanent error ends the loop early and is
// returned unwrapped. Context cancellation while waiting returns the last value with an
// error wrapping ctx.Err(). Panics in op become attempt errors.
func Do[T any](ctx context.Context, cfg Config, log logx.Logger, op Op[T]) (T, error) {
	cfg = cfg.withDefaults()
	maxAttempts := cfg.MaxRetries + 1

	var (
		last    T
		lastErr error
		attempt int
		delay   time.Duration
		state   = StateAttempting
	)

	for {
		switch state {
		case StateAttempting:
			if err := ctx.Err(); err != nil {
				if lastErr == nil {
					return last, err
				}
				return last, fmt.Errorf("retry canceled after %d attempt(s): %w (last error: %w)", attempt, err, lastErr)
			}
			last, lastErr = runOnce(ctx, log, op, attempt)
			attempt++
			switch {
			case lastErr == nil:
				state = StateSucceeded
			case IsPermanent(lastErr):
				log.Debug("retry stopped on permanent error", logx.Int("attempt", attempt), logx.Err(lastErr))
				var pe permanentError
				errors.As(lastErr, &pe)
				return last, pe.err
			case attempt >= maxAttempts:
				state = StateExhausted
			default:
				delay = cfg.delayFor(attempt-1, lastErr)
				state = StateWaiting
			}

		case StateWaiting:
			log.Debug("retry scheduled", logx.Int("attempt", attempt+1), logx.Int("max_attempts", maxAttempts), logx.Duration("delay", delay), logx.Err(lastErr))
			if delay > 0 {
				tmr := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					tmr.Stop()
					return last, fmt.Errorf("retry canceled after %d attempt(s): %w (last error: %w)", attempt, ctx.Err(), lastErr)
				case <-tmr.C:
				}
			}
			state = StateAttempting

		case StateSucceeded:
			if attempt > 1 {
				log.Debug("retry succeeded", logx.Int("attempts", attempt))
			}
			return last, nil

		case StateExhausted:
			log.Warn("retry exhausted", logx.Int("attempts", attempt), logx.Err(lastErr))
			return last, fmt.Errorf("%w after %d attempt(s): %w", ErrExhausted, attempt, lastErr)
		}
	}
}

func runOnce[T any](ctx context.Context, log logx.Logger, op Op[T], attempt int) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.Error("retry.panic", logx.Int("attempt", attempt+1), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return op(ctx, attempt)
}
