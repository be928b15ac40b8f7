package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"crosspost/pkg/logx"
)

func fastConfig(retries int) Config {
	return Config{MaxRetries: retries, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestDelaySchedule(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}
	for i, w := range want {
		if got := cfg.Delay(i); got != w {
			t.Fatalf("Delay(%d) = %s, want %s", i, got, w)
		}
	}
}

func TestDoReturnsFirstSuccess(t *testing.T) {
	t.Parallel()
	calls := 0
	got, err := Do(context.Background(), fastConfig(3), logx.Nop(), func(ctx context.Context, attempt int) (int, error) {
		calls++
		if attempt < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if got != 42 || calls != 3 {
		t.Fatalf("got=%d calls=%d, want 42/3", got, calls)
	}
}

func TestDoExhaustsAfterMaxRetriesPlusOne(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	calls := 0
	got, err := Do(context.Background(), fastConfig(3), logx.Nop(), func(ctx context.Context, attempt int) (string, error) {
		calls++
		return "last", boom
	})
	if calls != 4 {
		t.Fatalf("calls = %d, want 4", calls)
	}
	if !errors.Is(err, ErrExhausted) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want ErrExhausted wrapping boom", err)
	}
	if got != "last" {
		t.Fatalf("value = %q, want last attempt value", got)
	}
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	t.Parallel()
	bad := errors.New("bad input")
	calls := 0
	_, err := Do(context.Background(), fastConfig(5), logx.Nop(), func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, Permanent(bad)
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, bad) || errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v", err)
	}
}

func TestDoRecoversPanics(t *testing.T) {
	t.Parallel()
	calls := 0
	got, err := Do(context.Background(), fastConfig(1), logx.Nop(), func(ctx context.Context, attempt int) (int, error) {
		calls++
		if attempt == 0 {
			panic("kaboom")
		}
		return 7, nil
	})
	if err != nil || got != 7 || calls != 2 {
		t.Fatalf("got=%d err=%v calls=%d", got, err, calls)
	}
}

func TestDoCanceledWhileWaiting(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxRetries: 3, InitialDelay: time.Hour, MaxDelay: time.Hour}
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, cfg, logx.Nop(), func(ctx context.Context, attempt int) (int, error) {
			return 0, errors.New("transient")
		})
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
}

func TestDoCanceledBeforeFirstAttempt(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := Do(ctx, fastConfig(3), logx.Nop(), func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, nil
	})
	if calls != 0 || !errors.Is(err, context.Canceled) {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
}

func TestAfterHintIsCapped(t *testing.T) {
	t.Parallel()
	cfg := Config{InitialDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}.withDefaults()
	if got := cfg.delayFor(0, After(errors.New("429"), time.Minute)); got != 10*time.Second {
		t.Fatalf("delayFor = %s, want 10s", got)
	}
	if got := cfg.delayFor(0, After(errors.New("429"), 3*time.Second)); got != 3*time.Second {
		t.Fatalf("delayFor = %s, want 3s", got)
	}
}

func TestJitterStaysInBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{InitialDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2, Jitter: 0.5}.withDefaults()
	for i := 0; i < 100; i++ {
		d := cfg.delayFor(1, errors.New("x"))
		if d < time.Second || d > 3*time.Second {
			t.Fatalf("jittered delay %s out of [1s,3s]", d)
		}
	}
}
