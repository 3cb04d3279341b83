package adapter

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFlaky = errors.New("flaky")

func TestRetryPolicy_RetriesUntilSuccess(t *testing.T) {
	var waits []time.Duration
	p := RetryPolicy{
		Retries: 3,
		Initial: time.Millisecond,
		Max:     2 * time.Millisecond,
		OnRetry: func(_ error, wait time.Duration) { waits = append(waits, wait) },
	}

	calls := 0
	attempts, err := p.Do(t.Context(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if len(waits) != 2 {
		t.Fatalf("waits = %v, want 2 entries", waits)
	}
	// Jitter keeps every wait near the 2ms cap.
	for _, w := range waits {
		if w <= 0 || w > 3*time.Millisecond {
			t.Errorf("wait %v outside (0, 3ms]", w)
		}
	}
}

func TestRetryPolicy_StopsAfterRetries(t *testing.T) {
	p := RetryPolicy{Retries: 2, Initial: time.Millisecond, Max: time.Millisecond}

	attempts, err := p.Do(t.Context(), func(context.Context) error { return errFlaky })
	if !errors.Is(err, errFlaky) {
		t.Fatalf("err = %v, want errFlaky", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryPolicy_ZeroRetriesTriesOnce(t *testing.T) {
	attempts, err := RetryPolicy{}.Do(t.Context(), func(context.Context) error { return errFlaky })
	if !errors.Is(err, errFlaky) {
		t.Fatalf("err = %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryPolicy_PermanentIsNotRetried(t *testing.T) {
	p := RetryPolicy{Retries: 5, Initial: time.Millisecond}

	attempts, err := p.Do(t.Context(), func(context.Context) error { return Permanent(errFlaky) })
	if err != errFlaky {
		t.Fatalf("err = %v, want unwrapped errFlaky", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryPolicy_ContextEndsWait(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	p := RetryPolicy{
		Retries: 5,
		Initial: time.Hour,
		Max:     time.Hour,
		OnRetry: func(error, time.Duration) { cancel() },
	}

	start := time.Now()
	attempts, err := p.Do(ctx, func(context.Context) error { return errFlaky })
	if time.Since(start) > 5*time.Second {
		t.Fatal("Do waited out the backoff after cancel")
	}
	if !errors.Is(err, context.Canceled) || !errors.Is(err, errFlaky) {
		t.Errorf("err = %v, want both context.Canceled and errFlaky", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryPolicy_CanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	attempts, err := RetryPolicy{Retries: 2}.Do(ctx, func(context.Context) error {
		t.Error("op must not run after cancel")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if attempts != 0 {
		t.Errorf("attempts = %d, want 0", attempts)
	}
}

func TestRetryPolicy_Validate(t *testing.T) {
	bad := map[string]RetryPolicy{
		"negative retries": {Retries: -1},
		"negative initial": {Initial: -time.Second},
		"initial over max": {Initial: time.Minute, Max: time.Second},
	}
	for name, p := range bad {
		if err := p.Validate(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if err := (RetryPolicy{Retries: 3, Initial: time.Second}).Validate(); err != nil {
		t.Errorf("valid policy rejected: %v", err)
	}
}

func TestRetryPolicy_Defaults(t *testing.T) {
	p := RetryPolicy{Initial: time.Minute}.withDefaults()
	if p.Max != DefaultMaxBackoff {
		t.Errorf("max = %v, want %v", p.Max, DefaultMaxBackoff)
	}
	if p.Initial != DefaultMaxBackoff {
		t.Errorf("initial = %v, want clamped to %v", p.Initial, DefaultMaxBackoff)
	}
	if d := (RetryPolicy{}).withDefaults().Initial; d != DefaultInitialBackoff {
		t.Errorf("initial = %v, want %v", d, DefaultInitialBackoff)
	}
}
