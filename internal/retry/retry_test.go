package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")
var errFatal = errors.New("fatal")

func testPolicy() (Policy, *[]time.Duration) {
	var slept []time.Duration
	p := Policy{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    15 * time.Millisecond,
		Retryable:   func(err error) bool { return errors.Is(err, errTransient) },
		Sleep: func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return ctx.Err()
		},
	}
	return p, &slept
}

func TestPolicy_Do(t *testing.T) {
	t.Run("succeeds first try", func(t *testing.T) {
		p, slept := testPolicy()
		calls := 0
		err := p.Do(context.Background(), func(context.Context) error {
			calls++
			return nil
		})
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
		if calls != 1 || len(*slept) != 0 {
			t.Errorf("calls = %d, sleeps = %d", calls, len(*slept))
		}
	})

	t.Run("retries transient then succeeds", func(t *testing.T) {
		p, slept := testPolicy()
		calls := 0
		err := p.Do(context.Background(), func(context.Context) error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
		want := []time.Duration{10 * time.Millisecond, 15 * time.Millisecond}
		if len(*slept) != 2 || (*slept)[0] != want[0] || (*slept)[1] != want[1] {
			t.Errorf("sleeps = %v, want %v", *slept, want)
		}
	})

	t.Run("does not retry fatal errors", func(t *testing.T) {
		p, _ := testPolicy()
		calls := 0
		err := p.Do(context.Background(), func(context.Context) error {
			calls++
			return errFatal
		})
		if !errors.Is(err, errFatal) {
			t.Fatalf("Do() error = %v, want fatal", err)
		}
		var ex *ExhaustedError
		if errors.As(err, &ex) {
			t.Error("fatal error should not be wrapped as exhausted")
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		p, _ := testPolicy()
		var retried []int
		p.OnRetry = func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) }
		calls := 0
		err := p.Do(context.Background(), func(context.Context) error {
			calls++
			return errTransient
		})
		var ex *ExhaustedError
		if !errors.As(err, &ex) {
			t.Fatalf("Do() error = %v, want *ExhaustedError", err)
		}
		if ex.Attempts != 3 || calls != 3 {
			t.Errorf("attempts = %d, calls = %d", ex.Attempts, calls)
		}
		if !errors.Is(err, errTransient) {
			t.Error("exhausted error should unwrap to last error")
		}
		if len(retried) != 2 {
			t.Errorf("OnRetry calls = %v, want 2", retried)
		}
	})

	t.Run("stops when context is cancelled", func(t *testing.T) {
		p, _ := testPolicy()
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := p.Do(ctx, func(context.Context) error {
			calls++
			cancel()
			return errTransient
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Do() error = %v, want context.Canceled", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})
}

func TestPolicy_Do_SleepFailure(t *testing.T) {
	errStopped := errors.New("clock stopped")
	p, _ := testPolicy()
	p.Sleep = func(context.Context, time.Duration) error { return errStopped }
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, errStopped) || !errors.Is(err, errTransient) {
		t.Fatalf("Do() error = %v, want both the wait and the last error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPolicy_Defaults(t *testing.T) {
	p := Policy{}.withDefaults()
	if p.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", p.MaxAttempts)
	}
	if p.Retryable == nil || p.Sleep == nil {
		t.Error("defaults should fill Retryable and Sleep")
	}
}
