package asyncx

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoRecoversPanic(t *testing.T) {
	done := make(chan struct{})
	Do(func() {
		defer close(done)
		panic("boom")
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}

func TestDetachedOutlivesParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	cancel()

	got := make(chan error, 1)
	Detached(parent, time.Second, func(ctx context.Context) {
		got <- ctx.Err()
	})
	select {
	case err := <-got:
		if err != nil {
			t.Fatalf("detached context should not be cancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}

func TestRetryWithBackoff(t *testing.T) {
	calls := 0
	v, err := RetryWithBackoff(context.Background(), 3, time.Millisecond, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil || v != 42 || calls != 3 {
		t.Fatalf("got v=%d err=%v calls=%d", v, err, calls)
	}

	_, err = RetryWithBackoff(context.Background(), 2, time.Millisecond, func(context.Context) (int, error) {
		return 0, errors.New("permanent")
	})
	if err == nil || err.Error() != "permanent" {
		t.Fatalf("expected last error, got %v", err)
	}
}
