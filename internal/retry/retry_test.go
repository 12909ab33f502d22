package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "list", Policy{Attempts: 3}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_Exhausted(t *testing.T) {
	cause := errors.New("timeout")
	calls := 0
	err := Do(context.Background(), "list", Policy{Attempts: 3, Delay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return cause
	})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	var te *TransientError
	if !errors.As(err, &te) || te.Attempts != 3 {
		t.Fatalf("error %v is not transient", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("error %v does not wrap cause", err)
	}
}

func TestDo_Permanent(t *testing.T) {
	cause := errors.New("not found")
	calls := 0
	err := Do(context.Background(), "get", Policy{Attempts: 5}, func(ctx context.Context) error {
		calls++
		return Permanent(cause)
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if err != cause {
		t.Errorf("Do() error = %v, want %v", err, cause)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, "get", Policy{Attempts: 5, Delay: time.Hour}, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("boom")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
