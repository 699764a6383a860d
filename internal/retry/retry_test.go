package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxRetries: 2, Backoff: time.Millisecond}, "test", func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesUpToMax(t *testing.T) {
	calls := 0
	wantErr := errors.New("connection refused")
	err := Do(context.Background(), Policy{MaxRetries: 2, Backoff: time.Millisecond}, "test", func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Do() = %v, want %v", err, wantErr)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (1 initial + 2 retries)", calls)
	}
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	logicErr := errors.New("bad key")
	err := Do(context.Background(), Policy{
		MaxRetries: 5,
		Backoff:    time.Millisecond,
		Classify:   func(error) bool { return false },
	}, "test", func() error {
		calls++
		return logicErr
	})
	if !errors.Is(err, logicErr) {
		t.Fatalf("Do() = %v, want %v", err, logicErr)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries for logical error)", calls)
	}
}

func TestDoAbortsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, Policy{MaxRetries: 3, Backoff: time.Hour}, "test", func() error {
		calls++
		return errors.New("down")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (backoff aborted by cancelled context)", calls)
	}
}
