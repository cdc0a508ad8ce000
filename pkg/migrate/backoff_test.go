package migrate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	p := DefaultBackoff()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, 60 * time.Second},
		{6, 60 * time.Second},
		{100, 60 * time.Second},
		{0, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	p := BackoffPolicy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 5}
	calls := 0
	err := p.Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return Transient("op", errors.New("Throttling"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryDoesNotRetryTerminal(t *testing.T) {
	p := BackoffPolicy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 5}
	calls := 0
	wantErr := Terminal("op", errors.New("AccessDenied"))
	err := p.Retry(context.Background(), func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	p := BackoffPolicy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 3}
	calls := 0
	err := p.Retry(context.Background(), func() error {
		calls++
		return Transient("op", errors.New("RequestLimitExceeded"))
	})
	if !IsTransient(err) {
		t.Fatalf("err = %v, classification lost through retry", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	p := BackoffPolicy{BaseDelay: time.Hour, MaxDelay: time.Hour, MaxAttempts: 5}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.Retry(ctx, func() error {
		calls++
		return Transient("op", errors.New("Throttling"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
