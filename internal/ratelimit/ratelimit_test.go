package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestWaitImmediateWhenTokensAvailable(t *testing.T) {
	l := New(10)

	start := time.Now()
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("first wait should not block, took %v", elapsed)
	}
}

func TestWaitThrottles(t *testing.T) {
	// 20 rps with burst 20; drain the burst, then the next take must wait
	l := New(20)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("burst take %d failed: %v", i, err)
		}
	}

	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("post-burst wait returned in %v, expected a throttle delay", elapsed)
	}
}

func TestWaitCancellation(t *testing.T) {
	// A very slow limiter with its burst drained blocks until cancelled
	l := New(0.001)
	l.tokens = 0

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx); err == nil {
		t.Error("expected a context error from the drained limiter")
	}
}

func TestPerMinute(t *testing.T) {
	l := PerMinute(600)
	if l.rate != 10 {
		t.Errorf("600 per minute should be 10 per second, got %.2f", l.rate)
	}
}

func TestNewClampsInvalidRate(t *testing.T) {
	l := New(-5)
	if l.rate <= 0 {
		t.Errorf("non-positive rates must clamp to a sane default, got %.2f", l.rate)
	}

	slow := New(0.1)
	if slow.maxTokens < 1.0 {
		t.Errorf("burst must allow at least one token, got %.2f", slow.maxTokens)
	}
}
