package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestRefillFloorsAfterMin(t *testing.T) {
	// 0.5 tokens + 0.4s * 1 tok/s = 0.9 -> floor to 0.
	if got := Refill(0.5, 400*time.Millisecond, 60, 1); got != 0 {
		t.Fatalf("expected 0 tokens, got %d", got)
	}
	// Refill never exceeds capacity.
	if got := Refill(59, time.Hour, 60, 1); got != 60 {
		t.Fatalf("expected cap 60, got %d", got)
	}
}

func TestAllowSpendsTokens(t *testing.T) {
	l := NewInMemory(3, 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _, err := l.Allow(ctx, "client")
		if err != nil || !ok {
			t.Fatalf("request %d should pass: ok=%v err=%v", i, ok, err)
		}
	}
	ok, remaining, err := l.Allow(ctx, "client")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Fatal("bucket should be empty")
	}
	if remaining != 0 {
		t.Fatalf("expected 0 remaining, got %d", remaining)
	}
}

func TestAllowRefillsOverTime(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewInMemory(2, 1).WithClock(func() time.Time { return now })
	ctx := context.Background()

	l.Allow(ctx, "client")
	l.Allow(ctx, "client")
	if ok, _, _ := l.Allow(ctx, "client"); ok {
		t.Fatal("bucket should be drained")
	}

	now = now.Add(2 * time.Second)
	if ok, _, _ := l.Allow(ctx, "client"); !ok {
		t.Fatal("bucket should have refilled")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := NewInMemory(1, 1)
	ctx := context.Background()

	if ok, _, _ := l.Allow(ctx, "a"); !ok {
		t.Fatal("first key should pass")
	}
	if ok, _, _ := l.Allow(ctx, "b"); !ok {
		t.Fatal("second key should have its own bucket")
	}
	if ok, _, _ := l.Allow(ctx, "a"); ok {
		t.Fatal("first key should be drained")
	}
}
