package app

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRateLimiter_CountsWithinWindow(t *testing.T) {
	limiter := NewMemoryRateLimiter()

	for i := 1; i <= 4; i++ {
		count, retryAfter, err := limiter.ConsumeRateLimit(context.Background(), "wallet_withdrawal", "owner-1", 3, time.Hour)
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if count != i {
			t.Fatalf("attempt %d: expected count %d, got %d", i, i, count)
		}
		if retryAfter <= 0 {
			t.Fatalf("attempt %d: expected positive retry hint, got %d", i, retryAfter)
		}
	}
}

func TestMemoryRateLimiter_SubjectsAreIndependent(t *testing.T) {
	limiter := NewMemoryRateLimiter()

	if count, _, _ := limiter.ConsumeRateLimit(context.Background(), "wallet_deposit", "owner-1", 5, time.Minute); count != 1 {
		t.Fatalf("expected count 1 for owner-1, got %d", count)
	}
	if count, _, _ := limiter.ConsumeRateLimit(context.Background(), "wallet_deposit", "owner-2", 5, time.Minute); count != 1 {
		t.Fatalf("expected count 1 for owner-2, got %d", count)
	}
	if count, _, _ := limiter.ConsumeRateLimit(context.Background(), "wallet_withdrawal", "owner-1", 5, time.Minute); count != 1 {
		t.Fatalf("expected scopes to be independent, got %d", count)
	}
}

func TestMemoryRateLimiter_WindowResets(t *testing.T) {
	limiter := NewMemoryRateLimiter()
	current := time.Now()
	limiter.now = func() time.Time { return current }

	if count, _, _ := limiter.ConsumeRateLimit(context.Background(), "wallet_deposit", "owner-1", 1, 15*time.Minute); count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
	if count, _, _ := limiter.ConsumeRateLimit(context.Background(), "wallet_deposit", "owner-1", 1, 15*time.Minute); count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}

	current = current.Add(16 * time.Minute)
	if count, _, _ := limiter.ConsumeRateLimit(context.Background(), "wallet_deposit", "owner-1", 1, 15*time.Minute); count != 1 {
		t.Fatalf("expected a fresh window after expiry, got %d", count)
	}
}

func TestMemoryRateLimiter_ZeroLimitDisables(t *testing.T) {
	limiter := NewMemoryRateLimiter()
	count, retryAfter, err := limiter.ConsumeRateLimit(context.Background(), "wallet_deposit", "owner-1", 0, time.Minute)
	if err != nil || count != 0 || retryAfter != 0 {
		t.Fatalf("zero limit must disable limiting, got count=%d retry=%d err=%v", count, retryAfter, err)
	}
}
