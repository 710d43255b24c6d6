package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterBurstAndRefill(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New()
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !l.Allow("1.2.3.4", 3, 0.5) {
			t.Fatalf("burst call %d rejected", i)
		}
	}
	if l.Allow("1.2.3.4", 3, 0.5) {
		t.Fatalf("expected rejection after burst")
	}
	if !l.Allow("5.6.7.8", 3, 0.5) {
		t.Fatalf("keys must be independent")
	}

	now = now.Add(2 * time.Second)
	if !l.Allow("1.2.3.4", 3, 0.5) {
		t.Fatalf("expected one token after refill")
	}
	if l.Allow("1.2.3.4", 3, 0.5) {
		t.Fatalf("refill must not exceed elapsed rate")
	}
}
