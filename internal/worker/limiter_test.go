package worker

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_New(t *testing.T) {
	limiter := NewLimiter(10, 5)
	if limiter.defaultBurst != 5 {
		t.Errorf("expected burst 5, got %d", limiter.defaultBurst)
	}

	l2 := NewLimiter(10, -1)
	if l2.defaultBurst != 5 {
		t.Errorf("expected default burst 5 for negative input, got %d", l2.defaultBurst)
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(100, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "https://www.reddit.com/r/golang/new.json"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
	if err := limiter.Wait(ctx, "https://t.me/s/durov"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
	if err := limiter.Wait(ctx, "not a url"); err == nil {
		t.Error("expected error for URL without host")
	}
}

func TestLimiter_PerHostBudget(t *testing.T) {
	limiter := NewLimiter(1, 1)

	if !limiter.Allow("https://example.com/feed.xml") {
		t.Fatal("first request should pass")
	}
	if limiter.Allow("https://EXAMPLE.com/other.xml") {
		t.Error("second request to the same host should be limited")
	}
	if !limiter.Allow("https://other.com/feed.xml") {
		t.Error("other host should have its own budget")
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	limiter := NewLimiter(0, 1)
	for i := 0; i < 50; i++ {
		if !limiter.Allow("https://example.com") {
			t.Fatalf("request %d limited with rate disabled", i)
		}
	}
}

func TestLimiter_SetHostRate(t *testing.T) {
	limiter := NewLimiter(10, 10)
	limiter.SetHostRate("slow.com", 0.1, 1)

	if !limiter.Allow("http://slow.com") {
		t.Errorf("first request should pass")
	}
	if limiter.Allow("http://slow.com") {
		t.Errorf("second request should fail")
	}
	if !limiter.Allow("http://fast.com") {
		t.Errorf("other host should pass")
	}
}

func TestLimiter_ApplyCrawlDelay(t *testing.T) {
	limiter := NewLimiter(100, 10)
	limiter.ApplyCrawlDelay("polite.org", 10*time.Second)

	if !limiter.Allow("https://polite.org/rss") {
		t.Fatal("first request should pass")
	}
	if limiter.Allow("https://polite.org/rss") {
		t.Error("crawl delay should allow one request per delay")
	}

	// a looser delay never relaxes a stricter budget
	strict := NewLimiter(0.01, 1)
	strict.ApplyCrawlDelay("slow.org", time.Millisecond)
	strict.Allow("https://slow.org")
	if strict.Allow("https://slow.org") {
		t.Error("crawl delay relaxed a stricter limit")
	}
}
