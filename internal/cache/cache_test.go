package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestKey_Stable(t *testing.T) {
	a := Key("model", "hash")
	b := Key("model", "hash")
	if a != b {
		t.Errorf("expected stable key, got %s vs %s", a, b)
	}
	if Key("modelh", "ash") == a {
		t.Error("expected part boundaries to affect the key")
	}
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute, time.Minute)

	if _, ok := c.Get(ctx, "missing"); ok {
		t.Fatal("expected miss")
	}
	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	val, ok := c.Get(ctx, "k")
	if !ok || string(val) != "v" {
		t.Errorf("expected v, got %q (found=%v)", val, ok)
	}
	_ = c.Delete(ctx, "k")
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("expected miss after delete")
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute, time.Minute)
	_ = c.Set(ctx, "k", []byte("v"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("expected entry to expire")
	}
}

func TestLayeredCache_PromotesFromBack(t *testing.T) {
	ctx := context.Background()
	front := NewMemoryCache(time.Minute, time.Minute)
	back := NewMemoryCache(time.Minute, time.Minute)
	c := NewLayeredCache(front, back)

	_ = back.Set(ctx, "k", []byte("v"), 0)

	val, ok := c.Get(ctx, "k")
	if !ok || string(val) != "v" {
		t.Fatalf("expected v from back tier, got %q", val)
	}
	if _, ok := front.Get(ctx, "k"); !ok {
		t.Error("expected value promoted to front tier")
	}

	_ = c.Delete(ctx, "k")
	if _, ok := back.Get(ctx, "k"); ok {
		t.Error("expected delete to reach back tier")
	}
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("SENTINEL_TEST_REDIS")
	if addr == "" {
		t.Skip("SENTINEL_TEST_REDIS not set")
	}
	ctx := context.Background()

	client, err := Dial(ctx, addr, "", 0)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = client.Close() }()

	c := NewRedisCache(client, time.Minute)
	key := Key("test", t.Name())
	if err := c.Set(ctx, key, []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	val, ok := c.Get(ctx, key)
	if !ok || string(val) != "v" {
		t.Errorf("expected v, got %q", val)
	}
	if err := c.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}
}
