package service

import (
	"context"
	"errors"
	"testing"
)

func TestClientCacheReusesPerCredential(t *testing.T) {
	cache := NewClientCache()
	builds := 0
	cache.build = func(ctx context.Context, cfg ClientConfig) (CompletionClient, error) {
		builds++
		return &scriptedClient{}, nil
	}

	ctx := context.Background()
	cfg := ClientConfig{Provider: "google", Model: "gemini-2.5-flash", APIKey: "key-a"}

	first, err := cache.Get(ctx, cfg)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	second, err := cache.Get(ctx, cfg)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if first != second {
		t.Error("same credentials should reuse the client")
	}
	if builds != 1 {
		t.Errorf("builds = %d, want 1", builds)
	}

	other := cfg
	other.APIKey = "key-b"
	if _, err := cache.Get(ctx, other); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if builds != 2 {
		t.Errorf("builds = %d, want a fresh client per key", builds)
	}
}

func TestClientCacheInvalidateEvictsByKey(t *testing.T) {
	cache := NewClientCache()
	builds := 0
	cache.build = func(ctx context.Context, cfg ClientConfig) (CompletionClient, error) {
		builds++
		return &scriptedClient{}, nil
	}

	ctx := context.Background()
	keyA := ClientConfig{Provider: "google", Model: "gemini-2.5-flash", APIKey: "key-a"}
	keyB := ClientConfig{Provider: "google", Model: "gemini-2.5-flash", APIKey: "key-b"}

	if _, err := cache.Get(ctx, keyA); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := cache.Get(ctx, keyB); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	cache.Invalidate("key-a")

	if _, err := cache.Get(ctx, keyB); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if builds != 2 {
		t.Error("invalidating key-a must not evict key-b")
	}

	if _, err := cache.Get(ctx, keyA); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if builds != 3 {
		t.Error("key-a should be rebuilt after invalidation")
	}
}

func TestNewCompletionClientRequiresKey(t *testing.T) {
	_, err := NewCompletionClient(context.Background(), ClientConfig{
		Provider: "google", Model: "gemini-2.5-flash",
	})
	if !errors.Is(err, ErrAPIKeyMissing) {
		t.Errorf("missing key error = %v, want ErrAPIKeyMissing", err)
	}
}
