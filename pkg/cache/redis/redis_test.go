package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"trade-ledger/pkg/cache"
)

func setupTestRedis(t *testing.T) *RedisCache {
	config := DefaultRedisCacheConfig()
	config.Name = "TestRedis"
	config.KeyPrefix = "test:trade-ledger:"
	config.DialTimeout = 2 * time.Second
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Addr = addr
	}

	r, err := NewRedisCache(config)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	return r
}

func TestNewRedisCache_NoAddress(t *testing.T) {
	config := DefaultRedisCacheConfig()
	config.Addr = ""

	if _, err := NewRedisCache(config); err == nil {
		t.Error("Expected error when no address is configured")
	}
}

func TestRedisCache_SetGetDelete(t *testing.T) {
	r := setupTestRedis(t)
	defer r.Close()

	ctx := context.Background()
	key := "quote:AAPL"
	defer r.Delete(ctx, key)

	if err := r.Set(ctx, key, []byte(`{"symbol":"AAPL"}`), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, err := r.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(value) != `{"symbol":"AAPL"}` {
		t.Errorf("Unexpected value %s", value)
	}

	ttl, err := r.TTL(ctx, key)
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("Unexpected ttl %v", ttl)
	}

	if err := r.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := r.Get(ctx, key); !cache.IsNotFound(err) {
		t.Errorf("Expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestRedisCache_NoExpiry(t *testing.T) {
	r := setupTestRedis(t)
	defer r.Close()

	ctx := context.Background()
	key := "quote:MSFT"
	defer r.Delete(ctx, key)

	if err := r.Set(ctx, key, []byte("x"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	ttl, err := r.TTL(ctx, key)
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl != -1 {
		t.Errorf("Expected no expiry, got %v", ttl)
	}
}

func TestRedisCache_InvalidKey(t *testing.T) {
	r := setupTestRedis(t)
	defer r.Close()

	if err := r.Set(context.Background(), "", []byte("x"), 0); err == nil {
		t.Error("Expected invalid key error")
	}
}
