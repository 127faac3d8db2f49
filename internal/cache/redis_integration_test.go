//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/opensource-finance/collector/internal/domain"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start redis: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to resolve redis endpoint: %v", err)
	}
	return endpoint
}

func TestTwoPhaseCacheAgainstRedis(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()

	c, err := NewTwoPhaseCache(domain.CacheConfig{RedisAddr: addr, LocalMaxSize: 10, LocalTTL: time.Minute})
	if err != nil {
		t.Fatalf("NewTwoPhaseCache failed: %v", err)
	}
	defer c.Close()

	if err := c.Set(ctx, "metrics:dashboard", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Drop L1 so the read has to go to Redis and refill it.
	_ = c.local.Delete(ctx, "metrics:dashboard")
	val, err := c.Get(ctx, "metrics:dashboard")
	if err != nil || string(val) != "v1" {
		t.Fatalf("Get: val=%q err=%v", val, err)
	}
	if l1, _ := c.local.Get(ctx, "metrics:dashboard"); string(l1) != "v1" {
		t.Errorf("expected L1 refill, got %q", l1)
	}

	if err := c.Delete(ctx, "metrics:dashboard"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if val, _ := c.remote.Get(ctx, "metrics:dashboard"); val != nil {
		t.Error("expected key removed from redis")
	}
	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
