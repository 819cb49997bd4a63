//go:build integration
// +build integration

package cache

import (
	"context"
	"testing"
	"time"
)

// TestMemcachedCache_GetSet_Integration verifies that MemcachedCache successfully
// stores and retrieves a city series when a memcached server is available.
func TestMemcachedCache_GetSet_Integration(t *testing.T) {
	c, err := NewMemcachedCache("localhost:11211", 500*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("NewMemcachedCache() error = %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	val := seriesFixture("Riyadh", 6)
	if err := c.Set(ctx, "riyadh|1", val, time.Minute); err != nil {
		t.Skipf("Set failed (memcached may not be running): %v", err)
	}

	got, ok, err := c.Get(ctx, "riyadh|1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got.City != val.City || len(got.Rows) != len(val.Rows) {
		t.Errorf("Get() = city %q with %d rows, want city %q with %d rows",
			got.City, len(got.Rows), val.City, len(val.Rows))
	}
}

// TestMemcachedCache_Get_Miss_Integration verifies that MemcachedCache returns
// ok=false when the requested key does not exist in memcached.
func TestMemcachedCache_Get_Miss_Integration(t *testing.T) {
	c, err := NewMemcachedCache("localhost:11211", 500*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("NewMemcachedCache() error = %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	_, ok, err := c.Get(ctx, "nonexistent|1")
	if err != nil {
		t.Skipf("Get failed (memcached may not be running): %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestMemcachedCache_Delete_Integration verifies that a deleted key is no
// longer served.
func TestMemcachedCache_Delete_Integration(t *testing.T) {
	c, err := NewMemcachedCache("localhost:11211", 500*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("NewMemcachedCache() error = %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Set(ctx, "jeddah|2", seriesFixture("Jeddah", 4), time.Minute); err != nil {
		t.Skipf("Set failed (memcached may not be running): %v", err)
	}
	if err := c.Delete(ctx, "jeddah|2"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	_, ok, err := c.Get(ctx, "jeddah|2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true after Delete, want false")
	}
}
