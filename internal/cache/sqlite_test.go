package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newSQLiteForTest(t *testing.T) *SQLiteCache {
	t.Helper()
	c, err := NewSQLiteCache(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteCache() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSQLiteCache_GetSet(t *testing.T) {
	c := newSQLiteForTest(t)
	ctx := context.Background()
	val := seriesFixture("Riyadh", 6)

	if err := c.Set(ctx, "riyadh|1", val, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "riyadh|1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got.City != val.City {
		t.Errorf("Get() city = %q, want %q", got.City, val.City)
	}
	if len(got.Rows) != len(val.Rows) {
		t.Fatalf("Get() returned %d rows, want %d", len(got.Rows), len(val.Rows))
	}
	if got.Rows[2].Temperature != val.Rows[2].Temperature {
		t.Errorf("Get() row[2].Temperature = %v, want %v", got.Rows[2].Temperature, val.Rows[2].Temperature)
	}
}

func TestSQLiteCache_Get_Miss(t *testing.T) {
	c := newSQLiteForTest(t)

	_, ok, err := c.Get(context.Background(), "nonexistent|1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

func TestSQLiteCache_Get_Expired(t *testing.T) {
	c := newSQLiteForTest(t)
	ctx := context.Background()

	if err := c.Set(ctx, "jeddah|1", seriesFixture("Jeddah", 3), time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	_, ok, err := c.Get(ctx, "jeddah|1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true after TTL elapsed, want false")
	}
}

func TestSQLiteCache_Delete(t *testing.T) {
	c := newSQLiteForTest(t)
	ctx := context.Background()

	if err := c.Set(ctx, "dammam|2", seriesFixture("Dammam", 4), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := c.Delete(ctx, "dammam|2"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	_, ok, err := c.Get(ctx, "dammam|2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true after Delete, want false")
	}

	// Deleting a missing key is a no-op.
	if err := c.Delete(ctx, "nonexistent|2"); err != nil {
		t.Errorf("Delete() of missing key error = %v, want nil", err)
	}
}

func TestSQLiteCache_Overwrite(t *testing.T) {
	c := newSQLiteForTest(t)
	ctx := context.Background()

	if err := c.Set(ctx, "abha|3", seriesFixture("Abha", 3), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := c.Set(ctx, "abha|3", seriesFixture("Abha", 8), time.Minute); err != nil {
		t.Fatalf("second Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "abha|3")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if len(got.Rows) != 8 {
		t.Errorf("Get() returned %d rows, want 8 from the second Set", len(got.Rows))
	}
}

func TestSQLiteCache_Ping(t *testing.T) {
	c := newSQLiteForTest(t)

	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v, want nil", err)
	}
}

func TestSQLiteCache_EmptyPath(t *testing.T) {
	if _, err := NewSQLiteCache(""); err == nil {
		t.Error("NewSQLiteCache(\"\") error = nil, want non-nil")
	}
}

func TestSQLiteCache_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	first, err := NewSQLiteCache(path)
	if err != nil {
		t.Fatalf("NewSQLiteCache() error = %v", err)
	}
	if err := first.Set(ctx, "riyadh|3", seriesFixture("Riyadh", 5), time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second, err := NewSQLiteCache(path)
	if err != nil {
		t.Fatalf("reopen NewSQLiteCache() error = %v", err)
	}
	defer second.Close()

	got, ok, err := second.Get(ctx, "riyadh|3")
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if !ok {
		t.Fatal("Get() after reopen ok = false, want true")
	}
	if got.City != "Riyadh" || len(got.Rows) != 5 {
		t.Errorf("Get() after reopen = city %q with %d rows, want Riyadh with 5", got.City, len(got.Rows))
	}
}
