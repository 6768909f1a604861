package ledger

import (
	"context"
	"path/filepath"
	"testing"
)

func TestCache_WarmAvoidsBackendRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	backend := NewGOBLedger(filepath.Join(tmpDir, "ledger.gob"))
	ctx := context.Background()

	if err := backend.Record(ctx, "proj1", "abc", "/a"); err != nil {
		t.Fatal(err)
	}

	cache := NewCache(backend)
	if err := cache.Warm(ctx, "proj1"); err != nil {
		t.Fatalf("warm failed: %v", err)
	}

	ok, err := cache.Contains(ctx, "proj1", "abc")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("warmed cache missing recorded entry")
	}

	ok, err = cache.Contains(ctx, "proj1", "zzz")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("cache reported unknown fingerprint as present")
	}
}

func TestCache_RecordWritesThrough(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "ledger.gob")
	backend := NewGOBLedger(path)
	ctx := context.Background()

	cache := NewCache(backend)
	if err := cache.Warm(ctx, "proj1"); err != nil {
		t.Fatal(err)
	}

	if err := cache.Record(ctx, "proj1", "abc", "/a"); err != nil {
		t.Fatal(err)
	}

	ok, err := cache.Contains(ctx, "proj1", "abc")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("cache missing entry it just recorded")
	}

	// The durable store must also have it
	fresh := NewGOBLedger(path)
	if err := fresh.Open(ctx); err != nil {
		t.Fatal(err)
	}
	ok, _ = fresh.Contains(ctx, "proj1", "abc")
	if !ok {
		t.Error("record did not reach the durable backend")
	}
}

func TestCache_UnwarmedFallsThrough(t *testing.T) {
	tmpDir := t.TempDir()
	backend := NewGOBLedger(filepath.Join(tmpDir, "ledger.gob"))
	ctx := context.Background()

	if err := backend.Record(ctx, "proj1", "abc", "/a"); err != nil {
		t.Fatal(err)
	}

	cache := NewCache(backend)
	ok, err := cache.Contains(ctx, "proj1", "abc")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("unwarmed cache should consult the backend")
	}
}
