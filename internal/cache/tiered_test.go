package cache

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"artifactd/internal/provider"
	"artifactd/internal/sealer"
	"artifactd/pkg/types"
)

func newTestTiered(t *testing.T, cfg Config) *Tiered {
	t.Helper()
	cfg.Log = zerolog.Nop()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func handleOf(id string, size int, freed *atomic.Int32) types.Handle {
	var onFree func()
	if freed != nil {
		onFree = func() { freed.Add(1) }
	}
	return provider.NewBytesHandle(id, types.VariantFull, make([]byte, size), onFree)
}

func localKey(id string) Key {
	return Key{ID: id, Variant: types.VariantFull, Provider: types.ProviderLocal}
}

func TestTieredPutGet(t *testing.T) {
	c := newTestTiered(t, Config{})
	c.Put(localKey("a"), handleOf("a", 64, nil), 0)

	h, ok := c.Get(localKey("a"))
	if !ok {
		t.Fatal("miss after Put")
	}
	if h.ArtifactID() != "a" || h.SizeBytes() != 64 {
		t.Fatalf("wrong handle: %s/%d", h.ArtifactID(), h.SizeBytes())
	}
	if _, ok := c.Get(localKey("b")); ok {
		t.Fatal("hit for never-inserted id")
	}
	if got := c.UsedBytes(); got != 64 {
		t.Fatalf("UsedBytes = %d, want 64", got)
	}
}

func TestTieredGetBumpsUsage(t *testing.T) {
	c := newTestTiered(t, Config{})
	c.Put(localKey("a"), handleOf("a", 8, nil), 0)
	for i := 0; i < 3; i++ {
		if _, ok := c.Get(localKey("a")); !ok {
			t.Fatal("miss")
		}
	}
	s := c.Stats()
	if len(s.Resident) != 1 || s.Resident[0].UsageCount != 4 {
		t.Fatalf("stats = %+v, want usage 4", s.Resident)
	}
}

func TestTieredReplaceReleasesOldHandle(t *testing.T) {
	var freed atomic.Int32
	c := newTestTiered(t, Config{})
	c.Put(localKey("a"), handleOf("a", 100, &freed), 0)
	c.Put(localKey("a"), handleOf("a", 40, &freed), 0)

	if freed.Load() != 1 {
		t.Fatalf("old handle freed %d times, want 1", freed.Load())
	}
	if got := c.UsedBytes(); got != 40 {
		t.Fatalf("UsedBytes = %d after replace, want 40", got)
	}
}

func TestTieredSoftLimitEvictsLRU(t *testing.T) {
	var freed atomic.Int32
	c := newTestTiered(t, Config{SoftLimitBytes: 250, Strategy: &LRU{}})
	c.Put(localKey("a"), handleOf("a", 100, &freed), 0)
	time.Sleep(2 * time.Millisecond)
	c.Put(localKey("b"), handleOf("b", 100, &freed), 0)
	time.Sleep(2 * time.Millisecond)
	// Touch a so b becomes the LRU victim.
	c.Get(localKey("a"))
	c.Put(localKey("c"), handleOf("c", 100, &freed), 0)

	if c.Resident("b") {
		t.Fatal("LRU victim b still resident")
	}
	if !c.Resident("a") || !c.Resident("c") {
		t.Fatal("wrong entry evicted")
	}
	if freed.Load() != 1 {
		t.Fatalf("%d handles freed, want 1", freed.Load())
	}
	if got := c.UsedBytes(); got > 250 {
		t.Fatalf("UsedBytes = %d exceeds soft limit", got)
	}
}

func TestTieredHardLimitEnforcedWithoutSoftLimit(t *testing.T) {
	var freed atomic.Int32
	c := newTestTiered(t, Config{HardLimitBytes: 250, Strategy: &LRU{}})
	for _, id := range []string{"a", "b", "c"} {
		c.Put(localKey(id), handleOf(id, 100, &freed), 0)
		if got := c.UsedBytes(); got > 250 {
			t.Fatalf("UsedBytes = %d exceeds hard limit after %s", got, id)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if c.Resident("a") {
		t.Fatal("oldest entry a survived hard-limit eviction")
	}
	if !c.Resident("b") || !c.Resident("c") {
		t.Fatal("wrong entry evicted")
	}
	if freed.Load() != 1 {
		t.Fatalf("%d handles freed, want 1", freed.Load())
	}
}

func TestTieredHardLimitKeepsSoleFreshInsert(t *testing.T) {
	c := newTestTiered(t, Config{HardLimitBytes: 50})
	c.Put(localKey("big"), handleOf("big", 200, nil), 0)
	if !c.Resident("big") {
		t.Fatal("sole oversized entry evicted itself")
	}
}

func TestTieredFreshInsertNotSelfEvicted(t *testing.T) {
	c := newTestTiered(t, Config{SoftLimitBytes: 50, Strategy: &LRU{}})
	// Oversized single entry: nothing else to evict, so it stays.
	c.Put(localKey("big"), handleOf("big", 200, nil), 0)
	if !c.Resident("big") {
		t.Fatal("sole oversized entry evicted itself")
	}
}

func TestTieredTTLExpiryOnGet(t *testing.T) {
	var freed atomic.Int32
	c := newTestTiered(t, Config{})
	c.Put(localKey("a"), handleOf("a", 8, &freed), 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)

	if _, ok := c.Get(localKey("a")); ok {
		t.Fatal("expired entry served")
	}
	if freed.Load() != 1 {
		t.Fatalf("expired handle freed %d times, want 1", freed.Load())
	}
}

func TestTieredSweepExpired(t *testing.T) {
	c := newTestTiered(t, Config{})
	c.Put(localKey("short"), handleOf("short", 8, nil), 10*time.Millisecond)
	c.Put(localKey("long"), handleOf("long", 8, nil), time.Hour)
	time.Sleep(25 * time.Millisecond)

	if n := c.SweepExpired(); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if c.Resident("short") || !c.Resident("long") {
		t.Fatal("wrong entry swept")
	}
}

func TestTieredEvictRemovesBothTiers(t *testing.T) {
	dir := t.TempDir()
	var freed atomic.Int32
	c := newTestTiered(t, Config{
		Disk: &DiskConfig{Dir: dir, Sealer: sealer.NewFromPassphrase("t")},
	})
	c.Put(localKey("a"), handleOf("a", 64, &freed), time.Hour)
	waitForDiskRecords(t, c.disk, 1)

	if !c.Evict("a") {
		t.Fatal("Evict returned false for resident entry")
	}
	if freed.Load() != 1 {
		t.Fatalf("handle freed %d times, want 1", freed.Load())
	}
	if recs, _ := c.disk.stats(); recs != 0 {
		t.Fatalf("%d disk records remain after Evict", recs)
	}
	if c.Evict("a") {
		t.Fatal("second Evict reported success")
	}
}

func TestTieredDiskRehydration(t *testing.T) {
	dir := t.TempDir()
	passphrase := "rehydrate"
	c := newTestTiered(t, Config{
		Disk: &DiskConfig{Dir: dir, Sealer: sealer.NewFromPassphrase(passphrase)},
	})
	c.Put(localKey("a"), handleOf("a", 128, nil), time.Hour)
	waitForDiskRecords(t, c.disk, 1)
	c.Close()

	// Fresh cache over the same directory: memory tier empty, record on
	// disk survives and rehydrates.
	c2 := newTestTiered(t, Config{
		Disk: &DiskConfig{Dir: dir, Sealer: sealer.NewFromPassphrase(passphrase)},
	})
	h, ok := c2.Get(localKey("a"))
	if !ok {
		t.Fatal("disk record not rehydrated")
	}
	if h.SizeBytes() != 128 {
		t.Fatalf("rehydrated size = %d, want 128", h.SizeBytes())
	}
	if !c2.Resident("a") {
		t.Fatal("rehydrated entry not placed in memory tier")
	}
}

func TestTieredZeroTTLSkipsWriteThrough(t *testing.T) {
	dir := t.TempDir()
	c := newTestTiered(t, Config{
		Disk: &DiskConfig{Dir: dir, Sealer: sealer.NewFromPassphrase("t")},
	})
	c.Put(localKey("a"), handleOf("a", 64, nil), 0)
	c.Close()
	if recs, _ := c.disk.stats(); recs != 0 {
		t.Fatalf("zero-TTL entry written to disk, %d records", recs)
	}
}

func TestTieredEvictLeastValuable(t *testing.T) {
	var freed atomic.Int32
	c := newTestTiered(t, Config{Strategy: &LRU{}})
	c.Put(localKey("a"), handleOf("a", 100, &freed), 0)
	time.Sleep(2 * time.Millisecond)
	c.Put(localKey("b"), handleOf("b", 100, &freed), 0)
	time.Sleep(2 * time.Millisecond)
	c.Put(localKey("c"), handleOf("c", 100, &freed), 0)

	n := c.EvictLeastValuable(150)
	if n < 150 {
		t.Fatalf("freed %d bytes, want >= 150", n)
	}
	if c.Resident("a") || c.Resident("b") {
		t.Fatal("older entries survived pressure eviction")
	}
	if !c.Resident("c") {
		t.Fatal("newest entry evicted needlessly")
	}
}

func TestTieredEvictLeastValuableDrainsFully(t *testing.T) {
	c := newTestTiered(t, Config{})
	c.Put(localKey("a"), handleOf("a", 100, nil), 0)
	if n := c.EvictLeastValuable(1 << 30); n != 100 {
		t.Fatalf("freed %d, want 100", n)
	}
	if n := c.EvictLeastValuable(1); n != 0 {
		t.Fatalf("freed %d from empty tier", n)
	}
}

func waitForDiskRecords(t *testing.T, d *diskTier, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if recs, _ := d.stats(); recs >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("disk tier never reached %d records", want)
}
