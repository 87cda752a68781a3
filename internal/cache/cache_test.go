package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestCache(maxEntries int) *Cache {
	return New(Config{
		MaxEntries:     maxEntries,
		FuzzyThreshold: 0.62,
		FuzzyScanLimit: 64,
		FuzzyMaxLen:    80,
	})
}

func TestStoreLookup_Exact(t *testing.T) {
	c := newTestCache(100)

	c.Store("Hello world", "en", "id", "Halo dunia")

	res, ok := c.Lookup("Hello world", "en", "id")
	if !ok {
		t.Fatal("Expected exact hit after store")
	}
	if res.Translation != "Halo dunia" {
		t.Errorf("Expected 'Halo dunia', got '%s'", res.Translation)
	}
	if res.Fuzzy {
		t.Error("Expected exact hit, got fuzzy")
	}
	if res.Similarity != 1.0 {
		t.Errorf("Expected similarity 1.0, got %f", res.Similarity)
	}
}

func TestLookup_NormalizesKey(t *testing.T) {
	c := newTestCache(100)

	c.Store("Hello   World", "en", "id", "Halo dunia")

	if _, ok := c.Lookup("  hello world ", "en", "id"); !ok {
		t.Error("Expected case/whitespace-folded lookup to hit")
	}
}

func TestLookup_LanguagePairIsolation(t *testing.T) {
	c := newTestCache(100)

	c.Store("hello world", "en", "id", "Halo dunia")

	if _, ok := c.Lookup("hello world", "en", "fr"); ok {
		t.Error("Expected miss for a different language pair")
	}
}

func TestLookup_FuzzyHit(t *testing.T) {
	c := newTestCache(100)

	c.Store("how are you today my friend", "en", "id", "apa kabar hari ini teman")

	// Near-duplicate: one filler word dropped
	res, ok := c.Lookup("how are you today friend", "en", "id")
	if !ok {
		t.Fatal("Expected fuzzy hit for near-duplicate text")
	}
	if !res.Fuzzy {
		t.Error("Expected hit to be marked fuzzy")
	}
	if res.Translation != "apa kabar hari ini teman" {
		t.Errorf("Expected cached translation, got '%s'", res.Translation)
	}
	if res.Similarity < 0.62 {
		t.Errorf("Expected similarity at or above threshold, got %f", res.Similarity)
	}
}

func TestLookup_FuzzyBelowThresholdMisses(t *testing.T) {
	c := newTestCache(100)

	c.Store("good morning everyone", "en", "id", "selamat pagi semua")

	if _, ok := c.Lookup("completely different sentence here", "en", "id"); ok {
		t.Error("Expected miss when no candidate meets the threshold")
	}
}

func TestLookup_FuzzyRespectsLanguagePair(t *testing.T) {
	c := newTestCache(100)

	c.Store("how are you today my friend", "en", "id", "apa kabar")

	if _, ok := c.Lookup("how are you today friend", "en", "fr"); ok {
		t.Error("Expected fuzzy path to only scan the query's language pair")
	}
}

func TestStore_BoundedWithLRUEviction(t *testing.T) {
	// 32 max entries = 2 per shard; fill well past capacity
	c := New(Config{MaxEntries: 32, FuzzyThreshold: 0, FuzzyScanLimit: 1, FuzzyMaxLen: 1})

	for i := 0; i < 500; i++ {
		c.Store(fmt.Sprintf("sentence number %d", i), "en", "id", fmt.Sprintf("kalimat %d", i))
	}

	if n := c.Len(); n > 32 {
		t.Errorf("Expected at most 32 entries, got %d", n)
	}

	stats := c.Stats()
	if stats.Evictions == 0 {
		t.Error("Expected evictions under pressure")
	}
}

func TestStore_BoundHoldsForNonDivisibleMax(t *testing.T) {
	// Capacities that do not divide evenly across shards must still bound
	// the global entry count.
	for _, max := range []int{1, 5, 17, 33, 100} {
		c := New(Config{MaxEntries: max, FuzzyThreshold: 0, FuzzyScanLimit: 1, FuzzyMaxLen: 1})

		for i := 0; i < 2000; i++ {
			c.Store(fmt.Sprintf("distinct sentence %d", i), "en", "id", "kalimat")
		}

		if n := c.Len(); n > max {
			t.Errorf("MaxEntries %d: cache holds %d entries", max, n)
		}
	}
}

func TestStore_EvictsLeastRecentlyUsedFirst(t *testing.T) {
	// Fill far past per-shard capacity and check the continually refreshed
	// entry survives while stale fillers are evicted.
	c := New(Config{MaxEntries: 160, FuzzyThreshold: 0, FuzzyScanLimit: 1, FuzzyMaxLen: 1})

	c.Store("keep me around", "en", "id", "simpan saya")

	for i := 0; i < 200; i++ {
		// Refresh recency of the protected entry while inserting pressure
		c.Lookup("keep me around", "en", "id")
		c.Store(fmt.Sprintf("filler sentence %d", i), "en", "id", "x")
	}

	if _, ok := c.Lookup("keep me around", "en", "id"); !ok {
		t.Error("Expected recently-used entry to survive eviction pressure")
	}
}

func TestStore_ReplaceExisting(t *testing.T) {
	c := newTestCache(100)

	c.Store("hello", "en", "id", "halo one")
	c.Store("hello", "en", "id", "halo two")

	res, ok := c.Lookup("hello", "en", "id")
	if !ok {
		t.Fatal("Expected hit")
	}
	if res.Translation != "halo two" {
		t.Errorf("Expected replacement to win, got '%s'", res.Translation)
	}
	if c.Len() != 1 {
		t.Errorf("Expected one entry per key, got %d", c.Len())
	}
}

func TestLookup_EmptyText(t *testing.T) {
	c := newTestCache(100)

	if _, ok := c.Lookup("   ", "en", "id"); ok {
		t.Error("Expected miss for blank text")
	}
	c.Store("   ", "en", "id", "x")
	if c.Len() != 0 {
		t.Error("Expected blank text not stored")
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := newTestCache(200)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				text := fmt.Sprintf("worker %d sentence %d", worker, i%20)
				c.Store(text, "en", "id", "terjemahan")
				c.Lookup(text, "en", "id")
			}
		}(w)
	}
	wg.Wait()

	if n := c.Len(); n > 200 {
		t.Errorf("Expected bounded size under concurrency, got %d", n)
	}
}

func TestStats(t *testing.T) {
	c := newTestCache(100)

	c.Store("hello world", "en", "id", "halo dunia")
	c.Lookup("hello world", "en", "id")
	c.Lookup("never stored text", "en", "id")

	stats := c.Stats()
	if stats.Hits != 1 {
		t.Errorf("Expected 1 hit, got %d", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Expected 1 miss, got %d", stats.Misses)
	}
	if stats.Entries != 1 {
		t.Errorf("Expected 1 entry, got %d", stats.Entries)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("Expected hit rate 0.5, got %f", stats.HitRate)
	}
}

func TestLoadSeedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.txt")

	content := "# warm entries\n" +
		"hello my name is Fahdin|id|en|halo nama saya Fahdin\n" +
		"\n" +
		"good morning everyone|en|id|selamat pagi semua\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	c := newTestCache(100)
	loaded, err := c.LoadSeedFile(path)
	if err != nil {
		t.Fatalf("LoadSeedFile failed: %v", err)
	}
	if loaded != 2 {
		t.Errorf("Expected 2 seeded entries, got %d", loaded)
	}

	if _, ok := c.Lookup("good morning everyone", "en", "id"); !ok {
		t.Error("Expected seeded entry to be retrievable")
	}
}

func TestLoadSeedFile_Missing(t *testing.T) {
	c := newTestCache(100)

	loaded, err := c.LoadSeedFile("/nonexistent/seed.txt")
	if err != nil {
		t.Errorf("Expected missing seed file to be tolerated, got %v", err)
	}
	if loaded != 0 {
		t.Errorf("Expected 0 entries loaded, got %d", loaded)
	}
}

func TestTokenOverlap(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"hello world", "hello world", 1.0},
		{"hello world", "goodbye moon", 0.0},
		{"a b c d", "a b c", 0.75},
		{"", "hello", 0.0},
	}

	for _, tt := range tests {
		got := tokenOverlap(strings.Fields(tt.a), strings.Fields(tt.b))
		if got != tt.want {
			t.Errorf("tokenOverlap(%q, %q) = %f, want %f", tt.a, tt.b, got, tt.want)
		}
	}
}
