package dedup

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMarkSeenIdempotent(t *testing.T) {
	s := openTestStore(t)
	ts := float64(time.Now().Unix())

	first, err := s.MarkSeen("fmp", "item-1", ts)
	if err != nil {
		t.Fatalf("MarkSeen failed: %v", err)
	}
	if !first {
		t.Error("first MarkSeen should return true")
	}

	second, err := s.MarkSeen("fmp", "item-1", ts)
	if err != nil {
		t.Fatalf("MarkSeen failed: %v", err)
	}
	if second {
		t.Error("second MarkSeen should return false")
	}
}

func TestMarkSeenProviderNamespaced(t *testing.T) {
	s := openTestStore(t)
	ts := float64(time.Now().Unix())

	if ok, _ := s.MarkSeen("fmp", "same-id", ts); !ok {
		t.Error("fmp insert should succeed")
	}
	if ok, _ := s.MarkSeen("benzinga", "same-id", ts); !ok {
		t.Error("same id under a different provider should be a distinct key")
	}
}

func TestMarkSeenConcurrent(t *testing.T) {
	s := openTestStore(t)
	ts := float64(time.Now().Unix())

	const goroutines = 16
	results := make([]bool, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, err := s.MarkSeen("fmp", "contested", ts)
			if err != nil {
				t.Errorf("MarkSeen failed: %v", err)
				return
			}
			results[n] = ok
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, ok := range results {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("exactly one goroutine should win the insert, got %d", winners)
	}
}

func TestClusterTouch(t *testing.T) {
	s := openTestStore(t)

	count, prev, err := s.ClusterTouch("hash-a", 1000)
	if err != nil {
		t.Fatalf("ClusterTouch failed: %v", err)
	}
	if count != 1 {
		t.Errorf("first touch count = %d, want 1", count)
	}
	if prev != 0 {
		t.Errorf("first touch prev last_seen = %v, want 0", prev)
	}

	count, prev, err = s.ClusterTouch("hash-a", 2000)
	if err != nil {
		t.Fatalf("ClusterTouch failed: %v", err)
	}
	if count != 2 {
		t.Errorf("second touch count = %d, want 2", count)
	}
	if prev != 1000 {
		t.Errorf("second touch prev last_seen = %v, want 1000", prev)
	}
}

func TestKV(t *testing.T) {
	s := openTestStore(t)

	v, err := s.GetKV("missing")
	if err != nil {
		t.Fatalf("GetKV failed: %v", err)
	}
	if v != "" {
		t.Errorf("missing key = %q, want empty", v)
	}

	if err := s.SetKV("cursor", "1700000000"); err != nil {
		t.Fatalf("SetKV failed: %v", err)
	}
	if err := s.SetKV("cursor", "1700000099"); err != nil {
		t.Fatalf("SetKV overwrite failed: %v", err)
	}

	v, err = s.GetKV("cursor")
	if err != nil {
		t.Fatalf("GetKV failed: %v", err)
	}
	if v != "1700000099" {
		t.Errorf("cursor = %q, want 1700000099", v)
	}
}

func TestPruneSeenBoundary(t *testing.T) {
	s := openTestStore(t)
	now := float64(time.Now().Unix())

	if ok, _ := s.MarkSeen("fmp", "old", now-7200); !ok {
		t.Fatal("old insert failed")
	}
	if ok, _ := s.MarkSeen("fmp", "fresh", now-60); !ok {
		t.Fatal("fresh insert failed")
	}

	deleted, err := s.PruneSeen(3600)
	if err != nil {
		t.Fatalf("PruneSeen failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	// The pruned row can be re-inserted; the fresh one cannot.
	if ok, _ := s.MarkSeen("fmp", "old", now); !ok {
		t.Error("pruned key should be insertable again")
	}
	if ok, _ := s.MarkSeen("fmp", "fresh", now); ok {
		t.Error("unpruned key should still be a duplicate")
	}
}

func TestPruneZeroDeletesEverything(t *testing.T) {
	s := openTestStore(t)
	now := float64(time.Now().Unix())

	for i := 0; i < 5; i++ {
		s.MarkSeen("fmp", fmt.Sprintf("item-%d", i), now)
		s.ClusterTouch(fmt.Sprintf("hash-%d", i), now)
	}

	if _, err := s.PruneSeen(0); err != nil {
		t.Fatalf("PruneSeen(0) failed: %v", err)
	}
	if _, err := s.PruneClusters(0); err != nil {
		t.Fatalf("PruneClusters(0) failed: %v", err)
	}

	seen, _ := s.SeenCount()
	clusters, _ := s.ClusterCount()
	if seen != 0 || clusters != 0 {
		t.Errorf("after full prune: seen=%d clusters=%d, want 0/0", seen, clusters)
	}

	// And the counter restarts from scratch
	count, _, err := s.ClusterTouch("hash-0", now)
	if err != nil {
		t.Fatalf("ClusterTouch after reset failed: %v", err)
	}
	if count != 1 {
		t.Errorf("count after reset = %d, want 1", count)
	}
}

func TestPruneClustersAgeBased(t *testing.T) {
	s := openTestStore(t)
	now := float64(time.Now().Unix())

	s.ClusterTouch("stale", now-7200)
	s.ClusterTouch("live", now-60)

	deleted, err := s.PruneClusters(3600)
	if err != nil {
		t.Fatalf("PruneClusters failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	// The surviving cluster keeps its count
	count, _, _ := s.ClusterTouch("live", now)
	if count != 2 {
		t.Errorf("live cluster count = %d, want 2", count)
	}
}
