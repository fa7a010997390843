package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantpulse/newsstack/internal/config"
	"github.com/quantpulse/newsstack/internal/dedup"
	"github.com/quantpulse/newsstack/internal/news"
	"github.com/quantpulse/newsstack/internal/providers"
)

// stubProvider returns canned items or a canned error.
type stubProvider struct {
	name  string
	items []news.Item
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Fetch(ctx context.Context) ([]news.Item, error) {
	s.calls++
	return s.items, s.err
}

var _ providers.Provider = (*stubProvider)(nil)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		KeepSeenSeconds:     3600,
		KeepClustersSeconds: 3600,
		PruneEveryCycles:    0, // disabled unless a test needs it
		ExportPath:          filepath.Join(t.TempDir(), "export.json"),
		ExportTopN:          10,
	}
}

func testStore(t *testing.T) *dedup.Store {
	t.Helper()
	s, err := dedup.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testItem(provider, id, headline string, tickers ...string) news.Item {
	now := float64(time.Now().Unix())
	return news.Item{
		Provider:    provider,
		ItemID:      id,
		PublishedTS: now,
		UpdatedTS:   now,
		Headline:    headline,
		Tickers:     tickers,
		Source:      provider,
	}
}

func TestRunCycleDedupsRepeatedPayloads(t *testing.T) {
	prov := &stubProvider{name: "fmp_stock_latest", items: []news.Item{
		testItem("fmp_stock_latest", "id-1", "Acme beats estimates", "ACME"),
	}}
	p := New(testConfig(t), testStore(t), []providers.Provider{prov}, nil)

	first := p.RunCycle(context.Background())
	if first.Ingested != 1 {
		t.Fatalf("first cycle ingested = %d, want 1", first.Ingested)
	}

	// Same payload again: the duplicate must contribute nothing.
	second := p.RunCycle(context.Background())
	if second.Ingested != 0 {
		t.Errorf("second cycle ingested = %d, want 0", second.Ingested)
	}
	if len(second.Merged) != 1 {
		t.Errorf("best-by-key should still hold the original item, got %d", len(second.Merged))
	}
}

func TestRunCycleSharedClusterAcrossProviders(t *testing.T) {
	store := testStore(t)
	a := &stubProvider{name: "fmp_stock_latest", items: []news.Item{
		testItem("fmp_stock_latest", "a-1", "Widget Co to acquire Acme", "WDGT", "ACME"),
	}}
	b := &stubProvider{name: "benzinga_rest", items: []news.Item{
		testItem("benzinga_rest", "b-1", "Widget Co To Acquire  Acme", "ACME", "WDGT"),
	}}
	p := New(testConfig(t), store, []providers.Provider{a, b}, nil)

	result := p.RunCycle(context.Background())
	if result.Ingested != 2 {
		t.Fatalf("ingested = %d, want 2 distinct (provider,item_id) entries", result.Ingested)
	}

	seen, _ := store.SeenCount()
	if seen != 2 {
		t.Errorf("seen rows = %d, want 2", seen)
	}
	clusters, _ := store.ClusterCount()
	if clusters != 1 {
		t.Errorf("cluster rows = %d, want 1 shared cluster", clusters)
	}

	// Both providers landed in the same cluster, so the merged winner for
	// either ticker carries a hit count of 2 behind it: whichever item was
	// scored second got strictly lower novelty, hence a lower score, and
	// the first-scored item won the merge.
	merged := p.Best()
	if len(merged) == 0 {
		t.Fatal("expected merged items")
	}
	count, _, err := store.ClusterTouch(merged[0].Score.ClusterHash, float64(time.Now().Unix()))
	if err != nil {
		t.Fatalf("cluster probe failed: %v", err)
	}
	if count != 3 { // 2 from the cycle + this probe
		t.Errorf("cluster hit count = %d, want 3 after probe", count)
	}
}

func TestRunCyclePartialFailure(t *testing.T) {
	failing := &stubProvider{name: "fmp_stock_latest", err: errors.New("boom")}
	healthy := &stubProvider{name: "benzinga_rest", items: []news.Item{
		testItem("benzinga_rest", "b-1", "Headline one", "AAA"),
		testItem("benzinga_rest", "b-2", "Headline two", "BBB"),
		testItem("benzinga_rest", "b-3", "Headline three", "CCC"),
	}}
	cfg := testConfig(t)
	p := New(cfg, testStore(t), []providers.Provider{failing, healthy}, nil)

	result := p.RunCycle(context.Background())
	if result.Err != nil {
		t.Fatalf("cycle error = %v, want nil (fetch failures are per-source)", result.Err)
	}
	if result.Ingested != 3 {
		t.Errorf("ingested = %d, want healthy provider's 3", result.Ingested)
	}
	if sr := result.Sources["fmp_stock_latest"]; sr.Err == nil {
		t.Error("failing provider's error should be recorded")
	}
	if len(result.Merged) != 3 {
		t.Errorf("merged = %d, want 3", len(result.Merged))
	}

	// The export still reflects the successful portion of the cycle.
	data, err := os.ReadFile(cfg.ExportPath)
	if err != nil {
		t.Fatalf("export not written: %v", err)
	}
	var doc Export
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("export not valid JSON: %v", err)
	}
	if len(doc.Items) != 3 {
		t.Errorf("exported items = %d, want 3", len(doc.Items))
	}
}

func TestMergeKeepsHighestScorePerKey(t *testing.T) {
	weak := testItem("fmp_stock_latest", "w-1", "Company appoints new head of marketing", "ACME")
	strong := testItem("benzinga_rest", "s-1", "Trading halted in Acme shares", "ACME")
	prov := &stubProvider{name: "multi", items: []news.Item{weak, strong}}
	p := New(testConfig(t), testStore(t), []providers.Provider{prov}, nil)

	p.RunCycle(context.Background())

	best := p.Best()
	if len(best) != 1 {
		t.Fatalf("best entries = %d, want 1 (one per ticker)", len(best))
	}
	if best[0].Item.ItemID != "s-1" {
		t.Errorf("winner = %s, want the halt headline", best[0].Item.ItemID)
	}
}

func TestMergeTieBreakDeterministic(t *testing.T) {
	now := float64(time.Now().Unix())
	// Two distinct "other"-category headlines with no numeric tokens score
	// identically at cluster count 1. Same ticker, same update time: the
	// lexicographically smaller provider must win regardless of arrival
	// order.
	a := news.Item{Provider: "aaa_feed", ItemID: "1", Headline: "Company appoints new head of marketing", Tickers: []string{"TICK"}, PublishedTS: now, UpdatedTS: now}
	b := news.Item{Provider: "zzz_feed", ItemID: "2", Headline: "Company names new marketing chief", Tickers: []string{"TICK"}, PublishedTS: now, UpdatedTS: now}

	for _, order := range [][]news.Item{{a, b}, {b, a}} {
		p := New(testConfig(t), testStore(t), []providers.Provider{&stubProvider{name: "x", items: order}}, nil)
		p.RunCycle(context.Background())
		best := p.Best()
		if len(best) != 1 {
			t.Fatalf("best entries = %d, want 1", len(best))
		}
		if best[0].Item.Provider != "aaa_feed" {
			t.Errorf("tie-break winner = %s, want aaa_feed", best[0].Item.Provider)
		}
	}
}

func TestPruneBestDropsMissingTimestamps(t *testing.T) {
	noTS := news.Item{Provider: "fmp_stock_latest", ItemID: "n-1", Headline: "Timeless story", Tickers: []string{"ACME"}}
	prov := &stubProvider{name: "fmp_stock_latest", items: []news.Item{noTS}}
	p := New(testConfig(t), testStore(t), []providers.Provider{prov}, nil)

	result := p.RunCycle(context.Background())
	if result.Ingested != 1 {
		t.Fatalf("ingested = %d, want 1", result.Ingested)
	}
	// An entry without a timestamp is immediately stale: never retained.
	if len(result.Merged) != 0 {
		t.Errorf("merged = %d, want 0 (missing timestamp is stale)", len(result.Merged))
	}
}

func TestItemWithoutIdentityDiscarded(t *testing.T) {
	anon := news.Item{Provider: "fmp_stock_latest", Headline: "Who am I", PublishedTS: 1, UpdatedTS: 1}
	prov := &stubProvider{name: "fmp_stock_latest", items: []news.Item{anon}}
	p := New(testConfig(t), testStore(t), []providers.Provider{prov}, nil)

	result := p.RunCycle(context.Background())
	if result.Ingested != 0 {
		t.Errorf("ingested = %d, want 0", result.Ingested)
	}
}

func TestCursorAdvancesOnlyOnRealTimestamps(t *testing.T) {
	store := testStore(t)
	noTS := news.Item{Provider: "fmp_stock_latest", ItemID: "n-1", Headline: "No time"}
	prov := &stubProvider{name: "fmp_stock_latest", items: []news.Item{noTS}}
	p := New(testConfig(t), store, []providers.Provider{prov}, nil)

	p.RunCycle(context.Background())
	if cursor := p.Cursor(); cursor != "" {
		t.Errorf("cursor = %q, want empty (0.0 timestamps never advance it)", cursor)
	}

	prov.items = []news.Item{testItem("fmp_stock_latest", "t-1", "Has time", "ACME")}
	p.RunCycle(context.Background())
	if cursor := p.Cursor(); cursor == "" {
		t.Error("cursor should advance after a timestamped item")
	}
}

func TestExportTopN(t *testing.T) {
	cfg := testConfig(t)
	cfg.ExportTopN = 2
	var items []news.Item
	for i := 0; i < 5; i++ {
		items = append(items, testItem("fmp_stock_latest", fmt.Sprintf("id-%d", i), fmt.Sprintf("Headline %d", i), fmt.Sprintf("TK%d", i)))
	}
	p := New(cfg, testStore(t), []providers.Provider{&stubProvider{name: "fmp_stock_latest", items: items}}, nil)

	p.RunCycle(context.Background())

	data, err := os.ReadFile(cfg.ExportPath)
	if err != nil {
		t.Fatalf("export not written: %v", err)
	}
	var doc Export
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("export not valid JSON: %v", err)
	}
	if len(doc.Items) != 2 {
		t.Errorf("exported items = %d, want top 2", len(doc.Items))
	}
	if len(doc.Sources) != 1 || doc.Sources[0] != "fmp_stock_latest" {
		t.Errorf("export sources = %v", doc.Sources)
	}
	if doc.GeneratedAt == "" {
		t.Error("export missing generated_at")
	}
}
