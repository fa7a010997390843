package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/quantpulse/newsstack/internal/news"
	"github.com/quantpulse/newsstack/internal/providers"
)

func newTestPoller(t *testing.T, prov providers.Provider, interval time.Duration, emptyReset int) *Poller {
	t.Helper()
	p := New(testConfig(t), testStore(t), []providers.Provider{prov}, nil)
	return NewPoller(p, interval, emptyReset)
}

func TestPollerStartStop(t *testing.T) {
	prov := &stubProvider{name: "fmp_stock_latest", items: []news.Item{
		testItem("fmp_stock_latest", "id-1", "Acme beats estimates", "ACME"),
	}}
	poller := newTestPoller(t, prov, time.Hour, 3)

	poller.Start("")
	poller.Start("") // second Start is a no-op

	deadline := time.After(2 * time.Second)
	for {
		if poller.Status().PollCount >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first cycle never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}

	poller.Stop()
	poller.Stop() // Stop is idempotent

	st := poller.Status()
	if st.Running {
		t.Error("status should report stopped")
	}
	if st.LastPollStatus != "OK" {
		t.Errorf("last poll status = %q, want OK", st.LastPollStatus)
	}
	if st.TotalItemsIngested != 1 {
		t.Errorf("total ingested = %d, want 1", st.TotalItemsIngested)
	}
}

func TestPollerStopInterruptsSleep(t *testing.T) {
	prov := &stubProvider{name: "fmp_stock_latest"}
	poller := newTestPoller(t, prov, time.Hour, 3)

	poller.Start("")
	start := time.Now()
	poller.Stop()

	// With a one-hour interval, a stop that waits for the tick would hang
	// here. It must return almost immediately.
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Stop took %v, should interrupt the sleep", elapsed)
	}
}

func TestPollerDrainFlattensOldestFirst(t *testing.T) {
	prov := &stubProvider{name: "fmp_stock_latest", items: []news.Item{
		testItem("fmp_stock_latest", "id-1", "Acme beats estimates", "ACME"),
	}}
	p := New(testConfig(t), testStore(t), []providers.Provider{prov}, nil)
	poller := NewPoller(p, time.Hour, 3)

	// Queue two batches by hand: Drain must flatten in order and empty the
	// queue atomically.
	poller.queue = [][]Scored{
		{{Item: news.Item{ItemID: "old"}}},
		{{Item: news.Item{ItemID: "new"}}},
	}

	out := poller.Drain()
	if len(out) != 2 {
		t.Fatalf("drained %d items, want 2", len(out))
	}
	if out[0].Item.ItemID != "old" || out[1].Item.ItemID != "new" {
		t.Errorf("order = [%s %s], want [old new]", out[0].Item.ItemID, out[1].Item.ItemID)
	}
	if again := poller.Drain(); len(again) != 0 {
		t.Errorf("second drain returned %d items, want 0", len(again))
	}
}

func TestPollerQueueEvictsOldestOnOverflow(t *testing.T) {
	prov := &stubProvider{name: "fmp_stock_latest"}
	p := New(testConfig(t), testStore(t), []providers.Provider{prov}, nil)
	poller := NewPoller(p, time.Hour, 1000)

	for i := 0; i < handoffCap; i++ {
		poller.queue = append(poller.queue, []Scored{{Item: news.Item{ItemID: fmt.Sprintf("batch-%d", i)}}})
	}

	// Push one more batch through a real cycle.
	prov.items = []news.Item{testItem("fmp_stock_latest", "overflow", "Acme beats estimates", "ACME")}
	poller.runOnce(context.Background())

	st := poller.Status()
	if st.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", st.Dropped)
	}

	out := poller.Drain()
	if len(out) != handoffCap {
		t.Fatalf("drained %d, want %d", len(out), handoffCap)
	}
	if out[0].Item.ItemID != "batch-1" {
		t.Errorf("oldest surviving batch = %s, want batch-1 (batch-0 evicted)", out[0].Item.ItemID)
	}
	if out[len(out)-1].Item.ItemID != "overflow" {
		t.Errorf("newest batch = %s, want overflow", out[len(out)-1].Item.ItemID)
	}
}

func TestPollerEmptyCycleReset(t *testing.T) {
	store := testStore(t)
	prov := &stubProvider{name: "fmp_stock_latest"}
	cfg := testConfig(t)
	p := New(cfg, store, []providers.Provider{prov}, nil)
	poller := NewPoller(p, time.Hour, 2)

	// Seed dedup state and a cursor that the reset must clear.
	if _, err := store.MarkSeen("fmp_stock_latest", "stale", 1000); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := store.SetKV("poll_cursor", "1700000000"); err != nil {
		t.Fatalf("cursor seed failed: %v", err)
	}

	poller.runOnce(context.Background()) // empty cycle 1
	if poller.Status().EmptyStreak != 1 {
		t.Fatalf("streak = %d, want 1", poller.Status().EmptyStreak)
	}

	poller.runOnce(context.Background()) // empty cycle 2: threshold hit

	st := poller.Status()
	if st.EmptyStreak != 0 {
		t.Errorf("streak = %d, want 0 after reset", st.EmptyStreak)
	}
	seen, _ := store.SeenCount()
	if seen != 0 {
		t.Errorf("seen rows = %d, want 0 after full prune", seen)
	}
	if cursor := p.Cursor(); cursor != "" {
		t.Errorf("cursor = %q, want cleared", cursor)
	}
}

func TestPollerSurvivesCycleError(t *testing.T) {
	prov := &stubProvider{name: "fmp_stock_latest", items: []news.Item{
		testItem("fmp_stock_latest", "id-1", "Acme beats estimates", "ACME"),
	}}
	store := testStore(t)
	p := New(testConfig(t), store, []providers.Provider{prov}, nil)
	poller := NewPoller(p, time.Hour, 100)

	// Closing the store makes every store call fail: the cycle is
	// abandoned but the poller keeps going.
	store.Close()
	poller.runOnce(context.Background())

	st := poller.Status()
	if st.LastPollStatus != "ERROR" {
		t.Errorf("status = %q, want ERROR", st.LastPollStatus)
	}
	if st.LastPollError == "" {
		t.Error("error detail should be recorded")
	}
	if st.PollCount != 1 {
		t.Errorf("poll count = %d, want 1", st.PollCount)
	}
}

func TestPollerUpdateInterval(t *testing.T) {
	prov := &stubProvider{name: "fmp_stock_latest"}
	poller := newTestPoller(t, prov, time.Hour, 1000)

	poller.Start("")
	defer poller.Stop()

	// Shrink the interval and verify extra cycles actually happen.
	poller.UpdateInterval(20 * time.Millisecond)

	deadline := time.After(3 * time.Second)
	for {
		if poller.Status().PollCount >= 3 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("interval update never took effect, polls = %d", poller.Status().PollCount)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
