// Package pipeline drives the per-cycle ingestion flow: fetch from every
// enabled provider, normalize, dedup against the store, score, merge into the
// bounded best-by-key table, prune, and export.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantpulse/newsstack/internal/config"
	"github.com/quantpulse/newsstack/internal/dedup"
	"github.com/quantpulse/newsstack/internal/enrich"
	"github.com/quantpulse/newsstack/internal/logging"
	"github.com/quantpulse/newsstack/internal/news"
	"github.com/quantpulse/newsstack/internal/providers"
	"github.com/quantpulse/newsstack/internal/score"
)

// maxConcurrentFetches limits parallel provider fetches per cycle.
const maxConcurrentFetches = 4

// marketWideKey buckets items that carry no ticker.
const marketWideKey = "_market"

// cursorKey is the kv key holding the last successful poll cursor.
const cursorKey = "poll_cursor"

// Scored pairs an item with its score at merge time.
type Scored struct {
	Item     news.Item    `json:"item"`
	Score    score.Result `json:"score"`
	Enriched string       `json:"enriched,omitempty"`
	ScoredAt float64      `json:"scored_at"`
}

// SourceResult reports one provider's contribution to a cycle.
type SourceResult struct {
	Fetched int
	New     int
	Err     error
}

// CycleResult summarizes one orchestrator cycle.
type CycleResult struct {
	Sources  map[string]SourceResult
	Ingested int   // items that survived dedup and were scored
	Merged   []Scored
	Err      error // set only when the store failed and the cycle was abandoned
}

// Pipeline owns one best-by-key table and runs poll cycles against it.
// NOT safe for concurrent RunCycle calls: each concurrent caller must own its
// own Pipeline instance. The dedup store underneath is the shared,
// internally-synchronized piece.
type Pipeline struct {
	cfg       config.Config
	store     *dedup.Store
	providers []providers.Provider
	enricher  *enrich.Enricher // optional, nil to disable

	best       map[string]Scored
	cycleCount int
}

// New creates a Pipeline. The enricher may be nil.
func New(cfg config.Config, store *dedup.Store, provs []providers.Provider, enricher *enrich.Enricher) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		providers: provs,
		enricher:  enricher,
		best:      make(map[string]Scored),
	}
}

// Cursor returns the persisted poll cursor, empty when none.
func (p *Pipeline) Cursor() string {
	v, err := p.store.GetKV(cursorKey)
	if err != nil {
		logging.Warn("cursor read failed", "error", err)
		return ""
	}
	return v
}

// ResetCursor clears the persisted poll cursor.
func (p *Pipeline) ResetCursor() {
	if err := p.store.SetKV(cursorKey, ""); err != nil {
		logging.Warn("cursor reset failed", "error", err)
	}
}

// PruneStore prunes the seen and cluster relations with keepSeconds=0
// semantics for a full reset, or the configured retention otherwise.
func (p *Pipeline) PruneStore(full bool) {
	keepSeen, keepClusters := p.cfg.KeepSeenSeconds, p.cfg.KeepClustersSeconds
	if full {
		keepSeen, keepClusters = 0, 0
	}
	if n, err := p.store.PruneSeen(keepSeen); err != nil {
		logging.Error("prune seen failed", "error", err)
	} else if n > 0 {
		logging.Debug("pruned seen rows", "deleted", n)
	}
	if n, err := p.store.PruneClusters(keepClusters); err != nil {
		logging.Error("prune clusters failed", "error", err)
	} else if n > 0 {
		logging.Debug("pruned cluster rows", "deleted", n)
	}
}

// RunCycle executes one full poll cycle. Provider failures are isolated:
// a fetch error for one source never blocks another's items. Only a store
// failure abandons the cycle.
func (p *Pipeline) RunCycle(ctx context.Context) CycleResult {
	result := CycleResult{Sources: make(map[string]SourceResult)}

	// Fetch all providers in parallel. Errors are recorded per-source,
	// never propagated through the group.
	type fetched struct {
		name  string
		items []news.Item
		err   error
	}
	batches := make([]fetched, len(p.providers))

	var g errgroup.Group
	g.SetLimit(maxConcurrentFetches)
	for i, prov := range p.providers {
		i, prov := i, prov
		g.Go(func() error {
			items, err := prov.Fetch(ctx)
			batches[i] = fetched{name: prov.Name(), items: items, err: err}
			return nil
		})
	}
	_ = g.Wait()

	maxPublished := 0.0
	now := float64(time.Now().Unix())

	for _, batch := range batches {
		sr := SourceResult{Fetched: len(batch.items), Err: batch.err}
		if batch.err != nil {
			logging.Warn("provider fetch failed", "provider", batch.name, "error", batch.err)
			result.Sources[batch.name] = sr
			continue
		}

		for _, item := range batch.items {
			isNew, err := p.ingestOne(item, now)
			if err != nil {
				// Store failure: abandon the cycle, keep the process alive.
				logging.Error("store error, abandoning cycle", "provider", batch.name, "error", err)
				result.Err = err
				result.Sources[batch.name] = sr
				return result
			}
			if isNew {
				sr.New++
				result.Ingested++
				if item.PublishedTS > maxPublished {
					maxPublished = item.PublishedTS
				}
			}
		}
		result.Sources[batch.name] = sr
	}

	p.pruneBest(now)

	p.cycleCount++
	if p.cfg.PruneEveryCycles > 0 && p.cycleCount%p.cfg.PruneEveryCycles == 0 {
		p.PruneStore(false)
	}

	// Advance the cursor only on real timestamps; a fabricated future
	// cursor would permanently skip items published before it.
	if maxPublished > 0 {
		if err := p.store.SetKV(cursorKey, strconv.FormatFloat(maxPublished, 'f', 0, 64)); err != nil {
			logging.Warn("cursor update failed", "error", err)
		}
	}

	result.Merged = p.Best()

	if err := p.export(result); err != nil {
		logging.Error("export failed", "path", p.cfg.ExportPath, "error", err)
	}

	return result
}

// ingestOne dedups, scores, enriches, and merges a single item. Returns
// whether the item was new. Only store errors propagate; anything else is
// contained so one malformed item cannot abort the batch.
func (p *Pipeline) ingestOne(item news.Item, now float64) (isNew bool, storeErr error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("item processing panicked", "provider", item.Provider, "item_id", item.ItemID, "panic", r)
			isNew, storeErr = false, nil
		}
	}()

	if item.ItemID == "" {
		logging.Warn("item without identity discarded", "provider", item.Provider, "headline", item.Headline)
		return false, nil
	}

	ts := item.PublishedTS
	if ts == 0 {
		ts = now
	}

	isNew, err := p.store.MarkSeen(item.Provider, item.ItemID, ts)
	if err != nil {
		return false, err
	}
	if !isNew {
		// Duplicate: contributes nothing, not even a cluster touch, so the
		// same story cannot decay its own novelty across overlapping polls.
		return false, nil
	}

	hash := score.ClusterHash(item.Headline, item.Tickers)
	count, _, err := p.store.ClusterTouch(hash, ts)
	if err != nil {
		return false, err
	}

	// Scored exactly once per item with the post-increment count.
	res := score.ClassifyAndScore(item, count)

	scored := Scored{Item: item, Score: res, ScoredAt: now}
	if p.enricher != nil && res.Score >= p.cfg.EnrichThreshold && item.URL != "" {
		if er := p.enricher.Enrich(context.Background(), item.URL); er.Enriched {
			scored.Enriched = er.Text
		}
	}

	p.merge(scored)
	return true, nil
}

// merge keeps the single best item per key. Highest score wins; ties break
// to the newer update, then to the lexicographically smaller provider name,
// so the outcome never depends on arrival order.
func (p *Pipeline) merge(candidate Scored) {
	key := candidate.Item.PrimaryTicker()
	if key == "" {
		key = marketWideKey
	}

	current, ok := p.best[key]
	if !ok || better(candidate, current) {
		p.best[key] = candidate
	}
}

func better(a, b Scored) bool {
	if a.Score.Score != b.Score.Score {
		return a.Score.Score > b.Score.Score
	}
	if a.Item.UpdatedTS != b.Item.UpdatedTS {
		return a.Item.UpdatedTS > b.Item.UpdatedTS
	}
	return a.Item.Provider < b.Item.Provider
}

// pruneBest evicts entries older than the cluster retention window. Entries
// without a timestamp are immediately stale - a missing timestamp must never
// pin an entry forever.
func (p *Pipeline) pruneBest(now float64) {
	cutoff := now - float64(p.cfg.KeepClustersSeconds)
	for key, entry := range p.best {
		if entry.Item.UpdatedTS == 0 || entry.Item.UpdatedTS < cutoff {
			delete(p.best, key)
		}
	}
}

// Best returns the current best-by-key entries sorted by score descending.
func (p *Pipeline) Best() []Scored {
	out := make([]Scored, 0, len(p.best))
	for _, entry := range p.best {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return better(out[i], out[j]) })
	return out
}

// ActiveSourceNames lists the providers wired into this pipeline.
func (p *Pipeline) ActiveSourceNames() []string {
	names := make([]string, 0, len(p.providers))
	for _, prov := range p.providers {
		names = append(names, prov.Name())
	}
	return names
}

func fmtCycleStatus(r CycleResult) string {
	if r.Err != nil {
		return "ERROR"
	}
	return fmt.Sprintf("OK (%d new)", r.Ingested)
}
