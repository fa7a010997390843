// Package news defines the canonical news item and the normalizers that map
// raw provider payloads onto it.
package news

// Item is the canonical representation of one news story, shared by every
// provider. Treat as immutable once a normalizer returns it.
type Item struct {
	Provider    string         // source identifier, e.g. "fmp_stock_latest"
	ItemID      string         // stable identity within the provider; URL when the provider has no id
	PublishedTS float64        // epoch seconds; 0 means unknown, never advances a cursor
	UpdatedTS   float64        // epoch seconds of last update; defaults to PublishedTS
	Headline    string
	Snippet     string         // capped at 500 chars at normalization time
	Tickers     []string       // uppercased, order preserved, duplicates allowed
	URL         string
	Source      string         // publisher display name, may differ from Provider
	Raw         map[string]any // original payload, kept for debugging/enrichment
}

// HasTimestamp reports whether the item carries a usable published time.
// Items without one must never be used to advance a polling cursor.
func (it Item) HasTimestamp() bool {
	return it.PublishedTS > 0
}

// PrimaryTicker returns the first ticker, or empty when the item is
// market-wide.
func (it Item) PrimaryTicker() string {
	if len(it.Tickers) == 0 {
		return ""
	}
	return it.Tickers[0]
}

// FromMap adapts a legacy plain-map item to the canonical type. Older callers
// built items as loose maps; this is the one place that shape is accepted.
func FromMap(m map[string]any) Item {
	return Item{
		Provider:    stringField(m, "provider"),
		ItemID:      stringField(m, "item_id", "id"),
		PublishedTS: floatField(m, "published_ts", "published"),
		UpdatedTS:   floatField(m, "updated_ts", "updated", "published_ts"),
		Headline:    stringField(m, "headline", "title"),
		Snippet:     Truncate(stringField(m, "snippet", "text"), SnippetMaxChars),
		Tickers:     ExtractTickers(firstPresent(m, "tickers", "symbols", "symbol")),
		URL:         stringField(m, "url", "link"),
		Source:      stringField(m, "source", "site"),
		Raw:         m,
	}
}
