package news

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/araddon/dateparse"

	"github.com/quantpulse/newsstack/internal/logging"
)

// SnippetMaxChars caps snippet length at normalization time so a malformed
// payload cannot grow memory without bound.
const SnippetMaxChars = 500

// minDateLen rejects date strings shorter than 8 characters before handing
// them to the permissive parser. Short tokens like "5" or "12" would
// otherwise parse to wildly wrong dates instead of failing.
const minDateLen = 8

// ToEpoch parses a date/time string to epoch seconds. Returns 0 for anything
// unparseable; callers must treat 0 as "no timestamp".
func ToEpoch(s string) float64 {
	s = strings.TrimSpace(s)
	if len(s) < minDateLen {
		if s != "" {
			logging.Warn("rejected short date token", "value", s)
		}
		return 0
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		logging.Warn("unparseable date", "value", s, "error", err)
		return 0
	}
	return float64(t.Unix())
}

// ExtractTickers pulls ticker symbols from whatever shape the provider sends:
// a single symbol, a comma-separated string, a list of strings, or a list of
// objects keyed by name/ticker/symbol. Every symbol is trimmed and
// uppercased. Duplicates are preserved; scoring treats the list as a set.
func ExtractTickers(v any) []string {
	var out []string
	switch t := v.(type) {
	case string:
		for _, part := range strings.Split(t, ",") {
			if sym := strings.ToUpper(strings.TrimSpace(part)); sym != "" {
				out = append(out, sym)
			}
		}
	case []string:
		for _, s := range t {
			if sym := strings.ToUpper(strings.TrimSpace(s)); sym != "" {
				out = append(out, sym)
			}
		}
	case []any:
		for _, elem := range t {
			switch e := elem.(type) {
			case string:
				if sym := strings.ToUpper(strings.TrimSpace(e)); sym != "" {
					out = append(out, sym)
				}
			case map[string]any:
				if sym := strings.ToUpper(strings.TrimSpace(stringField(e, "name", "ticker", "symbol"))); sym != "" {
					out = append(out, sym)
				}
			}
		}
	}
	return out
}

// Truncate shortens a string to maxLen runes. Rune-aware to avoid breaking
// UTF-8 characters mid-sequence.
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}

// NormalizeFMPArticle maps one FMP stock-news payload to an Item. Never
// fails; missing fields degrade to zero values.
func NormalizeFMPArticle(raw map[string]any) Item {
	published := epochField(raw, "publishedDate", "date", "published")
	return buildItem("fmp_stock_latest", raw, fields{
		headline:  []string{"title", "headline"},
		snippet:   []string{"text", "content", "description"},
		url:       []string{"url", "link"},
		tickers:   []string{"symbol", "tickers", "symbols"},
		source:    []string{"site", "publisher", "source"},
		published: published,
		updated:   published,
	})
}

// NormalizeFMPPressRelease maps one FMP press-release payload to an Item.
func NormalizeFMPPressRelease(raw map[string]any) Item {
	published := epochField(raw, "date", "publishedDate")
	it := buildItem("fmp_press_releases", raw, fields{
		headline:  []string{"title", "headline"},
		snippet:   []string{"text", "content"},
		url:       []string{"url", "link"},
		tickers:   []string{"symbol", "tickers"},
		source:    []string{"site", "publisher"},
		published: published,
		updated:   published,
	})
	if it.Source == "" {
		it.Source = "FMP Press Releases"
	}
	return it
}

// NormalizeBenzinga maps one Benzinga REST payload to an Item.
func NormalizeBenzinga(raw map[string]any) Item {
	return buildItem("benzinga_rest", raw, fields{
		headline:  []string{"title", "headline"},
		snippet:   []string{"teaser", "body", "summary"},
		url:       []string{"url", "link"},
		tickers:   []string{"stocks", "securities", "tickers"},
		source:    []string{"author", "source"},
		published: epochField(raw, "created", "published", "date"),
		updated:   epochField(raw, "updated", "created", "published", "date"),
	})
}

// NormalizeBenzingaWS maps one Benzinga WebSocket message to an Item.
// Messages arrive either bare or wrapped in a data/content envelope.
func NormalizeBenzingaWS(raw map[string]any) Item {
	payload := raw
	if data, ok := raw["data"].(map[string]any); ok {
		payload = data
	}
	if content, ok := payload["content"].(map[string]any); ok {
		payload = content
	}
	it := buildItem("benzinga_ws", payload, fields{
		headline:  []string{"title", "headline"},
		snippet:   []string{"teaser", "body", "summary"},
		url:       []string{"url", "link"},
		tickers:   []string{"securities", "stocks", "tickers"},
		source:    []string{"authors", "author", "source"},
		published: epochField(payload, "created_at", "created", "published"),
		updated:   epochField(payload, "updated_at", "updated", "created_at", "created"),
	})
	it.Raw = raw
	return it
}

// fields names the alternate raw keys per logical field, in priority order.
type fields struct {
	headline  []string
	snippet   []string
	url       []string
	tickers   []string
	source    []string
	published float64
	updated   float64
}

// itemIDKeys is the priority list for native item ids across providers.
var itemIDKeys = []string{"id", "uuid", "news_id", "newsId"}

func buildItem(provider string, raw map[string]any, f fields) Item {
	url := stringField(raw, f.url...)

	// A stable id is required: native id first, canonical URL as fallback.
	itemID := stringField(raw, itemIDKeys...)
	if itemID == "" {
		itemID = url
	}

	updated := f.updated
	if updated == 0 {
		updated = f.published
	}

	source := stringField(raw, f.source...)
	if source == "" {
		source = provider
	}

	return Item{
		Provider:    provider,
		ItemID:      itemID,
		PublishedTS: f.published,
		UpdatedTS:   updated,
		Headline:    strings.TrimSpace(stringField(raw, f.headline...)),
		Snippet:     Truncate(strings.TrimSpace(stringField(raw, f.snippet...)), SnippetMaxChars),
		Tickers:     ExtractTickers(firstPresent(raw, f.tickers...)),
		URL:         url,
		Source:      source,
		Raw:         raw,
	}
}

// stringField returns the first non-empty string under any of keys.
// Numeric ids are stringified so id fields survive JSON number decoding.
func stringField(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return fmt.Sprintf("%d", v)
		case int64:
			return fmt.Sprintf("%d", v)
		}
	}
	return ""
}

// floatField returns the first numeric value under any of keys.
func floatField(raw map[string]any, keys ...string) float64 {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case int64:
			return float64(v)
		}
	}
	return 0
}

// epochField resolves a timestamp field that may arrive as an epoch number or
// a date string.
func epochField(raw map[string]any, keys ...string) float64 {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case float64:
			if v > 0 {
				return v
			}
		case int:
			if v > 0 {
				return float64(v)
			}
		case int64:
			if v > 0 {
				return float64(v)
			}
		case string:
			if ts := ToEpoch(v); ts > 0 {
				return ts
			}
		}
	}
	return 0
}

// firstPresent returns the first value present under any of keys.
func firstPresent(raw map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v
		}
	}
	return nil
}
