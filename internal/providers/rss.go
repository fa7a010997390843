package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/mmcdole/gofeed"

	"github.com/quantpulse/newsstack/internal/news"
)

// RSSSource polls press-wire RSS/Atom feeds as a supplemental provider. RSS
// items carry no ticker metadata; scoring treats them as market-wide.
type RSSSource struct {
	name   string
	urls   []string
	client *http.Client
	parser *gofeed.Parser
}

// NewRSS creates an adapter over one or more feed URLs. No credential
// needed, but at least one URL is.
func NewRSS(urls []string) (*RSSSource, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("rss: at least one feed URL is required")
	}
	return &RSSSource{
		name:   "rss",
		urls:   urls,
		client: newHTTPClient(),
		parser: gofeed.NewParser(),
	}, nil
}

func (s *RSSSource) Name() string {
	return s.name
}

func (s *RSSSource) Fetch(ctx context.Context) ([]news.Item, error) {
	var items []news.Item
	var lastErr error

	for _, feedURL := range s.urls {
		feed, err := s.fetchFeed(ctx, feedURL)
		if err != nil {
			// One bad feed must not starve the others.
			lastErr = err
			continue
		}
		for _, entry := range feed.Items {
			items = append(items, convertFeedItem(entry, feed.Title))
		}
	}

	if len(items) == 0 && lastErr != nil {
		return nil, fmt.Errorf("rss: %w", lastErr)
	}
	return items, nil
}

func (s *RSSSource) fetchFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "newsstack/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", feedURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: HTTP error: %d %s", feedURL, resp.StatusCode, resp.Status)
	}

	feed, err := s.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", feedURL, err)
	}
	return feed, nil
}

// convertFeedItem maps a gofeed entry to the canonical item. The feed GUID is
// the preferred identity, the link the fallback.
func convertFeedItem(entry *gofeed.Item, feedTitle string) news.Item {
	id := entry.GUID
	if id == "" {
		id = entry.Link
	}
	if id != "" {
		h := sha256.Sum256([]byte(id))
		id = hex.EncodeToString(h[:8])
	}

	var published float64
	if entry.PublishedParsed != nil {
		published = float64(entry.PublishedParsed.Unix())
	}
	updated := published
	if entry.UpdatedParsed != nil {
		updated = float64(entry.UpdatedParsed.Unix())
	}
	if updated == 0 {
		updated = published
	}

	snippet := entry.Description
	if snippet == "" {
		snippet = entry.Content
	}

	return news.Item{
		Provider:    "rss",
		ItemID:      id,
		PublishedTS: published,
		UpdatedTS:   updated,
		Headline:    entry.Title,
		Snippet:     news.Truncate(snippet, news.SnippetMaxChars),
		URL:         entry.Link,
		Source:      feedTitle,
	}
}
