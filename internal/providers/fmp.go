package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/quantpulse/newsstack/internal/news"
)

const fmpBaseURL = "https://financialmodelingprep.com/stable"

// FMPSource polls one Financial Modeling Prep news endpoint. Two instances
// are normally active: stock-latest and press-releases.
type FMPSource struct {
	name      string
	endpoint  string
	apiKey    string
	limit     int
	client    *http.Client
	normalize func(map[string]any) news.Item
}

// NewFMPStockLatest creates the adapter for FMP's latest stock news feed.
// Fails fast when the API key is absent.
func NewFMPStockLatest(apiKey string, limit int) (*FMPSource, error) {
	return newFMPSource("fmp_stock_latest", "/news/stock-latest", apiKey, limit, news.NormalizeFMPArticle)
}

// NewFMPPressReleases creates the adapter for FMP's press release feed.
func NewFMPPressReleases(apiKey string, limit int) (*FMPSource, error) {
	return newFMPSource("fmp_press_releases", "/news/press-releases-latest", apiKey, limit, news.NormalizeFMPPressRelease)
}

func newFMPSource(name, endpoint, apiKey string, limit int, normalize func(map[string]any) news.Item) (*FMPSource, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %w", name, ErrMissingAPIKey)
	}
	if limit <= 0 {
		limit = 50
	}
	return &FMPSource{
		name:      name,
		endpoint:  endpoint,
		apiKey:    apiKey,
		limit:     limit,
		client:    newHTTPClient(),
		normalize: normalize,
	}, nil
}

func (s *FMPSource) Name() string {
	return s.name
}

// Fetch retrieves one page of the endpoint and normalizes every payload.
func (s *FMPSource) Fetch(ctx context.Context) ([]news.Item, error) {
	q := url.Values{}
	q.Set("page", "0")
	q.Set("limit", fmt.Sprintf("%d", s.limit))
	q.Set("apikey", s.apiKey)

	raws, err := fetchJSONArray(ctx, s.client, fmpBaseURL+s.endpoint+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.name, err)
	}

	items := make([]news.Item, 0, len(raws))
	for _, raw := range raws {
		items = append(items, s.normalize(raw))
	}
	return items, nil
}

// fetchJSONArray GETs a URL and decodes a JSON array of objects. Non-2xx
// statuses are errors; the orchestrator treats them as a per-provider,
// per-cycle failure.
func fetchJSONArray(ctx context.Context, client *http.Client, rawURL string) ([]map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "newsstack/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	var raws []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raws); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return raws, nil
}
