package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/quantpulse/newsstack/internal/news"
)

const benzingaNewsURL = "https://api.benzinga.com/api/v2/news"

// BenzingaSource polls the Benzinga REST news endpoint.
type BenzingaSource struct {
	name     string
	apiKey   string
	limit    int
	channels []string
	client   *http.Client
}

// NewBenzinga creates the Benzinga REST adapter. channels optionally narrows
// the feed (comma-joined in the request). Fails fast without an API key.
func NewBenzinga(apiKey string, limit int, channels []string) (*BenzingaSource, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("benzinga_rest: %w", ErrMissingAPIKey)
	}
	if limit <= 0 {
		limit = 50
	}
	return &BenzingaSource{
		name:     "benzinga_rest",
		apiKey:   apiKey,
		limit:    limit,
		channels: channels,
		client:   newHTTPClient(),
	}, nil
}

func (s *BenzingaSource) Name() string {
	return s.name
}

func (s *BenzingaSource) Fetch(ctx context.Context) ([]news.Item, error) {
	q := url.Values{}
	q.Set("token", s.apiKey)
	q.Set("pageSize", fmt.Sprintf("%d", s.limit))
	q.Set("displayOutput", "abstract")
	if len(s.channels) > 0 {
		q.Set("channels", strings.Join(s.channels, ","))
	}

	raws, err := fetchJSONArray(ctx, s.client, benzingaNewsURL+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.name, err)
	}

	items := make([]news.Item, 0, len(raws))
	for _, raw := range raws {
		items = append(items, news.NormalizeBenzinga(raw))
	}
	return items, nil
}
