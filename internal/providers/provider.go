// Package providers contains the upstream news adapters: polling REST
// fetchers and the streaming WebSocket reader. Each adapter normalizes its
// own payloads and hands canonical items to the pipeline.
package providers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/quantpulse/newsstack/internal/news"
)

// fetchTimeout bounds every REST call so one unresponsive provider cannot
// stall a whole poll cycle.
const fetchTimeout = 8 * time.Second

// ErrMissingAPIKey is returned by constructors when a credential is absent.
// A misconfigured adapter refuses to exist rather than silently fetching
// nothing.
var ErrMissingAPIKey = errors.New("providers: API key is required")

// Provider is the interface every news source implements. Fetch returns
// normalized items in upstream order; the orchestrator handles dedup and
// scoring.
type Provider interface {
	// Name returns the provider identifier used as the dedup namespace.
	Name() string

	// Fetch retrieves the latest items. A returned error means this
	// provider contributes zero items this cycle; other providers are
	// unaffected.
	Fetch(ctx context.Context) ([]news.Item, error)
}

// newHTTPClient builds the short-timeout client shared by REST adapters.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: fetchTimeout}
}
