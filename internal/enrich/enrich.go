// Package enrich fetches and cleans article bodies for high-score items.
// Strictly best-effort: every failure mode collapses to Enriched=false so
// callers branch on the result instead of handling errors.
package enrich

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/quantpulse/newsstack/internal/logging"
	"github.com/quantpulse/newsstack/internal/news"
)

const (
	// maxBodyBytes caps the response body read so a huge or malicious page
	// cannot grow memory.
	maxBodyBytes = 1 << 20 // 1 MB

	// maxTextChars is the length of the cleaned excerpt.
	maxTextChars = 700

	// requestTimeout is deliberately shorter than the provider fetch
	// timeout; enrichment sits on the hot path of a refresh.
	requestTimeout = 4 * time.Second
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Result is the outcome of one enrichment attempt.
type Result struct {
	Enriched bool   `json:"enriched"`
	Text     string `json:"text,omitempty"`
	Err      string `json:"err,omitempty"`
}

// Enricher fetches article URLs under a rate limit.
type Enricher struct {
	client  *http.Client
	limiter *rate.Limiter
}

// New creates an Enricher. requestsPerMinute bounds total request volume;
// values <= 0 fall back to 30.
func New(requestsPerMinute int) *Enricher {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 30
	}
	return &Enricher{
		client:  &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
	}
}

// Enrich fetches url, strips markup, collapses whitespace, and truncates to
// the excerpt cap. Never returns an error; inspect Result.Enriched.
func (e *Enricher) Enrich(ctx context.Context, url string) Result {
	if url == "" {
		return Result{Err: "empty url"}
	}

	if !e.limiter.Allow() {
		return Result{Err: "rate limited"}
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Err: "bad url: " + err.Error()}
	}
	req.Header.Set("User-Agent", "newsstack/1.0")

	resp, err := e.client.Do(req)
	if err != nil {
		logging.Debug("enrich fetch failed", "url", url, "error", err)
		return Result{Err: "fetch: " + err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{Err: "http status " + resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{Err: "read: " + err.Error()}
	}

	text := extractText(string(body))
	if text == "" {
		return Result{Err: "no text content"}
	}

	return Result{Enriched: true, Text: news.Truncate(text, maxTextChars)}
}

// extractText pulls readable text out of an HTML document, preferring
// paragraph content over boilerplate.
func extractText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		// Not HTML goquery can handle; fall back to a crude tag strip.
		return collapse(stripTags(html))
	}

	doc.Find("script, style, nav, header, footer, noscript").Remove()

	var parts []string
	doc.Find("p").Each(func(_ int, sel *goquery.Selection) {
		if t := strings.TrimSpace(sel.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		return collapse(doc.Text())
	}
	return collapse(strings.Join(parts, " "))
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

func stripTags(s string) string {
	return tagRe.ReplaceAllString(s, " ")
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
