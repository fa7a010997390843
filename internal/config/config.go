// Package config builds the immutable runtime configuration from environment
// variables. Construct once with FromEnv and pass by value; nothing mutates a
// Config after construction.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults for tunables that are usually left unset.
const (
	DefaultPollInterval        = 60 * time.Second
	DefaultKeepSeenSeconds     = 6 * 60 * 60
	DefaultKeepClustersSeconds = 2 * 60 * 60
	DefaultExportTopN          = 40
	DefaultPageLimit           = 50
	DefaultEnrichThreshold     = 0.55
	DefaultPruneEveryCycles    = 10

	// DefaultEmptyCycleReset is how many consecutive empty poll cycles the
	// poller tolerates before it prunes the dedup store and resets its
	// cursor. Repeated empty polls while the upstream keeps returning data
	// usually mean the dedup state is over-aggressive, not that news stopped.
	DefaultEmptyCycleReset = 3
)

// Config holds all runtime settings. Read from the environment exactly once.
type Config struct {
	// Provider toggles and credentials
	FMPEnabled        bool
	FMPAPIKey         string
	BenzingaEnabled   bool
	BenzingaAPIKey    string
	BenzingaWSEnabled bool
	BenzingaChannels  []string // channel filter for the Benzinga feed
	RSSFeeds          []string // supplemental press-wire feed URLs

	// Polling
	PollInterval    time.Duration
	PageLimit       int
	EmptyCycleReset int

	// Dedup retention
	DBPath              string
	KeepSeenSeconds     int
	KeepClustersSeconds int
	PruneEveryCycles    int

	// Export
	ExportPath string
	ExportTopN int

	// Enrichment
	EnrichEnabled   bool
	EnrichThreshold float64
}

// FromEnv reads configuration from environment variables, falling back to
// defaults for anything unset or unparseable.
func FromEnv() Config {
	return Config{
		FMPEnabled:        boolOr("NEWS_FMP_ENABLED", true),
		FMPAPIKey:         os.Getenv("FMP_API_KEY"),
		BenzingaEnabled:   boolOr("NEWS_BENZINGA_ENABLED", false),
		BenzingaAPIKey:    os.Getenv("BENZINGA_API_KEY"),
		BenzingaWSEnabled: boolOr("NEWS_BENZINGA_WS_ENABLED", false),
		BenzingaChannels:  listOr("NEWS_BENZINGA_CHANNELS", nil),
		RSSFeeds:          listOr("NEWS_RSS_FEEDS", nil),

		PollInterval:    durationOr("NEWS_POLL_INTERVAL_SECONDS", DefaultPollInterval),
		PageLimit:       intOr("NEWS_PAGE_LIMIT", DefaultPageLimit),
		EmptyCycleReset: intOr("NEWS_EMPTY_CYCLE_RESET", DefaultEmptyCycleReset),

		DBPath:              stringOr("NEWS_DB_PATH", defaultDBPath()),
		KeepSeenSeconds:     intOr("NEWS_KEEP_SEEN_SECONDS", DefaultKeepSeenSeconds),
		KeepClustersSeconds: intOr("NEWS_KEEP_CLUSTERS_SECONDS", DefaultKeepClustersSeconds),
		PruneEveryCycles:    intOr("NEWS_PRUNE_EVERY_CYCLES", DefaultPruneEveryCycles),

		ExportPath: stringOr("NEWS_EXPORT_PATH", "newsstack_export.json"),
		ExportTopN: intOr("NEWS_EXPORT_TOP_N", DefaultExportTopN),

		EnrichEnabled:   boolOr("NEWS_ENRICH_ENABLED", false),
		EnrichThreshold: floatOr("NEWS_ENRICH_THRESHOLD", DefaultEnrichThreshold),
	}
}

// ActiveSources returns the names of the providers this config enables,
// for startup logging.
func (c Config) ActiveSources() []string {
	var sources []string
	if c.FMPEnabled && c.FMPAPIKey != "" {
		sources = append(sources, "fmp_stock_latest", "fmp_press_releases")
	}
	if c.BenzingaEnabled && c.BenzingaAPIKey != "" {
		sources = append(sources, "benzinga_rest")
	}
	if c.BenzingaWSEnabled && c.BenzingaAPIKey != "" {
		sources = append(sources, "benzinga_ws")
	}
	if len(c.RSSFeeds) > 0 {
		sources = append(sources, "rss")
	}
	return sources
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "newsstack.db"
	}
	return home + "/.newsstack/newsstack.db"
}

// Parse helpers. Bad values fall back to the default rather than aborting;
// a typo in one env var must not take the whole pipeline down.

func stringOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func boolOr(key string, def bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func intOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func floatOr(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

func durationOr(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

func listOr(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
