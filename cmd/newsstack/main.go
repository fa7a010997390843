// newsstack runs the news ingestion pipeline as a standalone process:
// construct configuration from the environment, open the dedup store, and
// poll forever until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/quantpulse/newsstack/internal/config"
	"github.com/quantpulse/newsstack/internal/dedup"
	"github.com/quantpulse/newsstack/internal/enrich"
	"github.com/quantpulse/newsstack/internal/logging"
	"github.com/quantpulse/newsstack/internal/pipeline"
	"github.com/quantpulse/newsstack/internal/providers"
)

func main() {
	godotenv.Load()
	logging.InitStderr()

	cfg := config.FromEnv()

	sources := cfg.ActiveSources()
	if len(sources) == 0 {
		logging.Fatal("no news sources configured; set FMP_API_KEY, BENZINGA_API_KEY, or NEWS_RSS_FEEDS")
	}
	logging.Info("active sources", "sources", sources, "interval", cfg.PollInterval)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		logging.Fatal("failed to create data directory", "error", err)
	}
	store, err := dedup.Open(cfg.DBPath)
	if err != nil {
		logging.Fatal("failed to open dedup store", "path", cfg.DBPath, "error", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provs, stream := buildProviders(ctx, cfg)

	var enricher *enrich.Enricher
	if cfg.EnrichEnabled {
		enricher = enrich.New(30)
	}

	pipe := pipeline.New(cfg, store, provs, enricher)
	poller := pipeline.NewPoller(pipe, cfg.PollInterval, cfg.EmptyCycleReset)
	poller.Start(pipe.Cursor())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logging.Info("shutting down")
	poller.Stop()
	cancel()
	if stream != nil {
		stream.Wait()
	}
}

// buildProviders constructs every enabled adapter. A missing credential is a
// configuration error: the process refuses to start rather than running a
// silently disabled source.
func buildProviders(ctx context.Context, cfg config.Config) ([]providers.Provider, *providers.BenzingaStream) {
	var provs []providers.Provider
	var stream *providers.BenzingaStream

	if cfg.FMPEnabled && cfg.FMPAPIKey != "" {
		latest, err := providers.NewFMPStockLatest(cfg.FMPAPIKey, cfg.PageLimit)
		if err != nil {
			logging.Fatal("fmp stock-latest setup failed", "error", err)
		}
		press, err := providers.NewFMPPressReleases(cfg.FMPAPIKey, cfg.PageLimit)
		if err != nil {
			logging.Fatal("fmp press-releases setup failed", "error", err)
		}
		provs = append(provs, latest, press)
	}

	if cfg.BenzingaEnabled && cfg.BenzingaAPIKey != "" {
		bz, err := providers.NewBenzinga(cfg.BenzingaAPIKey, cfg.PageLimit, cfg.BenzingaChannels)
		if err != nil {
			logging.Fatal("benzinga setup failed", "error", err)
		}
		provs = append(provs, bz)
	}

	if cfg.BenzingaWSEnabled && cfg.BenzingaAPIKey != "" {
		ws, err := providers.NewBenzingaStream(cfg.BenzingaAPIKey)
		if err != nil {
			logging.Fatal("benzinga stream setup failed", "error", err)
		}
		ws.Start(ctx)
		provs = append(provs, ws)
		stream = ws
	}

	if len(cfg.RSSFeeds) > 0 {
		rss, err := providers.NewRSS(cfg.RSSFeeds)
		if err != nil {
			logging.Fatal("rss setup failed", "error", err)
		}
		provs = append(provs, rss)
	}

	return provs, stream
}
