package main

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/brojonat/buydetector/service/config"
	"github.com/brojonat/buydetector/service/detector"
	"github.com/brojonat/buydetector/service/metrics"
	"github.com/brojonat/buydetector/service/notify"
	"github.com/brojonat/buydetector/service/price"
	"github.com/brojonat/buydetector/service/solana"
)

// newLedgerClient picks one of the configured RPC endpoints at random.
func newLedgerClient(urls []string, m *metrics.Metrics, logger *slog.Logger) (*solana.Client, error) {
	endpoint, err := solana.SelectRandomEndpoint(urls)
	if err != nil {
		return nil, err
	}
	label := endpointLabel(endpoint)
	logger.Info("using solana RPC endpoint",
		"endpoint", label,
		"total_endpoints", len(urls),
	)
	return solana.NewClient(solana.NewRPCClient(endpoint), label, m, logger), nil
}

// endpointLabel reduces an RPC URL to its host; paths and queries often
// carry API keys.
func endpointLabel(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}

// splitList splits a comma-separated flag value, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func newFormatter(cfg *config.Config) detector.Formatter {
	return detector.Formatter{
		ProjectName:   cfg.ProjectName,
		ExplorerTxURL: cfg.ExplorerTxURL,
		BuyURL:        cfg.BuyURL,
		MediaURL:      cfg.GIFURL,
		SoftCap:       cfg.SoftCapSOL,
	}
}

func newSink(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *notify.TelegramSink {
	return notify.NewTelegramSink(cfg.TelegramAPIURL, cfg.TelegramBotToken, nil, m, logger)
}

func newPriceOracle(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*price.Oracle, error) {
	return price.NewOracle(cfg.PriceAPIURL, cfg.PriceJQ, nil, m, logger)
}
