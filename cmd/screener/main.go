package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"okx-grid-bot/internal/config"
	"okx-grid-bot/internal/logging"
	"okx-grid-bot/internal/market"
	"okx-grid-bot/internal/okx/rest"
	"okx-grid-bot/internal/screener"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "optional bot config; screener and rest sections are used")
	topN := flag.Int("top", 0, "number of pairs to print per side (overrides screener.top_n)")
	limit := flag.Int("limit", 0, "bars per instrument (overrides screener.limit)")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
	}
	if *topN > 0 {
		cfg.Screener.TopN = *topN
	}
	if *limit > 0 {
		cfg.Screener.Limit = *limit
	}

	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	restClient := rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, rest.Credentials{}, log)
	md := market.New(restClient, nil, market.Options{
		RetryAttempts: cfg.Sampler.RetryAttempts,
		RetryBackoff:  cfg.Sampler.RetryBackoff,
	}, log)

	report, err := screener.New(md, cfg.Screener, log).Run(ctx)
	if err != nil {
		log.Error("screening failed", zap.Error(err))
		os.Exit(1)
	}

	fmt.Printf("screened %d of %d %s instruments on %d x %s bars, %d skipped\n",
		report.Screened, report.Candidates, cfg.Screener.Quote, cfg.Screener.Limit, cfg.Screener.Bar, len(report.Skipped))
	fmt.Printf("\ntop %d positively correlated pairs\n", len(report.Positive))
	printPairs(report.Positive)
	fmt.Printf("\ntop %d negatively correlated pairs\n", len(report.Negative))
	printPairs(report.Negative)
}

func printPairs(pairs []screener.PairCorrelation) {
	for _, p := range pairs {
		fmt.Printf("%-22s %-22s %+.4f\n", p.InstA, p.InstB, p.Correlation)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
