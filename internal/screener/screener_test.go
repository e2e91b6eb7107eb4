package screener

import (
	"context"
	"errors"
	"sync"
	"testing"

	"okx-grid-bot/internal/config"
	"okx-grid-bot/internal/market"

	"github.com/shopspring/decimal"
)

type fakeSource struct {
	mu          sync.Mutex
	instruments []market.Instrument
	closes      map[string][]int64
	fail        map[string]error
	fetched     []string
}

func (f *fakeSource) Instruments(context.Context, string) ([]market.Instrument, error) {
	return f.instruments, nil
}

// Bars returns newest first, like the exchange.
func (f *fakeSource) Bars(_ context.Context, instID, interval string, limit int) ([]market.Bar, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, instID)
	f.mu.Unlock()
	if err := f.fail[instID]; err != nil {
		return nil, err
	}
	closes := f.closes[instID]
	bars := make([]market.Bar, 0, len(closes))
	for i := len(closes) - 1; i >= 0 && len(bars) < limit; i-- {
		bars = append(bars, market.Bar{InstID: instID, Interval: interval, Close: decimal.NewFromInt(closes[i]), Confirmed: true})
	}
	return bars, nil
}

func swap(id string) market.Instrument {
	return market.Instrument{InstID: id, State: "live"}
}

func testConfig() config.ScreenerConfig {
	return config.ScreenerConfig{
		InstType:    "SWAP",
		Quote:       "USDT",
		Bar:         "1D",
		Limit:       4,
		TopN:        5,
		Concurrency: 2,
		Exclude:     []string{"BTC-USDT-SWAP"},
	}
}

func TestRunRanksPairs(t *testing.T) {
	src := &fakeSource{
		instruments: []market.Instrument{
			swap("BTC-USDT-SWAP"),
			swap("PEOPLE-USDT-SWAP"),
			swap("YGG-USDT-SWAP"),
			swap("ORDI-USDT-SWAP"),
			swap("SHORT-USDT-SWAP"),
			swap("BTC-USD-SWAP"),
			{InstID: "OLD-USDT-SWAP", State: "suspend"},
		},
		closes: map[string][]int64{
			"PEOPLE-USDT-SWAP": {1, 2, 3, 4},
			"YGG-USDT-SWAP":    {2, 4, 6, 8},
			"ORDI-USDT-SWAP":   {8, 6, 4, 2},
			"SHORT-USDT-SWAP":  {1, 2},
		},
	}
	report, err := New(src, testConfig(), nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Candidates != 4 || report.Screened != 3 {
		t.Fatalf("unexpected counts %+v", report)
	}
	if len(report.Skipped) != 1 || report.Skipped[0] != "SHORT-USDT-SWAP" {
		t.Fatalf("expected short history skipped, got %v", report.Skipped)
	}
	if report.Positive[0].InstA != "PEOPLE-USDT-SWAP" || report.Positive[0].InstB != "YGG-USDT-SWAP" {
		t.Fatalf("unexpected top positive %+v", report.Positive[0])
	}
	if report.Negative[0].Correlation > -0.999 {
		t.Fatalf("expected strongly negative pair, got %+v", report.Negative[0])
	}
	for _, id := range src.fetched {
		if id == "BTC-USDT-SWAP" || id == "BTC-USD-SWAP" || id == "OLD-USDT-SWAP" {
			t.Fatalf("fetched excluded instrument %s", id)
		}
	}
}

func TestRunSkipsFailedFetches(t *testing.T) {
	src := &fakeSource{
		instruments: []market.Instrument{swap("A-USDT-SWAP"), swap("B-USDT-SWAP"), swap("C-USDT-SWAP")},
		closes: map[string][]int64{
			"A-USDT-SWAP": {1, 2, 3, 4},
			"B-USDT-SWAP": {1, 3, 2, 4},
		},
		fail: map[string]error{"C-USDT-SWAP": market.ErrDataIntegrity},
	}
	report, err := New(src, testConfig(), nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Screened != 2 || len(report.Positive) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestRunNeedsTwoCandidates(t *testing.T) {
	src := &fakeSource{instruments: []market.Instrument{swap("A-USDT-SWAP")}}
	if _, err := New(src, testConfig(), nil).Run(context.Background()); err == nil {
		t.Fatalf("expected error with a single candidate")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &fakeSource{
		instruments: []market.Instrument{swap("A-USDT-SWAP"), swap("B-USDT-SWAP")},
		fail:        map[string]error{"A-USDT-SWAP": context.Canceled, "B-USDT-SWAP": context.Canceled},
	}
	_, err := New(src, testConfig(), nil).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
