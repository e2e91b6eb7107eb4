package market

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BarSource is what the sampler needs from MarketData.
type BarSource interface {
	Bars(ctx context.Context, instID, interval string, limit int) ([]Bar, error)
	LatestClose(ctx context.Context, instID, interval string) (Bar, error)
}

type SamplerConfig struct {
	BaselineBar   string
	BaselineLimit int
	LiveBar       string
}

// Sampler produces the baseline and live close ratios of a pair.
type Sampler struct {
	source BarSource
	cfg    SamplerConfig
	log    *zap.Logger
}

// LiveSample is the live ratio plus the closes it was built from. The closes double as order reference prices.
type LiveSample struct {
	Ratio  decimal.Decimal
	CloseA decimal.Decimal
	CloseB decimal.Decimal
	At     time.Time
}

func NewSampler(source BarSource, cfg SamplerConfig, log *zap.Logger) *Sampler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sampler{source: source, cfg: cfg, log: log}
}

// Baseline is the mean close ratio A/B over the aligned historical window.
func (s *Sampler) Baseline(ctx context.Context, instA, instB string) (decimal.Decimal, error) {
	barsA, err := s.source.Bars(ctx, instA, s.cfg.BaselineBar, s.cfg.BaselineLimit)
	if err != nil {
		return decimal.Zero, fmt.Errorf("baseline %s: %w", instA, err)
	}
	barsB, err := s.source.Bars(ctx, instB, s.cfg.BaselineBar, s.cfg.BaselineLimit)
	if err != nil {
		return decimal.Zero, fmt.Errorf("baseline %s: %w", instB, err)
	}
	barsA, barsB = Align(TrimIncomplete(barsA), TrimIncomplete(barsB))
	if len(barsA) > 0 && !barsA[0].Start.Equal(barsB[0].Start) {
		s.log.Warn("baseline series not aligned",
			zap.String("inst_a", instA),
			zap.String("inst_b", instB),
			zap.Time("start_a", barsA[0].Start),
			zap.Time("start_b", barsB[0].Start),
		)
	}
	return AverageRatio(barsA, barsB)
}

// Live is the ratio of the latest closes of A and B.
func (s *Sampler) Live(ctx context.Context, instA, instB string) (LiveSample, error) {
	barA, err := s.source.LatestClose(ctx, instA, s.cfg.LiveBar)
	if err != nil {
		return LiveSample{}, fmt.Errorf("live %s: %w", instA, err)
	}
	barB, err := s.source.LatestClose(ctx, instB, s.cfg.LiveBar)
	if err != nil {
		return LiveSample{}, fmt.Errorf("live %s: %w", instB, err)
	}
	if barB.Close.IsZero() {
		return LiveSample{}, fmt.Errorf("%w: zero live close for %s", ErrDataIntegrity, instB)
	}
	at := barA.Start
	if barB.Start.After(at) {
		at = barB.Start
	}
	return LiveSample{
		Ratio:  barA.Close.Div(barB.Close),
		CloseA: barA.Close,
		CloseB: barB.Close,
		At:     at,
	}, nil
}

// TrimIncomplete drops the leading bar when it is still being built or carries no volume.
func TrimIncomplete(bars []Bar) []Bar {
	if len(bars) == 0 {
		return bars
	}
	if !bars[0].Confirmed || bars[0].Volume.IsZero() {
		return bars[1:]
	}
	return bars
}

// Align truncates both series to their common length.
func Align(a, b []Bar) ([]Bar, []Bar) {
	n := min(len(a), len(b))
	return a[:n], b[:n]
}

// AverageRatio is mean(a[i].Close / b[i].Close) over equal-length series.
func AverageRatio(a, b []Bar) (decimal.Decimal, error) {
	if len(a) != len(b) {
		return decimal.Zero, fmt.Errorf("%w: series length %d != %d", ErrDataIntegrity, len(a), len(b))
	}
	if len(a) == 0 {
		return decimal.Zero, fmt.Errorf("%w: no aligned bars", ErrDataIntegrity)
	}
	sum := decimal.Zero
	for i := range a {
		if b[i].Close.IsZero() {
			return decimal.Zero, fmt.Errorf("%w: zero close for %s at %s", ErrDataIntegrity, b[i].InstID, b[i].Start.Format(time.RFC3339))
		}
		sum = sum.Add(a[i].Close.Div(b[i].Close))
	}
	return sum.Div(decimal.NewFromInt(int64(len(a)))), nil
}
