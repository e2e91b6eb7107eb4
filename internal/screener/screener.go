package screener

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"okx-grid-bot/internal/config"
	"okx-grid-bot/internal/market"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source is the market data needed to screen instruments.
type Source interface {
	Instruments(ctx context.Context, instType string) ([]market.Instrument, error)
	Bars(ctx context.Context, instID, interval string, limit int) ([]market.Bar, error)
}

// Report is the outcome of one screening run.
type Report struct {
	Candidates int
	Screened   int
	Skipped    []string
	Positive   []PairCorrelation
	Negative   []PairCorrelation
}

type Screener struct {
	source Source
	cfg    config.ScreenerConfig
	log    *zap.Logger
}

func New(source Source, cfg config.ScreenerConfig, log *zap.Logger) *Screener {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Screener{source: source, cfg: cfg, log: log}
}

// Run lists candidate swaps, fetches their close series and ranks every pair by correlation.
// Instruments whose candles fail to load or come back short are skipped.
func (s *Screener) Run(ctx context.Context) (Report, error) {
	instruments, err := s.source.Instruments(ctx, s.cfg.InstType)
	if err != nil {
		return Report{}, fmt.Errorf("list instruments: %w", err)
	}
	candidates := s.candidates(instruments)
	if len(candidates) < 2 {
		return Report{}, errors.New("fewer than two candidate instruments")
	}
	s.log.Info("screening instruments", zap.Int("candidates", len(candidates)), zap.String("bar", s.cfg.Bar), zap.Int("limit", s.cfg.Limit))

	var (
		mu      sync.Mutex
		series  = make(map[string][]float64, len(candidates))
		skipped []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, id := range candidates {
		id := id
		g.Go(func() error {
			closes, err := s.closes(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.log.Warn("skipping instrument", zap.String("inst_id", id), zap.Error(err))
				skipped = append(skipped, id)
				return nil
			}
			series[id] = closes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	positive, negative := Top(Correlate(series), s.cfg.TopN)
	return Report{
		Candidates: len(candidates),
		Screened:   len(series),
		Skipped:    skipped,
		Positive:   positive,
		Negative:   negative,
	}, nil
}

func (s *Screener) candidates(instruments []market.Instrument) []string {
	excluded := make(map[string]struct{}, len(s.cfg.Exclude))
	for _, id := range s.cfg.Exclude {
		excluded[strings.ToUpper(id)] = struct{}{}
	}
	quote := "-" + strings.ToUpper(s.cfg.Quote) + "-"
	var out []string
	for _, inst := range instruments {
		if inst.State != "" && inst.State != "live" {
			continue
		}
		if !strings.Contains(inst.InstID, quote) {
			continue
		}
		if _, ok := excluded[inst.InstID]; ok {
			continue
		}
		out = append(out, inst.InstID)
	}
	return out
}

// closes returns a full series of closes, oldest first.
func (s *Screener) closes(ctx context.Context, instID string) ([]float64, error) {
	bars, err := s.source.Bars(ctx, instID, s.cfg.Bar, s.cfg.Limit)
	if err != nil {
		return nil, err
	}
	if len(bars) < s.cfg.Limit {
		return nil, fmt.Errorf("short history: %d of %d bars", len(bars), s.cfg.Limit)
	}
	out := make([]float64, len(bars))
	for i, bar := range bars {
		out[len(bars)-1-i] = bar.Close.InexactFloat64()
	}
	return out, nil
}
