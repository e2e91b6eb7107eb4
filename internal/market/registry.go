package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type instrumentSource interface {
	Instruments(ctx context.Context, instType string) ([]Instrument, error)
}

// Registry holds instrument metadata loaded at startup and optionally refreshed.
type Registry struct {
	source   instrumentSource
	instType string
	log      *zap.Logger

	mu          sync.RWMutex
	instruments map[string]Instrument
	loadedAt    time.Time
}

func NewRegistry(source instrumentSource, instType string, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		source:      source,
		instType:    instType,
		log:         log,
		instruments: make(map[string]Instrument),
	}
}

// NewStaticRegistry builds a registry that is never refreshed.
func NewStaticRegistry(instruments ...Instrument) *Registry {
	r := NewRegistry(nil, "", nil)
	for _, inst := range instruments {
		r.instruments[inst.InstID] = inst
	}
	r.loadedAt = time.Now().UTC()
	return r
}

// Load replaces the registry contents. An empty listing keeps the previous contents.
func (r *Registry) Load(ctx context.Context) error {
	if r.source == nil {
		return nil
	}
	list, err := r.source.Instruments(ctx, r.instType)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return fmt.Errorf("%w: empty %s instrument list", ErrDataIntegrity, r.instType)
	}
	next := make(map[string]Instrument, len(list))
	for _, inst := range list {
		next[inst.InstID] = inst
	}
	r.mu.Lock()
	r.instruments = next
	r.loadedAt = time.Now().UTC()
	r.mu.Unlock()
	r.log.Info("instrument registry loaded", zap.String("inst_type", r.instType), zap.Int("count", len(next)))
	return nil
}

// Require fails with ErrUnknownInstrument for the first id that is not listed.
func (r *Registry) Require(instIDs ...string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range instIDs {
		if _, ok := r.instruments[id]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownInstrument, id)
		}
	}
	return nil
}

func (r *Registry) Get(instID string) (Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instruments[instID]
	return inst, ok
}

func (r *Registry) TickSize(instID string) (decimal.Decimal, error) {
	inst, ok := r.Get(instID)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownInstrument, instID)
	}
	return inst.TickSize, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instruments)
}

// Run refreshes the registry every interval until ctx ends. Refresh failures keep the old contents.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || r.source == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Load(ctx); err != nil {
				r.log.Warn("instrument registry refresh failed", zap.Error(err))
			}
		}
	}
}

// RoundToTick rounds price to the nearest multiple of tick, halves away from zero.
func RoundToTick(price, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return price
	}
	steps := price.Div(tick).Round(0)
	return steps.Mul(tick)
}
