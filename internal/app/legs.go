package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"okx-grid-bot/internal/exec"
	"okx-grid-bot/internal/market"
	"okx-grid-bot/internal/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const rollbackTimeout = 15 * time.Second

type spreadOutcome int

const (
	spreadOpened spreadOutcome = iota
	spreadAborted
	spreadRolledBack
	spreadUnhedged
	spreadClosed
	spreadCloseFailed
	spreadUnconfirmed
)

func (o spreadOutcome) String() string {
	switch o {
	case spreadOpened:
		return "opened"
	case spreadAborted:
		return "aborted"
	case spreadRolledBack:
		return "rolled_back"
	case spreadUnhedged:
		return "unhedged"
	case spreadClosed:
		return "closed"
	case spreadCloseFailed:
		return "close_failed"
	case spreadUnconfirmed:
		return "unconfirmed"
	default:
		return "unknown"
	}
}

// openSpread places leg A, then leg B. A failed leg B rolls leg A back. A leg whose
// outcome could not be confirmed is treated as open and left for the operator.
func (a *App) openSpread(ctx context.Context, p *pairRunner, dec strategy.Decision, live market.LiveSample) (spreadOutcome, error) {
	notional := p.cfg.OrderNotional.Mul(decimal.NewFromInt(dec.Units))
	sideA, sideB := dec.Direction.Sides()

	fillA, err := a.executor.OpenLeg(ctx, exec.Leg{
		InstID:   p.cfg.PairA,
		Side:     sideA,
		Notional: notional,
		RefPrice: live.CloseA,
		Leverage: p.cfg.Leverage,
		ClOrdID:  exec.NewClOrdID(),
	})
	if err != nil {
		a.metrics.OrdersFailed.Inc()
		legErr := fmt.Errorf("leg A %s: %w", p.cfg.PairA, err)
		if errors.Is(err, exec.ErrUnconfirmed) {
			a.log.Error("leg A outcome unknown, leg B not placed", zap.String("pair", p.cfg.Name()), zap.Error(legErr))
			return spreadUnconfirmed, legErr
		}
		return spreadAborted, legErr
	}
	a.metrics.OrdersPlaced.Inc()

	_, err = a.executor.OpenLeg(ctx, exec.Leg{
		InstID:   p.cfg.PairB,
		Side:     sideB,
		Notional: notional,
		RefPrice: live.CloseB,
		Leverage: p.cfg.Leverage,
		ClOrdID:  exec.NewClOrdID(),
	})
	if err == nil {
		a.metrics.OrdersPlaced.Inc()
		return spreadOpened, nil
	}
	a.metrics.OrdersFailed.Inc()
	legErr := fmt.Errorf("leg B %s: %w", p.cfg.PairB, err)
	if errors.Is(err, exec.ErrUnconfirmed) {
		a.log.Error("leg B outcome unknown, leg A kept",
			zap.String("pair", p.cfg.Name()),
			zap.String("inst_id", fillA.InstID),
			zap.Error(legErr),
		)
		return spreadUnconfirmed, legErr
	}

	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	if _, rbErr := a.executor.ReduceLeg(rbCtx, fillA); rbErr != nil {
		a.metrics.OrdersFailed.Inc()
		a.log.Error("leg A rollback failed, pair is unhedged",
			zap.String("pair", p.cfg.Name()),
			zap.String("inst_id", fillA.InstID),
			zap.String("size", fillA.Size.String()),
			zap.Error(rbErr),
		)
		return spreadUnhedged, errors.Join(legErr, fmt.Errorf("rollback %s: %w", fillA.InstID, rbErr))
	}
	a.metrics.OrdersPlaced.Inc()
	a.log.Warn("leg A rolled back after leg B failure", zap.String("pair", p.cfg.Name()), zap.Error(legErr))
	return spreadRolledBack, legErr
}

// flatten closes both instruments of an engaged pair. Both closes are attempted.
func (a *App) flatten(ctx context.Context, p *pairRunner) error {
	var errs []error
	for _, instID := range []string{p.cfg.PairA, p.cfg.PairB} {
		if err := a.executor.Close(ctx, instID); err != nil {
			a.metrics.OrdersFailed.Inc()
			a.log.Warn("close position failed", zap.String("pair", p.cfg.Name()), zap.String("inst_id", instID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		a.metrics.OrdersPlaced.Inc()
	}
	return errors.Join(errs...)
}
