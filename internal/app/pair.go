package app

import (
	"context"
	"fmt"

	"okx-grid-bot/internal/market"
	"okx-grid-bot/internal/state"
	"okx-grid-bot/internal/strategy"
	"okx-grid-bot/internal/timescale"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type evaluation struct {
	baseline decimal.Decimal
	live     market.LiveSample
	offset   decimal.Decimal
	decision strategy.Decision
	err      error
}

// evaluatePair samples the pair, runs the grid transition and commits the resulting state.
func (a *App) evaluatePair(ctx context.Context, p *pairRunner) {
	name := p.cfg.Name()
	ev, err := a.sample(ctx, p)
	if err != nil {
		a.metrics.SampleFailures.Inc()
		a.log.Warn("pair sampling failed", zap.String("pair", name), zap.Error(err))
		a.notify(ctx, fmt.Sprintf("%s: sampling failed, skipped this cycle: %v", name, err))
		a.record(ctx, p, evaluation{decision: strategy.Decision{Action: strategy.ActionHold}, err: err})
		return
	}

	ev.decision = strategy.Decide(p.state, ev.offset, p.cfg.GridSize)
	a.metrics.PairOffset.Set(name, ev.offset.InexactFloat64())
	a.metrics.PairGridLevel.Set(name, float64(ev.decision.GridLevel))
	a.log.Info("pair evaluated",
		zap.String("pair", name),
		zap.String("baseline", ev.baseline.String()),
		zap.String("live", ev.live.Ratio.String()),
		zap.String("offset", ev.offset.StringFixed(6)),
		zap.Int64("grid_level", ev.decision.GridLevel),
		zap.String("action", string(ev.decision.Action)),
		zap.String("phase", string(p.state.Phase)),
	)

	p.state = a.apply(ctx, p, ev)
	a.record(ctx, p, ev)
}

func (a *App) sample(ctx context.Context, p *pairRunner) (evaluation, error) {
	baseline, err := a.sampler.Baseline(ctx, p.cfg.PairA, p.cfg.PairB)
	if err != nil {
		return evaluation{}, err
	}
	live, err := a.sampler.Live(ctx, p.cfg.PairA, p.cfg.PairB)
	if err != nil {
		return evaluation{}, err
	}
	offset, err := strategy.Offset(baseline, live.Ratio)
	if err != nil {
		return evaluation{}, err
	}
	return evaluation{baseline: baseline, live: live, offset: offset}, nil
}

// apply runs the side effects of a decision and returns the state to commit.
func (a *App) apply(ctx context.Context, p *pairRunner, ev evaluation) strategy.PairState {
	dec := ev.decision
	name := p.cfg.Name()
	switch dec.Action {
	case strategy.ActionEnter, strategy.ActionScaleIn:
		outcome, err := a.openSpread(ctx, p, dec, ev.live)
		a.recordAction(p, dec, outcome, err)
		switch outcome {
		case spreadOpened, spreadUnhedged, spreadUnconfirmed:
			if dec.Action == strategy.ActionEnter {
				a.metrics.Entries.Inc()
			} else {
				a.metrics.ScaleIns.Inc()
			}
			a.notify(ctx, spreadMessage(p, dec, outcome, err))
			return dec.Next
		default:
			a.log.Warn("spread not opened", zap.String("pair", name), zap.String("action", string(dec.Action)), zap.String("outcome", outcome.String()), zap.Error(err))
			a.notify(ctx, spreadMessage(p, dec, outcome, err))
			return dec.Fallback
		}
	case strategy.ActionFlatten:
		if p.state.Layers == 0 {
			a.log.Info("pair disarmed, no layers were opened", zap.String("pair", name), zap.String("offset", dec.Offset.String()))
			return dec.Next
		}
		err := a.flatten(ctx, p)
		a.metrics.Flattens.Inc()
		outcome := spreadClosed
		if err != nil {
			outcome = spreadCloseFailed
		}
		a.recordAction(p, dec, outcome, err)
		msg := fmt.Sprintf("%s: offset %s reversed sign from %s, flattened", name, percent(dec.Offset), percent(p.state.LastOffset))
		if err != nil {
			msg += fmt.Sprintf(" with errors: %v", err)
		}
		a.notify(ctx, msg)
		return dec.Next
	case strategy.ActionArm:
		a.log.Info("pair armed inside first grid", zap.String("pair", name), zap.String("offset", dec.Offset.String()))
		return dec.Next
	default:
		return dec.Next
	}
}

func (a *App) record(ctx context.Context, p *pairRunner, ev evaluation) {
	now := a.now().UTC()
	errText := ""
	if ev.err != nil {
		errText = ev.err.Error()
	}
	a.status.publish(PairStatus{
		Pair:      p.cfg.Name(),
		State:     p.state,
		Action:    ev.decision.Action,
		Baseline:  ev.baseline,
		Live:      ev.live.Ratio,
		Offset:    ev.offset,
		GridLevel: ev.decision.GridLevel,
		Error:     errText,
		UpdatedAt: now,
	})
	snapshot := state.PairSnapshot{
		Pair:        p.cfg.Name(),
		Action:      ev.decision.Action,
		Baseline:    ev.baseline,
		Live:        ev.live.Ratio,
		Offset:      ev.offset,
		GridLevel:   ev.decision.GridLevel,
		State:       p.state,
		Error:       errText,
		UpdatedAtMS: now.UnixMilli(),
	}
	if err := state.SavePairSnapshot(context.WithoutCancel(ctx), a.store, snapshot); err != nil {
		a.log.Warn("snapshot write failed", zap.String("pair", p.cfg.Name()), zap.Error(err))
	}
	if ev.err == nil {
		a.timescale.EnqueueOffset(timescale.OffsetRow{
			Time:      now,
			Pair:      p.cfg.Name(),
			Baseline:  ev.baseline,
			Live:      ev.live.Ratio,
			Offset:    ev.offset,
			GridLevel: ev.decision.GridLevel,
			Phase:     string(p.state.Phase),
		})
	}
}

func (a *App) recordAction(p *pairRunner, dec strategy.Decision, outcome spreadOutcome, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	a.timescale.EnqueueAction(timescale.ActionRow{
		Time:      a.now().UTC(),
		Pair:      p.cfg.Name(),
		Action:    string(dec.Action),
		Direction: string(dec.Direction),
		Units:     dec.Units,
		Notional:  p.cfg.OrderNotional.Mul(decimal.NewFromInt(dec.Units)),
		Offset:    dec.Offset,
		Outcome:   outcome.String(),
		Detail:    detail,
	})
}

func spreadMessage(p *pairRunner, dec strategy.Decision, outcome spreadOutcome, err error) string {
	sideA, sideB := dec.Direction.Sides()
	notional := p.cfg.OrderNotional.Mul(decimal.NewFromInt(dec.Units))
	verb := "entered"
	if dec.Action == strategy.ActionScaleIn {
		verb = "scaled in"
	}
	msg := fmt.Sprintf("%s: offset %s grid %d, %s %s %s / %s %s, %s USDT per leg",
		p.cfg.Name(), percent(dec.Offset), dec.GridLevel, verb,
		sideA, p.cfg.PairA, sideB, p.cfg.PairB, notional.String())
	switch outcome {
	case spreadOpened:
		return msg
	case spreadUnhedged:
		return fmt.Sprintf("UNHEDGED %s: leg B failed and rollback of leg A failed: %v", msg, err)
	case spreadUnconfirmed:
		return fmt.Sprintf("UNCONFIRMED %s: order outcome unknown, verify positions on the exchange: %v", msg, err)
	default:
		return fmt.Sprintf("%s FAILED (%s): %v", msg, outcome, err)
	}
}

func percent(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}
