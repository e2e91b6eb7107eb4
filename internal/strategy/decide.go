package strategy

import "github.com/shopspring/decimal"

type Action string

const (
	ActionHold    Action = "HOLD"
	ActionArm     Action = "ARM"
	ActionEnter   Action = "ENTER"
	ActionScaleIn Action = "SCALE_IN"
	ActionFlatten Action = "FLATTEN"
)

// Direction is the spread side of an order-bearing decision.
type Direction string

const (
	// ShortSpread sells A and buys B; chosen when the live ratio sits above the baseline.
	ShortSpread Direction = "SHORT_SPREAD"
	// LongSpread buys A and sells B.
	LongSpread Direction = "LONG_SPREAD"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sides returns the order sides of leg A and leg B.
func (d Direction) Sides() (Side, Side) {
	if d == ShortSpread {
		return SideSell, SideBuy
	}
	return SideBuy, SideSell
}

func directionFor(offset decimal.Decimal) Direction {
	if offset.IsPositive() {
		return ShortSpread
	}
	return LongSpread
}

// Decision is the outcome of one evaluation. Next is committed when the orders
// went through, Fallback when they could not be opened.
type Decision struct {
	Action    Action
	Direction Direction
	Offset    decimal.Decimal
	GridLevel int64
	Units     int64
	Next      PairState
	Fallback  PairState
}

// PlacesOrders reports whether the decision opens a new leg pair.
func (d Decision) PlacesOrders() bool {
	return d.Action == ActionEnter || d.Action == ActionScaleIn
}

// Decide is the pure grid transition for one pair and one fresh offset.
func Decide(state PairState, offset, gridSize decimal.Decimal) Decision {
	state = state.Normalize()
	abs := offset.Abs()
	level := GridLevel(abs, gridSize)
	d := Decision{Action: ActionHold, Offset: offset, GridLevel: level, Next: state, Fallback: state}

	if !state.IsEngaged() {
		switch {
		case offset.IsZero():
			// Zero carries no side to anchor a later reversal.
		case abs.GreaterThan(gridSize):
			d.Action = ActionEnter
			d.Direction = directionFor(offset)
			d.Units = level
			d.Next = Engaged(offset, 1)
			d.Fallback = Flat()
		default:
			d.Action = ActionArm
			d.Next = Engaged(offset, 0)
			d.Fallback = d.Next
		}
		return d
	}

	if Reversal(state.LastOffset, offset) {
		d.Action = ActionFlatten
		d.Next = Flat()
		d.Fallback = Flat()
		return d
	}

	held := state
	// A zero offset has no side, so the reversal anchor stays on the open spread.
	if !offset.IsZero() {
		held.LastOffset = offset
	}
	d.Next = held
	d.Fallback = held
	if abs.GreaterThan(state.MaxAbsOffset) && level > GridLevel(state.MaxAbsOffset, gridSize) {
		d.Action = ActionScaleIn
		d.Direction = directionFor(offset)
		d.Units = 1
		scaled := held
		scaled.MaxAbsOffset = abs
		scaled.Layers++
		d.Next = scaled
	}
	return d
}
