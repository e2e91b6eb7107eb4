package strategy

import "github.com/shopspring/decimal"

type Phase string

const (
	PhaseFlat    Phase = "FLAT"
	PhaseEngaged Phase = "ENGAGED"
)

// PairState is the position bookkeeping of one pair. LastOffset and MaxAbsOffset
// carry meaning only while the pair is engaged. LastOffset is the latest non-zero
// offset and is never zero while engaged.
type PairState struct {
	Phase        Phase           `json:"phase"`
	LastOffset   decimal.Decimal `json:"last_offset"`
	MaxAbsOffset decimal.Decimal `json:"max_abs_offset"`
	Layers       int             `json:"layers"`
}

func Flat() PairState {
	return PairState{Phase: PhaseFlat}
}

func Engaged(offset decimal.Decimal, layers int) PairState {
	return PairState{
		Phase:        PhaseEngaged,
		LastOffset:   offset,
		MaxAbsOffset: offset.Abs(),
		Layers:       layers,
	}
}

func (s PairState) IsEngaged() bool {
	return s.Phase == PhaseEngaged
}

// Normalize maps the zero value to Flat.
func (s PairState) Normalize() PairState {
	if s.Phase != PhaseEngaged {
		return Flat()
	}
	return s
}
