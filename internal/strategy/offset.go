package strategy

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrZeroBaseline is returned when the average ratio is zero and no offset can be formed.
var ErrZeroBaseline = errors.New("zero baseline ratio")

// Offset is the signed relative deviation of live from avg.
func Offset(avg, live decimal.Decimal) (decimal.Decimal, error) {
	if avg.IsZero() {
		return decimal.Zero, ErrZeroBaseline
	}
	return live.Sub(avg).Div(avg), nil
}

// GridLevel is floor(absOffset / gridSize). A non-positive grid size yields 0.
func GridLevel(absOffset, gridSize decimal.Decimal) int64 {
	if !gridSize.IsPositive() || !absOffset.IsPositive() {
		return 0
	}
	return absOffset.Div(gridSize).Floor().IntPart()
}

// Reversal reports a strict sign flip. Zero is neutral on either side.
func Reversal(last, offset decimal.Decimal) bool {
	return last.Sign()*offset.Sign() < 0
}
