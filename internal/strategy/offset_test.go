package strategy

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}

func TestOffset(t *testing.T) {
	got, err := Offset(d("100"), d("110"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(d("0.1")) {
		t.Fatalf("expected 0.10, got %s", got)
	}
	got, err = Offset(d("2"), d("1.9"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(d("-0.05")) {
		t.Fatalf("expected -0.05, got %s", got)
	}
}

func TestOffsetZeroBaseline(t *testing.T) {
	if _, err := Offset(decimal.Zero, d("1")); !errors.Is(err, ErrZeroBaseline) {
		t.Fatalf("expected ErrZeroBaseline, got %v", err)
	}
}

func TestGridLevel(t *testing.T) {
	grid := d("0.05")
	if got := GridLevel(d("0.25"), grid); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	if got := GridLevel(d("0.049"), grid); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := GridLevel(d("0.05"), grid); got != 1 {
		t.Fatalf("expected 1 at the boundary, got %d", got)
	}
	if got := GridLevel(d("0.3"), decimal.Zero); got != 0 {
		t.Fatalf("expected 0 for zero grid, got %d", got)
	}
}

func TestGridLevelMonotonic(t *testing.T) {
	grid := d("0.05")
	step := d("0.001")
	prev := int64(0)
	for x := decimal.Zero; x.LessThan(d("0.5")); x = x.Add(step) {
		level := GridLevel(x, grid)
		if level < prev {
			t.Fatalf("grid level decreased at %s: %d < %d", x, level, prev)
		}
		prev = level
	}
}

func TestReversal(t *testing.T) {
	if !Reversal(d("0.03"), d("-0.01")) {
		t.Fatalf("expected reversal for 0.03 -> -0.01")
	}
	if Reversal(d("0.03"), decimal.Zero) {
		t.Fatalf("zero must not count as a reversal")
	}
	if Reversal(decimal.Zero, d("-0.2")) {
		t.Fatalf("zero last offset must not count as a reversal")
	}
	if Reversal(d("-0.03"), d("-0.2")) {
		t.Fatalf("same sign is not a reversal")
	}
}
