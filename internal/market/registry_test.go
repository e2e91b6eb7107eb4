package market

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

type staticSource struct {
	list []Instrument
	err  error
}

func (s staticSource) Instruments(context.Context, string) ([]Instrument, error) {
	return s.list, s.err
}

func TestRegistryRequire(t *testing.T) {
	reg := NewRegistry(staticSource{list: []Instrument{
		{InstID: "PEOPLE-USDT-SWAP", TickSize: decimal.RequireFromString("0.00001")},
	}}, "SWAP", nil)
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := reg.Require("PEOPLE-USDT-SWAP"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := reg.Require("PEOPLE-USDT-SWAP", "YGG-USDT-SWAP"); !errors.Is(err, ErrUnknownInstrument) {
		t.Fatalf("expected ErrUnknownInstrument, got %v", err)
	}
	if _, err := reg.TickSize("YGG-USDT-SWAP"); !errors.Is(err, ErrUnknownInstrument) {
		t.Fatalf("expected ErrUnknownInstrument for tick size, got %v", err)
	}
}

func TestRegistryKeepsContentsOnFailedRefresh(t *testing.T) {
	src := &staticSource{list: []Instrument{{InstID: "A", TickSize: decimal.NewFromInt(1)}}}
	reg := NewRegistry(src, "SWAP", nil)
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	src.list = nil
	src.err = errors.New("boom")
	if err := reg.Load(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected previous contents to survive, got %d", reg.Len())
	}
}

func TestRoundToTick(t *testing.T) {
	cases := []struct {
		price, tick, want string
	}{
		{"2.123456", "0.0001", "2.1235"},
		{"2.12345", "0.0001", "2.1235"},
		{"0.0123", "0.005", "0.01"},
		{"7", "0", "7"},
	}
	for _, tc := range cases {
		got := RoundToTick(decimal.RequireFromString(tc.price), decimal.RequireFromString(tc.tick))
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("RoundToTick(%s, %s) = %s, want %s", tc.price, tc.tick, got, tc.want)
		}
	}
}
