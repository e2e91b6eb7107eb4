package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one OKX candle. Confirmed is false for the bar still being built.
type Bar struct {
	InstID    string
	Interval  string
	Start     time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	Confirmed bool
}

// Instrument is the static metadata the executor needs for one contract.
type Instrument struct {
	InstID        string
	TickSize      decimal.Decimal
	LotSize       decimal.Decimal
	MinSize       decimal.Decimal
	ContractValue decimal.Decimal
	SettleCcy     string
	State         string
}
