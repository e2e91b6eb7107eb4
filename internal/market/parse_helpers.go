package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OKX candle rows: [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm].
const (
	colTS = iota
	colOpen
	colHigh
	colLow
	colClose
	colVolume
	colConfirm = 8
)

func parseBar(instID, interval string, row []string) (Bar, error) {
	if len(row) <= colClose {
		return Bar{}, fmt.Errorf("candle row has %d fields", len(row))
	}
	start, err := parseMillis(row[colTS])
	if err != nil {
		return Bar{}, err
	}
	bar := Bar{InstID: instID, Interval: interval, Start: start, Confirmed: true}
	fields := []*decimal.Decimal{&bar.Open, &bar.High, &bar.Low, &bar.Close}
	for i, dst := range fields {
		val, err := decimal.NewFromString(strings.TrimSpace(row[colOpen+i]))
		if err != nil {
			return Bar{}, fmt.Errorf("candle field %d: %w", colOpen+i, err)
		}
		*dst = val
	}
	if len(row) > colVolume {
		if vol, err := decimal.NewFromString(strings.TrimSpace(row[colVolume])); err == nil {
			bar.Volume = vol
		}
	}
	if len(row) > colConfirm {
		bar.Confirmed = strings.TrimSpace(row[colConfirm]) != "0"
	}
	return bar, nil
}

func parseBars(instID, interval string, rows [][]string) ([]Bar, error) {
	bars := make([]Bar, 0, len(rows))
	for i, row := range rows {
		bar, err := parseBar(instID, interval, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", raw, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

type instrumentWire struct {
	InstID    string `json:"instId"`
	TickSz    string `json:"tickSz"`
	LotSz     string `json:"lotSz"`
	MinSz     string `json:"minSz"`
	CtVal     string `json:"ctVal"`
	SettleCcy string `json:"settleCcy"`
	State     string `json:"state"`
}

func parseInstrument(w instrumentWire) (Instrument, bool) {
	id := strings.TrimSpace(w.InstID)
	if id == "" {
		return Instrument{}, false
	}
	tick, ok := decimalFromString(w.TickSz)
	if !ok || !tick.IsPositive() {
		return Instrument{}, false
	}
	lot, _ := decimalFromString(w.LotSz)
	minSz, _ := decimalFromString(w.MinSz)
	ctVal, _ := decimalFromString(w.CtVal)
	return Instrument{
		InstID:        id,
		TickSize:      tick,
		LotSize:       lot,
		MinSize:       minSz,
		ContractValue: ctVal,
		SettleCcy:     strings.TrimSpace(w.SettleCcy),
		State:         strings.TrimSpace(w.State),
	}, true
}

func decimalFromString(raw string) (decimal.Decimal, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, false
	}
	val, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return val, true
}
