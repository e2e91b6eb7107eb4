package account

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type positionWire struct {
	InstID  string `json:"instId"`
	PosSide string `json:"posSide"`
	Pos     string `json:"pos"`
	AvgPx   string `json:"avgPx"`
	Upl     string `json:"upl"`
	MgnMode string `json:"mgnMode"`
	Lever   string `json:"lever"`
}

type pendingWire struct {
	InstID  string `json:"instId"`
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	Side    string `json:"side"`
	Sz      string `json:"sz"`
	State   string `json:"state"`
}

// parsePositions drops zero-size rows; OKX keeps closed isolated positions listed with pos "0".
func parsePositions(rows []positionWire, log *zap.Logger) map[string][]Position {
	out := make(map[string][]Position)
	for _, row := range rows {
		size, ok := decimalOrZero(row.Pos)
		if !ok {
			log.Warn("skipping position with bad size", zap.String("inst_id", row.InstID), zap.String("pos", row.Pos))
			continue
		}
		if row.InstID == "" || size.IsZero() {
			continue
		}
		avg, _ := decimalOrZero(row.AvgPx)
		upl, _ := decimalOrZero(row.Upl)
		out[row.InstID] = append(out[row.InstID], Position{
			InstID:   row.InstID,
			PosSide:  row.PosSide,
			Size:     size,
			AvgPrice: avg,
			UPL:      upl,
			MgnMode:  row.MgnMode,
			Leverage: row.Lever,
		})
	}
	return out
}

func parsePending(rows []pendingWire, log *zap.Logger) map[string][]PendingOrder {
	out := make(map[string][]PendingOrder)
	for _, row := range rows {
		size, ok := decimalOrZero(row.Sz)
		if !ok {
			log.Warn("skipping pending order with bad size", zap.String("ord_id", row.OrdID), zap.String("sz", row.Sz))
			continue
		}
		if row.InstID == "" {
			continue
		}
		out[row.InstID] = append(out[row.InstID], PendingOrder{
			InstID:  row.InstID,
			OrdID:   row.OrdID,
			ClOrdID: row.ClOrdID,
			Side:    row.Side,
			Size:    size,
			State:   row.State,
		})
	}
	return out
}

func decimalOrZero(raw string) (decimal.Decimal, bool) {
	if raw == "" {
		return decimal.Zero, true
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
