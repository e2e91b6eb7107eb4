package state

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"okx-grid-bot/internal/strategy"

	"github.com/shopspring/decimal"
)

// PairSnapshot is the audit record written after every evaluation of a pair.
// It is never read back into the engine.
type PairSnapshot struct {
	Pair        string             `json:"pair"`
	Action      strategy.Action    `json:"action"`
	Baseline    decimal.Decimal    `json:"baseline"`
	Live        decimal.Decimal    `json:"live"`
	Offset      decimal.Decimal    `json:"offset"`
	GridLevel   int64              `json:"grid_level"`
	State       strategy.PairState `json:"state"`
	Error       string             `json:"error,omitempty"`
	UpdatedAtMS int64              `json:"updated_at_ms"`
}

func (s PairSnapshot) UpdatedAt() time.Time {
	return time.UnixMilli(s.UpdatedAtMS).UTC()
}

func PairSnapshotKey(pair string) string {
	return "pair:" + pair + ":snapshot"
}

func LoadPairSnapshot(ctx context.Context, store Store, pair string) (PairSnapshot, bool, error) {
	if store == nil {
		return PairSnapshot{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, PairSnapshotKey(pair))
	if err != nil {
		return PairSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return PairSnapshot{}, false, nil
	}
	var snapshot PairSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return PairSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SavePairSnapshot(ctx context.Context, store Store, snapshot PairSnapshot) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, PairSnapshotKey(snapshot.Pair), string(payload))
}
