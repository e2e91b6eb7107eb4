package account

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	positionsPath     = "/api/v5/account/positions"
	pendingOrdersPath = "/api/v5/trade/orders-pending"
)

// REST is the signed read subset of the OKX REST client.
type REST interface {
	GetSigned(ctx context.Context, path string, params url.Values, out any) error
}

type Position struct {
	InstID   string
	PosSide  string
	Size     decimal.Decimal
	AvgPrice decimal.Decimal
	UPL      decimal.Decimal
	MgnMode  string
	Leverage string
}

type PendingOrder struct {
	InstID  string
	OrdID   string
	ClOrdID string
	Side    string
	Size    decimal.Decimal
	State   string
}

type State struct {
	Positions map[string][]Position
	Pending   map[string][]PendingOrder
}

// Exposure is what the account already holds on a set of instruments.
type Exposure struct {
	Positions []Position
	Pending   []PendingOrder
}

func (e Exposure) Empty() bool {
	return len(e.Positions) == 0 && len(e.Pending) == 0
}

type Account struct {
	rest     REST
	log      *zap.Logger
	instType string

	mu    sync.RWMutex
	state State
}

func New(restClient REST, instType string, log *zap.Logger) *Account {
	if log == nil {
		log = zap.NewNop()
	}
	return &Account{rest: restClient, log: log, instType: instType}
}

// Reconcile reads open positions and pending orders from OKX and replaces the cached state.
func (a *Account) Reconcile(ctx context.Context) (State, error) {
	if a.rest == nil {
		return State{}, errors.New("rest client is required")
	}
	params := url.Values{}
	params.Set("instType", a.instType)

	var positions []positionWire
	if err := a.rest.GetSigned(ctx, positionsPath, params, &positions); err != nil {
		return State{}, fmt.Errorf("positions: %w", err)
	}
	var orders []pendingWire
	if err := a.rest.GetSigned(ctx, pendingOrdersPath, params, &orders); err != nil {
		return State{}, fmt.Errorf("pending orders: %w", err)
	}
	state := State{
		Positions: parsePositions(positions, a.log),
		Pending:   parsePending(orders, a.log),
	}
	a.mu.Lock()
	a.state = state
	a.mu.Unlock()
	return state, nil
}

func (a *Account) Snapshot() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Exposure filters the last reconciled state to instIDs, in instIDs order.
func (a *Account) Exposure(instIDs ...string) Exposure {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out Exposure
	for _, id := range instIDs {
		out.Positions = append(out.Positions, a.state.Positions[id]...)
		out.Pending = append(out.Pending, a.state.Pending[id]...)
	}
	return out
}

// InstIDs lists every instrument with a position or a pending order.
func (s State) InstIDs() []string {
	seen := make(map[string]struct{}, len(s.Positions)+len(s.Pending))
	for id := range s.Positions {
		seen[id] = struct{}{}
	}
	for id := range s.Pending {
		seen[id] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
