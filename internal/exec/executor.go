package exec

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"okx-grid-bot/internal/market"
	"okx-grid-bot/internal/okx/rest"
	"okx-grid-bot/internal/okx/trade"
	"okx-grid-bot/internal/state"
	"okx-grid-bot/internal/strategy"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrExecution wraps every failure to open, reduce or close a leg.
	ErrExecution = errors.New("execution error")
	// ErrZeroSize is returned when the notional converts to no tradable contracts.
	ErrZeroSize = errors.New("converted size is zero")
	// ErrUnconfirmed marks an order that may have reached the exchange but could not be looked up.
	ErrUnconfirmed = errors.New("order outcome unconfirmed")
)

const lookupTimeout = 10 * time.Second

// Trader is the OKX trading surface the executor drives.
type Trader interface {
	ConvertToContracts(ctx context.Context, instID string, notional, price decimal.Decimal) (decimal.Decimal, error)
	SetLeverage(ctx context.Context, instID string, lever int, mgnMode string) error
	PlaceOrder(ctx context.Context, req trade.OrderRequest) (trade.OrderResult, error)
	GetOrder(ctx context.Context, instID, clOrdID string) (trade.OrderDetail, error)
	ClosePosition(ctx context.Context, instID, mgnMode string) error
}

type TickSource interface {
	TickSize(instID string) (decimal.Decimal, error)
}

type Config struct {
	MarginMode    string
	OrderType     string
	RetryAttempts int
	RetryBackoff  time.Duration
	OrderAttempts int
}

// Leg is one side of a spread order. RefPrice is the latest close of the instrument.
type Leg struct {
	InstID   string
	Side     strategy.Side
	Notional decimal.Decimal
	RefPrice decimal.Decimal
	Leverage int
	ClOrdID  string
}

// Fill records an accepted order. Size is in contracts.
type Fill struct {
	InstID  string
	Side    strategy.Side
	Size    decimal.Decimal
	Price   decimal.Decimal
	OrderID string
	ClOrdID string
}

type Executor struct {
	trader Trader
	ticks  TickSource
	store  state.Store
	cfg    Config
	log    *zap.Logger

	mu    sync.Mutex
	cache map[string]string

	sleep func(ctx context.Context, d time.Duration) bool
}

func New(trader Trader, ticks TickSource, store state.Store, cfg Config, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.OrderAttempts < 1 {
		cfg.OrderAttempts = 1
	}
	if cfg.OrderType == "" {
		cfg.OrderType = "market"
	}
	return &Executor{
		trader: trader,
		ticks:  ticks,
		store:  store,
		cfg:    cfg,
		log:    log,
		cache:  make(map[string]string),
		sleep:  sleepContext,
	}
}

// NewClOrdID returns a 32 character alphanumeric client order id.
func NewClOrdID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// OpenLeg rounds the reference price to tick, converts the notional into contracts,
// sets leverage and places the order.
func (e *Executor) OpenLeg(ctx context.Context, leg Leg) (Fill, error) {
	tick, err := e.ticks.TickSize(leg.InstID)
	if err != nil {
		return Fill{}, fmt.Errorf("%w: %w", ErrExecution, err)
	}
	if !leg.RefPrice.IsPositive() {
		return Fill{}, fmt.Errorf("%w: %s: reference price %s", ErrExecution, leg.InstID, leg.RefPrice)
	}
	price := market.RoundToTick(leg.RefPrice, tick)

	var size decimal.Decimal
	err = e.retry(ctx, e.cfg.RetryAttempts, "convert", func() error {
		var err error
		size, err = e.trader.ConvertToContracts(ctx, leg.InstID, leg.Notional, price)
		return err
	})
	if err != nil {
		return Fill{}, fmt.Errorf("%w: convert %s: %w", ErrExecution, leg.InstID, err)
	}
	if !size.IsPositive() {
		return Fill{}, fmt.Errorf("%w: %s notional %s at %s: %w", ErrExecution, leg.InstID, leg.Notional, price, ErrZeroSize)
	}

	err = e.retry(ctx, e.cfg.RetryAttempts, "set_leverage", func() error {
		return e.trader.SetLeverage(ctx, leg.InstID, leg.Leverage, e.cfg.MarginMode)
	})
	if err != nil {
		return Fill{}, fmt.Errorf("%w: set leverage %s: %w", ErrExecution, leg.InstID, err)
	}

	clOrdID := leg.ClOrdID
	if clOrdID == "" {
		clOrdID = NewClOrdID()
	}
	req := trade.OrderRequest{
		InstID:  leg.InstID,
		TdMode:  e.cfg.MarginMode,
		Side:    string(leg.Side),
		OrdType: e.cfg.OrderType,
		Size:    size,
		Price:   price,
		ClOrdID: clOrdID,
	}
	orderID, err := e.PlaceOrder(ctx, req)
	if err != nil {
		return Fill{}, err
	}
	return Fill{
		InstID:  leg.InstID,
		Side:    leg.Side,
		Size:    size,
		Price:   price,
		OrderID: orderID,
		ClOrdID: clOrdID,
	}, nil
}

// ReduceLeg undoes fill with a reduce-only market order of the same size.
func (e *Executor) ReduceLeg(ctx context.Context, fill Fill) (Fill, error) {
	req := trade.OrderRequest{
		InstID:     fill.InstID,
		TdMode:     e.cfg.MarginMode,
		Side:       string(fill.Side.Opposite()),
		OrdType:    "market",
		Size:       fill.Size,
		ClOrdID:    NewClOrdID(),
		ReduceOnly: true,
	}
	orderID, err := e.PlaceOrder(ctx, req)
	if err != nil {
		return Fill{}, err
	}
	return Fill{
		InstID:  fill.InstID,
		Side:    fill.Side.Opposite(),
		Size:    fill.Size,
		OrderID: orderID,
		ClOrdID: req.ClOrdID,
	}, nil
}

// Close market-closes the position of instID in the configured margin mode.
func (e *Executor) Close(ctx context.Context, instID string) error {
	if err := e.trader.ClosePosition(ctx, instID, e.cfg.MarginMode); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrExecution, instID, err)
	}
	return nil
}

// PlaceOrder places req once per client order id. A repeated id returns the stored order id.
func (e *Executor) PlaceOrder(ctx context.Context, req trade.OrderRequest) (string, error) {
	if req.ClOrdID == "" {
		return e.placeWithRetry(ctx, req)
	}
	cacheKey := "cloid:" + req.ClOrdID
	e.mu.Lock()
	if oid, ok := e.cache[cacheKey]; ok {
		e.mu.Unlock()
		return oid, nil
	}
	e.mu.Unlock()
	if e.store != nil {
		if oid, ok, err := e.store.Get(ctx, cacheKey); err != nil {
			e.log.Warn("order id lookup failed", zap.String("cl_ord_id", req.ClOrdID), zap.Error(err))
		} else if ok {
			e.mu.Lock()
			e.cache[cacheKey] = oid
			e.mu.Unlock()
			return oid, nil
		}
	}
	orderID, err := e.placeWithRetry(ctx, req)
	if err != nil {
		return "", err
	}
	if e.store != nil {
		if err := e.store.Set(ctx, cacheKey, orderID); err != nil {
			e.log.Warn("failed to persist order id", zap.Error(err))
		}
	}
	e.mu.Lock()
	e.cache[cacheKey] = orderID
	e.mu.Unlock()
	return orderID, nil
}

func (e *Executor) placeWithRetry(ctx context.Context, req trade.OrderRequest) (string, error) {
	var res trade.OrderResult
	err := e.retry(ctx, e.cfg.OrderAttempts, "place_order", func() error {
		var err error
		res, err = e.trader.PlaceOrder(ctx, req)
		if err == nil || req.ClOrdID == "" || !outcomeUnknown(err) {
			return err
		}
		found, lookupErr := e.lookup(ctx, req)
		switch {
		case lookupErr == nil:
			e.log.Warn("order found after failed placement",
				zap.String("inst_id", req.InstID),
				zap.String("cl_ord_id", req.ClOrdID),
				zap.String("state", found.State),
				zap.Error(err),
			)
			res = trade.OrderResult{OrdID: found.OrdID, ClOrdID: req.ClOrdID}
			return nil
		case errors.Is(lookupErr, trade.ErrOrderNotFound):
			return err
		default:
			return fmt.Errorf("%w: %w (lookup: %v)", ErrUnconfirmed, err, lookupErr)
		}
	})
	if err != nil {
		return "", fmt.Errorf("%w: order %s %s %s: %w", ErrExecution, req.InstID, req.Side, req.Size, err)
	}
	if res.OrdID == "" {
		return "", fmt.Errorf("%w: order %s: empty order id", ErrExecution, req.InstID)
	}
	e.log.Info("order placed",
		zap.String("inst_id", req.InstID),
		zap.String("side", req.Side),
		zap.String("size", req.Size.String()),
		zap.Bool("reduce_only", req.ReduceOnly),
		zap.String("ord_id", res.OrdID),
		zap.String("cl_ord_id", req.ClOrdID),
	)
	return res.OrdID, nil
}

// lookup resolves an order whose placement result was lost. It runs past the caller's
// deadline since a timed out placement is the common reason to look.
func (e *Executor) lookup(ctx context.Context, req trade.OrderRequest) (trade.OrderDetail, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
	defer cancel()
	var detail trade.OrderDetail
	err := e.retry(ctx, e.cfg.RetryAttempts, "get_order", func() error {
		var err error
		detail, err = e.trader.GetOrder(ctx, req.InstID, req.ClOrdID)
		return err
	})
	if err != nil {
		return trade.OrderDetail{}, err
	}
	if !detail.Placed() || detail.OrdID == "" {
		return trade.OrderDetail{}, fmt.Errorf("%w: %s %s in state %s", trade.ErrOrderNotFound, req.InstID, req.ClOrdID, detail.State)
	}
	return detail, nil
}

// outcomeUnknown reports errors after which the order may still exist on the exchange.
func outcomeUnknown(err error) bool {
	return rest.IsRetryable(err) ||
		errors.Is(err, trade.ErrDuplicateClOrdID) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// retry repeats fn on transport errors, doubling the backoff each time.
func (e *Executor) retry(ctx context.Context, attempts int, op string, fn func() error) error {
	backoff := e.cfg.RetryBackoff
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !rest.IsRetryable(err) || attempt == attempts {
			break
		}
		e.log.Warn("okx call failed, retrying", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		if !e.sleep(ctx, backoff) {
			return errors.Join(ctx.Err(), err)
		}
		backoff *= 2
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
