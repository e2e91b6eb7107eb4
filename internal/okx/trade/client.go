package trade

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"okx-grid-bot/internal/okx/rest"

	"github.com/shopspring/decimal"
)

const (
	convertPath       = "/api/v5/public/convert-contract-coin"
	setLeveragePath   = "/api/v5/account/set-leverage"
	orderPath         = "/api/v5/trade/order"
	closePositionPath = "/api/v5/trade/close-position"
)

const (
	codeDuplicateClOrdID = "51016"
	codeOrderNotFound    = "51603"
)

var (
	// ErrRejected is returned when OKX accepts the request envelope but rejects the order item.
	ErrRejected = errors.New("okx order rejected")
	// ErrDuplicateClOrdID means an order with the same client order id was already accepted.
	ErrDuplicateClOrdID = errors.New("okx duplicate client order id")
	// ErrOrderNotFound means OKX holds no order for the client order id.
	ErrOrderNotFound = errors.New("okx order not found")
)

// REST is the subset of the OKX REST client used for trading.
type REST interface {
	Get(ctx context.Context, path string, params url.Values, out any) error
	GetSigned(ctx context.Context, path string, params url.Values, out any) error
	PostSigned(ctx context.Context, path string, body any, out any) error
}

type Client struct {
	rest REST
}

func NewClient(rest REST) *Client {
	return &Client{rest: rest}
}

type OrderRequest struct {
	InstID     string
	TdMode     string
	Side       string
	OrdType    string
	Size       decimal.Decimal
	Price      decimal.Decimal
	ClOrdID    string
	ReduceOnly bool
}

type OrderResult struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

// ConvertToContracts converts a USDT notional at price into a contract count for instID.
func (c *Client) ConvertToContracts(ctx context.Context, instID string, notional, price decimal.Decimal) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("type", "1")
	params.Set("instId", instID)
	params.Set("sz", notional.String())
	params.Set("px", price.String())
	params.Set("unit", "usdt")
	params.Set("opType", "open")
	var rows []struct {
		InstID string `json:"instId"`
		Sz     string `json:"sz"`
	}
	if err := c.rest.Get(ctx, convertPath, params, &rows); err != nil {
		return decimal.Zero, err
	}
	if len(rows) == 0 {
		return decimal.Zero, fmt.Errorf("convert %s: empty result", instID)
	}
	size, err := decimal.NewFromString(strings.TrimSpace(rows[0].Sz))
	if err != nil {
		return decimal.Zero, fmt.Errorf("convert %s: size %q: %w", instID, rows[0].Sz, err)
	}
	return size, nil
}

func (c *Client) SetLeverage(ctx context.Context, instID string, lever int, mgnMode string) error {
	body := map[string]string{
		"instId":  instID,
		"lever":   strconv.Itoa(lever),
		"mgnMode": mgnMode,
	}
	return c.rest.PostSigned(ctx, setLeveragePath, body, nil)
}

func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if !req.Size.IsPositive() {
		return OrderResult{}, fmt.Errorf("order %s: size must be > 0", req.InstID)
	}
	body := map[string]any{
		"instId":  req.InstID,
		"tdMode":  req.TdMode,
		"side":    req.Side,
		"ordType": req.OrdType,
		"sz":      req.Size.String(),
	}
	if req.OrdType != "market" && req.Price.IsPositive() {
		body["px"] = req.Price.String()
	}
	if req.ClOrdID != "" {
		body["clOrdId"] = req.ClOrdID
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}
	var rows []OrderResult
	if err := c.rest.PostSigned(ctx, orderPath, body, &rows); err != nil {
		var apiErr *rest.APIError
		if errors.As(err, &apiErr) && strings.HasPrefix(apiErr.Detail, codeDuplicateClOrdID+":") {
			return OrderResult{}, fmt.Errorf("%w: %w", ErrDuplicateClOrdID, err)
		}
		return OrderResult{}, err
	}
	if len(rows) == 0 {
		return OrderResult{}, fmt.Errorf("order %s: empty result", req.InstID)
	}
	res := rows[0]
	if res.SCode == codeDuplicateClOrdID {
		return res, fmt.Errorf("%w: %s: %s", ErrDuplicateClOrdID, req.InstID, res.ClOrdID)
	}
	if res.SCode != "" && res.SCode != "0" {
		return res, fmt.Errorf("%w: %s: %s %s", ErrRejected, req.InstID, res.SCode, res.SMsg)
	}
	return res, nil
}

// OrderDetail is the exchange view of one order.
type OrderDetail struct {
	InstID    string `json:"instId"`
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	Side      string `json:"side"`
	State     string `json:"state"`
	Sz        string `json:"sz"`
	AccFillSz string `json:"accFillSz"`
}

// Placed reports whether the order is working or has filled at least partly.
func (o OrderDetail) Placed() bool {
	switch o.State {
	case "live", "partially_filled", "filled":
		return true
	}
	filled, err := decimal.NewFromString(o.AccFillSz)
	return err == nil && filled.IsPositive()
}

// GetOrder looks an order up by client order id. A missing order returns ErrOrderNotFound.
func (c *Client) GetOrder(ctx context.Context, instID, clOrdID string) (OrderDetail, error) {
	params := url.Values{}
	params.Set("instId", instID)
	params.Set("clOrdId", clOrdID)
	var rows []OrderDetail
	if err := c.rest.GetSigned(ctx, orderPath, params, &rows); err != nil {
		var apiErr *rest.APIError
		if errors.As(err, &apiErr) && apiErr.Code == codeOrderNotFound {
			return OrderDetail{}, fmt.Errorf("%w: %s %s", ErrOrderNotFound, instID, clOrdID)
		}
		return OrderDetail{}, err
	}
	if len(rows) == 0 {
		return OrderDetail{}, fmt.Errorf("%w: %s %s", ErrOrderNotFound, instID, clOrdID)
	}
	return rows[0], nil
}

// ClosePosition market-closes the whole position of instID.
func (c *Client) ClosePosition(ctx context.Context, instID, mgnMode string) error {
	body := map[string]any{
		"instId":  instID,
		"mgnMode": mgnMode,
		"autoCxl": true,
	}
	return c.rest.PostSigned(ctx, closePositionPath, body, nil)
}
