package trade

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"okx-grid-bot/internal/okx/rest"

	"github.com/shopspring/decimal"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	restClient := rest.New(server.URL, time.Second, rest.Credentials{APIKey: "k", SecretKey: "s", Passphrase: "p"}, nil)
	return NewClient(restClient)
}

func TestConvertToContracts(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != convertPath || q.Get("unit") != "usdt" || q.Get("type") != "1" || q.Get("sz") != "100" || q.Get("px") != "0.0212" {
			t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[{"instId":"PEOPLE-USDT-SWAP","px":"0.0212","sz":"47","type":"1","unit":"usdt"}]}`))
	})
	size, err := client.ConvertToContracts(context.Background(), "PEOPLE-USDT-SWAP", decimal.NewFromInt(100), decimal.RequireFromString("0.0212"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !size.Equal(decimal.NewFromInt(47)) {
		t.Fatalf("expected 47 contracts, got %s", size)
	}
}

func TestPlaceOrderBody(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		if r.Header.Get("OK-ACCESS-SIGN") == "" {
			t.Errorf("expected signed request")
		}
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[{"ordId":"123","clOrdId":"abc","sCode":"0","sMsg":""}]}`))
	})
	res, err := client.PlaceOrder(context.Background(), OrderRequest{
		InstID:     "YGG-USDT-SWAP",
		TdMode:     "isolated",
		Side:       "buy",
		OrdType:    "market",
		Size:       decimal.NewFromInt(3),
		Price:      decimal.RequireFromString("0.45"),
		ClOrdID:    "abc",
		ReduceOnly: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.OrdID != "123" {
		t.Fatalf("expected ordId 123, got %q", res.OrdID)
	}
	if body["sz"] != "3" || body["side"] != "buy" || body["clOrdId"] != "abc" || body["reduceOnly"] != true {
		t.Fatalf("unexpected body %v", body)
	}
	if _, ok := body["px"]; ok {
		t.Fatalf("market orders must not carry px, got %v", body["px"])
	}
}

func TestPlaceOrderLimitCarriesPrice(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[{"ordId":"1","sCode":"0"}]}`))
	})
	_, err := client.PlaceOrder(context.Background(), OrderRequest{
		InstID: "X", TdMode: "cross", Side: "sell", OrdType: "limit",
		Size: decimal.NewFromInt(1), Price: decimal.RequireFromString("1.25"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body["px"] != "1.25" {
		t.Fatalf("expected px 1.25, got %v", body["px"])
	}
}

func TestPlaceOrderRejectsZeroSize(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected")
	})
	if _, err := client.PlaceOrder(context.Background(), OrderRequest{InstID: "X"}); err == nil {
		t.Fatalf("expected error for zero size")
	}
}

func TestPlaceOrderItemRejection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[{"ordId":"","sCode":"51020","sMsg":"Order amount should be greater than min"}]}`))
	})
	_, err := client.PlaceOrder(context.Background(), OrderRequest{InstID: "X", Size: decimal.NewFromInt(1), OrdType: "market"})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestSetLeverageAndClosePosition(t *testing.T) {
	paths := map[string]map[string]any{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		paths[r.URL.Path] = body
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[{}]}`))
	})
	if err := client.SetLeverage(context.Background(), "X", 5, "isolated"); err != nil {
		t.Fatalf("set leverage: %v", err)
	}
	if err := client.ClosePosition(context.Background(), "X", "isolated"); err != nil {
		t.Fatalf("close position: %v", err)
	}
	if paths[setLeveragePath]["lever"] != "5" || paths[setLeveragePath]["mgnMode"] != "isolated" {
		t.Fatalf("unexpected leverage body %v", paths[setLeveragePath])
	}
	if paths[closePositionPath]["instId"] != "X" {
		t.Fatalf("unexpected close body %v", paths[closePositionPath])
	}
}

func TestPlaceOrderDuplicateClOrdID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"1","msg":"All operations failed","data":[{"ordId":"","clOrdId":"abc","sCode":"51016","sMsg":"Duplicated clOrdId"}]}`))
	})
	_, err := client.PlaceOrder(context.Background(), OrderRequest{InstID: "X", Size: decimal.NewFromInt(1), OrdType: "market", ClOrdID: "abc"})
	if !errors.Is(err, ErrDuplicateClOrdID) {
		t.Fatalf("expected ErrDuplicateClOrdID, got %v", err)
	}
}

func TestGetOrderByClientID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.Method != http.MethodGet || r.URL.Path != orderPath || q.Get("instId") != "YGG-USDT-SWAP" || q.Get("clOrdId") != "abc" {
			t.Errorf("unexpected request %s %s?%s", r.Method, r.URL.Path, r.URL.RawQuery)
		}
		if r.Header.Get("OK-ACCESS-SIGN") == "" {
			t.Errorf("expected signed request")
		}
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[{"instId":"YGG-USDT-SWAP","ordId":"77","clOrdId":"abc","state":"filled","sz":"3","accFillSz":"3"}]}`))
	})
	detail, err := client.GetOrder(context.Background(), "YGG-USDT-SWAP", "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detail.OrdID != "77" || !detail.Placed() {
		t.Fatalf("unexpected detail %+v", detail)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"51603","msg":"Order does not exist","data":[]}`))
	})
	_, err := client.GetOrder(context.Background(), "YGG-USDT-SWAP", "abc")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderDetailPlaced(t *testing.T) {
	cases := []struct {
		detail OrderDetail
		want   bool
	}{
		{OrderDetail{State: "live"}, true},
		{OrderDetail{State: "partially_filled", AccFillSz: "1"}, true},
		{OrderDetail{State: "canceled", AccFillSz: "0"}, false},
		{OrderDetail{State: "canceled", AccFillSz: "2"}, true},
		{OrderDetail{State: "mmp_canceled"}, false},
	}
	for _, tc := range cases {
		if got := tc.detail.Placed(); got != tc.want {
			t.Fatalf("%+v: expected %v, got %v", tc.detail, tc.want, got)
		}
	}
}
