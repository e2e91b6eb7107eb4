package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestClientPingsIdleSession(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msgCh := make(chan string, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept ws: %v", err)
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			select {
			case msgCh <- string(data):
			default:
			}
		}
	}))
	defer server.Close()

	client := New(wsURL(server), 10*time.Millisecond, 20*time.Millisecond, zap.NewNop())
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go func() {
		_ = client.Run(runCtx, nil)
	}()

	select {
	case msg := <-msgCh:
		if msg != "ping" {
			t.Fatalf("expected ping message, got %q", msg)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for ping")
	}
}

func TestSubscribeBeforeConnect(t *testing.T) {
	client := New("ws://unused", time.Second, 0, nil)
	if err := client.Subscribe(context.Background(), Arg{Channel: "candle1m", InstID: "X"}); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestClientDeliversDataAndConsumesEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	subCh := make(chan request, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept ws: %v", err)
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var req request
		if err := json.Unmarshal(data, &req); err == nil {
			subCh <- req
		}
		_ = conn.Write(ctx, websocket.MessageText, []byte("pong"))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"event":"subscribe","arg":{"channel":"candle1m","instId":"BTC-USDT-SWAP"},"connId":"a1"}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"event":"error","code":"60012","msg":"Invalid request"}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"arg":{"channel":"candle1m","instId":"BTC-USDT-SWAP"},"data":[["1700000000000","1","1","1","1","1","1","1","0"]]}`))
		<-ctx.Done()
	}))
	defer server.Close()

	client := New(wsURL(server), 10*time.Millisecond, 0, zap.NewNop())
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := client.Subscribe(ctx, Arg{Channel: "candle1m", InstID: "BTC-USDT-SWAP"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	got := make(chan Push, 4)
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go func() {
		_ = client.Run(runCtx, func(p Push) { got <- p })
	}()

	select {
	case req := <-subCh:
		if req.Op != "subscribe" || len(req.Args) != 1 || req.Args[0].InstID != "BTC-USDT-SWAP" {
			t.Fatalf("unexpected subscription %+v", req)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for subscription")
	}
	select {
	case p := <-got:
		if p.Arg.Channel != "candle1m" || !strings.Contains(string(p.Data), "1700000000000") {
			t.Fatalf("unexpected push %+v", p)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for candle push")
	}
	select {
	case p := <-got:
		t.Fatalf("expected only the data frame, got %+v", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClientResubscribesAfterReconnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var sessions atomic.Int32
	subCh := make(chan request, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept ws: %v", err)
			return
		}
		n := sessions.Add(1)
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var req request
		if err := json.Unmarshal(data, &req); err == nil {
			subCh <- req
		}
		if n == 1 {
			_ = conn.Close(websocket.StatusGoingAway, "upgrade")
			return
		}
		<-ctx.Done()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}))
	defer server.Close()

	client := New(wsURL(server), 10*time.Millisecond, 0, zap.NewNop())
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	args := []Arg{{Channel: "candle1m", InstID: "A-USDT-SWAP"}, {Channel: "candle1m", InstID: "B-USDT-SWAP"}}
	if err := client.Subscribe(ctx, args...); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	go func() {
		_ = client.Run(ctx, nil)
	}()

	for i := 0; i < 2; i++ {
		select {
		case req := <-subCh:
			if req.Op != "subscribe" || len(req.Args) != 2 {
				t.Fatalf("session %d: unexpected subscription %+v", i+1, req)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for subscription %d", i+1)
		}
	}
	if sessions.Load() < 2 {
		t.Fatalf("expected a second session, got %d", sessions.Load())
	}
}
