package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ErrNotConnected is returned by Subscribe before the first Connect.
var ErrNotConnected = errors.New("okx ws: not connected")

const readLimit = 1 << 20

// Arg names one OKX channel subscription, e.g. {candle1m, BTC-USDT-SWAP}.
type Arg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

// Push is one data frame of a subscribed channel. Data is the raw "data" array.
type Push struct {
	Arg  Arg
	Data json.RawMessage
}

type request struct {
	Op   string `json:"op"`
	Args []Arg  `json:"args"`
}

type frame struct {
	Event string          `json:"event"`
	Arg   Arg             `json:"arg"`
	Code  string          `json:"code"`
	Msg   string          `json:"msg"`
	Data  json.RawMessage `json:"data"`
}

// Client holds a single session on the OKX business websocket. OKX drops a session
// after 30s without traffic, so an idle session is kept open with text pings.
type Client struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	args     []Arg
	seen     map[Arg]struct{}
	lastRead atomic.Int64
}

func New(url string, reconnectDelay, pingInterval time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		url:            url,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log,
		seen:           make(map[Arg]struct{}),
	}
}

// Connect dials the business endpoint. Public candle channels need no login.
// It is a no-op while a session is open.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(readLimit)
	c.conn = conn
	c.lastRead.Store(time.Now().UnixNano())
	return nil
}

// Subscribe sends a single subscribe op for args. Every arg is remembered and the
// whole set is resubscribed after a reconnect, since OKX keeps no state across sessions.
func (c *Client) Subscribe(ctx context.Context, args ...Arg) error {
	c.mu.Lock()
	for _, arg := range args {
		if _, ok := c.seen[arg]; ok {
			continue
		}
		c.seen[arg] = struct{}{}
		c.args = append(c.args, arg)
	}
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if len(args) == 0 {
		return nil
	}
	return writeJSON(ctx, conn, request{Op: "subscribe", Args: args})
}

// Run reads pushes until ctx ends and hands data frames to handler. Event frames
// (subscribe acks, errors, notices) and "pong" replies are consumed here. A broken
// session is redialled after the reconnect delay and its channels resubscribed.
func (c *Client) Run(ctx context.Context, handler func(Push)) error {
	for {
		err := c.ensureConnected(ctx)
		if err == nil {
			err = c.session(ctx, handler)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logSessionEnd(err)
		c.resetConn()
		if !c.sleep(ctx) {
			return ctx.Err()
		}
	}
}

func (c *Client) session(ctx context.Context, handler func(Push)) error {
	pingCtx, cancel := context.WithCancel(ctx)
	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		c.keepAlive(pingCtx)
	}()
	err := c.readLoop(ctx, handler)
	cancel()
	<-pingDone
	return err
}

func (c *Client) sleep(ctx context.Context) bool {
	timer := time.NewTimer(c.reconnectDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	connected := c.conn != nil
	c.mu.Unlock()
	if connected {
		return nil
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	args := append([]Arg(nil), c.args...)
	c.mu.Unlock()
	if len(args) == 0 {
		return nil
	}
	c.log.Info("okx ws resubscribing", zap.Int("channels", len(args)))
	return writeJSON(ctx, conn, request{Op: "subscribe", Args: args})
}

func (c *Client) readLoop(ctx context.Context, handler func(Push)) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		c.lastRead.Store(time.Now().UnixNano())
		if string(data) == "pong" {
			continue
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Debug("okx ws undecodable frame", zap.ByteString("frame", data), zap.Error(err))
			continue
		}
		switch f.Event {
		case "":
		case "error":
			c.log.Warn("okx ws error event", zap.String("code", f.Code), zap.String("msg", f.Msg))
			continue
		case "notice":
			// Sent ahead of a service upgrade; the server closes the session shortly after.
			c.log.Info("okx ws notice", zap.String("code", f.Code), zap.String("msg", f.Msg))
			continue
		default:
			c.log.Debug("okx ws event", zap.String("event", f.Event), zap.String("channel", f.Arg.Channel), zap.String("inst_id", f.Arg.InstID))
			continue
		}
		if handler != nil && len(f.Data) > 0 {
			handler(Push{Arg: f.Arg, Data: f.Data})
		}
	}
}

// keepAlive writes "ping" whenever nothing was read for a full ping interval.
func (c *Client) keepAlive(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || c.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.pingInterval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, c.lastRead.Load()))
			if idle < c.pingInterval {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, []byte("ping")); err != nil {
				return
			}
		}
	}
}

func (c *Client) logSessionEnd(err error) {
	if err == nil {
		return
	}
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			c.log.Info("okx ws session closed", zap.Int("status", int(closeErr.Code)), zap.String("reason", closeErr.Reason))
			return
		}
	}
	c.log.Warn("okx ws session lost", zap.Error(err))
}

func (c *Client) resetConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "reconnect")
		c.conn = nil
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
