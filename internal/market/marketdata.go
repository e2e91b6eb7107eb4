package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"okx-grid-bot/internal/okx/rest"
	"okx-grid-bot/internal/okx/ws"

	"go.uber.org/zap"
)

const (
	candlesPath     = "/api/v5/market/candles"
	instrumentsPath = "/api/v5/public/instruments"
	// OKX caps a single candles page at 300 rows.
	maxCandlePage = 300
)

var (
	// ErrDataIntegrity marks payloads that cannot produce a ratio: missing data, bad rows, zero closes.
	ErrDataIntegrity = errors.New("market data integrity error")
	// ErrUnknownInstrument is returned when an instrument is absent from the registry.
	ErrUnknownInstrument = errors.New("unknown instrument")
)

// RESTClient is the public subset of the OKX REST client used for market reads.
type RESTClient interface {
	Get(ctx context.Context, path string, params url.Values, out any) error
}

type Options struct {
	RetryAttempts int
	RetryBackoff  time.Duration
	MaxPriceAge   time.Duration
}

// MarketData reads candles and instrument metadata, preferring a fresh websocket bar for live closes.
type MarketData struct {
	rest RESTClient
	ws   *ws.Client
	log  *zap.Logger
	opts Options

	mu     sync.RWMutex
	latest map[string]streamedBar

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

type streamedBar struct {
	bar      Bar
	received time.Time
}

func New(restClient RESTClient, wsClient *ws.Client, opts Options, log *zap.Logger) *MarketData {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}
	return &MarketData{
		rest:   restClient,
		ws:     wsClient,
		log:    log,
		opts:   opts,
		latest: make(map[string]streamedBar),
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// Start subscribes to the candle channel of every instrument and keeps the feed running until ctx ends.
func (m *MarketData) Start(ctx context.Context, interval string, instIDs []string) error {
	if m.ws == nil || len(instIDs) == 0 {
		return nil
	}
	if err := m.ws.Connect(ctx); err != nil {
		return err
	}
	args := make([]ws.Arg, 0, len(instIDs))
	for _, id := range instIDs {
		args = append(args, ws.Arg{Channel: "candle" + interval, InstID: id})
	}
	if err := m.ws.Subscribe(ctx, args...); err != nil {
		return err
	}
	go func() {
		_ = m.ws.Run(ctx, m.handleMessage)
	}()
	return nil
}

// Bars returns up to limit bars for instID, newest first, paging backwards with the after cursor.
func (m *MarketData) Bars(ctx context.Context, instID, interval string, limit int) ([]Bar, error) {
	if limit <= 0 {
		return nil, nil
	}
	out := make([]Bar, 0, limit)
	cursor := ""
	for len(out) < limit {
		pageSize := limit - len(out)
		if pageSize > maxCandlePage {
			pageSize = maxCandlePage
		}
		params := url.Values{}
		params.Set("instId", instID)
		params.Set("bar", interval)
		params.Set("limit", strconv.Itoa(pageSize))
		if cursor != "" {
			params.Set("after", cursor)
		}
		var rows [][]string
		if err := m.withRetry(ctx, "candles", func(ctx context.Context) error {
			return m.rest.Get(ctx, candlesPath, params, &rows)
		}); err != nil {
			return nil, classify(err)
		}
		if len(rows) == 0 {
			break
		}
		bars, err := parseBars(instID, interval, rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDataIntegrity, instID, err)
		}
		out = append(out, bars...)
		if len(rows) < pageSize {
			break
		}
		cursor = rows[len(rows)-1][colTS]
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LatestClose returns the close of the most recent bar, from the websocket cache when it is fresh.
func (m *MarketData) LatestClose(ctx context.Context, instID, interval string) (Bar, error) {
	if bar, ok := m.streamed(instID, interval); ok {
		return bar, nil
	}
	bars, err := m.Bars(ctx, instID, interval, 1)
	if err != nil {
		return Bar{}, err
	}
	if len(bars) == 0 {
		return Bar{}, fmt.Errorf("%w: no %s bars for %s", ErrDataIntegrity, interval, instID)
	}
	return bars[0], nil
}

// Instruments lists every instrument of instType.
func (m *MarketData) Instruments(ctx context.Context, instType string) ([]Instrument, error) {
	params := url.Values{}
	params.Set("instType", instType)
	var rows []instrumentWire
	if err := m.withRetry(ctx, "instruments", func(ctx context.Context) error {
		return m.rest.Get(ctx, instrumentsPath, params, &rows)
	}); err != nil {
		return nil, classify(err)
	}
	out := make([]Instrument, 0, len(rows))
	for _, row := range rows {
		inst, ok := parseInstrument(row)
		if !ok {
			m.log.Debug("skipping instrument", zap.String("inst_id", row.InstID))
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

func (m *MarketData) streamed(instID, interval string) (Bar, bool) {
	if m.ws == nil || m.opts.MaxPriceAge <= 0 {
		return Bar{}, false
	}
	m.mu.RLock()
	entry, ok := m.latest[streamKey(instID, interval)]
	m.mu.RUnlock()
	if !ok {
		return Bar{}, false
	}
	if m.now().Sub(entry.received) > m.opts.MaxPriceAge {
		return Bar{}, false
	}
	return entry.bar, true
}

func (m *MarketData) handleMessage(push ws.Push) {
	if !strings.HasPrefix(push.Arg.Channel, "candle") {
		return
	}
	var rows [][]string
	if err := json.Unmarshal(push.Data, &rows); err != nil || len(rows) == 0 {
		m.log.Debug("ws candle decode error", zap.String("inst_id", push.Arg.InstID), zap.Error(err))
		return
	}
	interval := strings.TrimPrefix(push.Arg.Channel, "candle")
	bar, err := parseBar(push.Arg.InstID, interval, rows[0])
	if err != nil {
		m.log.Debug("ws candle parse error", zap.String("inst_id", push.Arg.InstID), zap.Error(err))
		return
	}
	key := streamKey(push.Arg.InstID, interval)
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.latest[key]; ok && prev.bar.Start.After(bar.Start) {
		return
	}
	m.latest[key] = streamedBar{bar: bar, received: m.now()}
}

func streamKey(instID, interval string) string {
	return instID + "|" + interval
}

// withRetry retries transport errors with a fixed backoff. Other errors return immediately.
func (m *MarketData) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= m.opts.RetryAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !rest.IsRetryable(err) {
			return err
		}
		if attempt == m.opts.RetryAttempts {
			break
		}
		m.log.Warn("market read failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", m.opts.RetryBackoff),
			zap.Error(err),
		)
		if !m.sleep(ctx, m.opts.RetryBackoff) {
			return ctx.Err()
		}
	}
	return err
}

func classify(err error) error {
	var apiErr *rest.APIError
	if errors.Is(err, rest.ErrMalformed) || errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %w", ErrDataIntegrity, err)
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
