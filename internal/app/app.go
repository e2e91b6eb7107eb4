package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"okx-grid-bot/internal/account"
	"okx-grid-bot/internal/alerts"
	"okx-grid-bot/internal/config"
	"okx-grid-bot/internal/exec"
	"okx-grid-bot/internal/market"
	"okx-grid-bot/internal/metrics"
	"okx-grid-bot/internal/okx/rest"
	"okx-grid-bot/internal/okx/trade"
	"okx-grid-bot/internal/okx/ws"
	"okx-grid-bot/internal/state"
	"okx-grid-bot/internal/state/sqlite"
	"okx-grid-bot/internal/strategy"
	"okx-grid-bot/internal/timescale"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type ratioSampler interface {
	Baseline(ctx context.Context, instA, instB string) (decimal.Decimal, error)
	Live(ctx context.Context, instA, instB string) (market.LiveSample, error)
}

type legExecutor interface {
	OpenLeg(ctx context.Context, leg exec.Leg) (exec.Fill, error)
	ReduceLeg(ctx context.Context, fill exec.Fill) (exec.Fill, error)
	Close(ctx context.Context, instID string) error
}

// pairRunner owns the position state of one configured pair.
type pairRunner struct {
	cfg   config.PairConfig
	state strategy.PairState
}

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     state.Store
	market    *market.MarketData
	registry  *market.Registry
	account   *account.Account
	sampler   ratioSampler
	executor  legExecutor
	metrics   *metrics.Metrics
	prom      *metrics.Prometheus
	alerts    *alerts.Notifier
	timescale *timescale.Writer
	status    *statusBoard
	pairs     []*pairRunner
	now       func() time.Time
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := cfg.ValidateCredentials(); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	restClient := rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, rest.Credentials{
		APIKey:     cfg.OKX.APIKey,
		SecretKey:  cfg.OKX.SecretKey,
		Passphrase: cfg.OKX.Passphrase,
		Simulated:  cfg.OKX.Simulated,
	}, log)
	var wsClient *ws.Client
	if cfg.WS.Enabled {
		wsClient = ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)
	}
	marketData := market.New(restClient, wsClient, market.Options{
		RetryAttempts: cfg.Sampler.RetryAttempts,
		RetryBackoff:  cfg.Sampler.RetryBackoff,
		MaxPriceAge:   cfg.WS.MaxPriceAge,
	}, log)
	registry := market.NewRegistry(marketData, cfg.Registry.InstType, log)
	sampler := market.NewSampler(marketData, market.SamplerConfig{
		BaselineBar:   cfg.Sampler.BaselineBar,
		BaselineLimit: cfg.Sampler.BaselineLimit,
		LiveBar:       cfg.Sampler.LiveBar,
	}, log)
	executor := exec.New(trade.NewClient(restClient), registry, store, exec.Config{
		MarginMode:    cfg.Execution.MarginMode,
		OrderType:     cfg.Execution.OrderType,
		RetryAttempts: cfg.Execution.RetryAttempts,
		RetryBackoff:  cfg.Execution.RetryBackoff,
		OrderAttempts: cfg.Execution.OrderAttempts,
	}, log)

	m := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.EnabledValue() {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}
	notifier := alerts.FromConfig(cfg.Telegram, cfg.Feishu, log)
	notifier.OnFailure(m.NotifyFailures.Inc)

	writer, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		log.Warn("timescale disabled", zap.Error(err))
		writer = nil
	}

	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		market:    marketData,
		registry:  registry,
		account:   account.New(restClient, cfg.Registry.InstType, log),
		sampler:   sampler,
		executor:  executor,
		metrics:   m,
		prom:      prom,
		alerts:    notifier,
		timescale: writer,
		status:    newStatusBoard(),
		pairs:     newPairRunners(cfg.Pairs),
		now:       time.Now,
	}, nil
}

func newPairRunners(pairs []config.PairConfig) []*pairRunner {
	runners := make([]*pairRunner, 0, len(pairs))
	for _, p := range pairs {
		runners = append(runners, &pairRunner{cfg: p, state: strategy.Flat()})
	}
	return runners
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.timescale.Close()

	if err := a.registry.Load(ctx); err != nil {
		return fmt.Errorf("load instruments: %w", err)
	}
	instruments := a.instrumentIDs()
	if err := a.registry.Require(instruments...); err != nil {
		return err
	}
	go a.registry.Run(ctx, a.cfg.Registry.RefreshInterval)

	if err := a.market.Start(ctx, a.cfg.Sampler.LiveBar, instruments); err != nil {
		a.log.Warn("candle stream unavailable, using REST", zap.Error(err))
	}
	a.timescale.Start(ctx)
	a.startStatusServer(ctx)
	a.logPreviousSnapshots(ctx)
	a.checkExposure(ctx)

	a.log.Info("grid monitor started",
		zap.Int("pairs", len(a.pairs)),
		zap.Duration("interval", a.cfg.Monitor.Interval),
		zap.Bool("concurrent", a.cfg.Monitor.Concurrent),
	)
	a.notify(ctx, fmt.Sprintf("okx grid bot started: %d pairs, interval %s", len(a.pairs), a.cfg.Monitor.Interval))

	a.cycle(ctx)
	ticker := time.NewTicker(a.cfg.Monitor.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.cycle(ctx)
		}
	}
}

// cycle evaluates every pair once, in configured order or bounded-concurrently.
func (a *App) cycle(ctx context.Context) {
	if !a.cfg.Monitor.Concurrent {
		for _, p := range a.pairs {
			if ctx.Err() != nil {
				return
			}
			a.runPair(ctx, p)
		}
		return
	}
	var g errgroup.Group
	g.SetLimit(a.cfg.Monitor.MaxConcurrency)
	for _, p := range a.pairs {
		p := p
		g.Go(func() error {
			a.runPair(ctx, p)
			return nil
		})
	}
	_ = g.Wait()
}

func (a *App) runPair(ctx context.Context, p *pairRunner) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("pair evaluation panicked", zap.String("pair", p.cfg.Name()), zap.Any("panic", r))
		}
	}()
	if timeout := a.cfg.Monitor.PairTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	a.evaluatePair(ctx, p)
}

func (a *App) instrumentIDs() []string {
	seen := make(map[string]struct{}, len(a.pairs)*2)
	var ids []string
	for _, p := range a.pairs {
		for _, id := range []string{p.cfg.PairA, p.cfg.PairB} {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

func (a *App) logPreviousSnapshots(ctx context.Context) {
	for _, p := range a.pairs {
		snap, ok, err := state.LoadPairSnapshot(ctx, a.store, p.cfg.Name())
		if err != nil {
			a.log.Warn("snapshot read failed", zap.String("pair", p.cfg.Name()), zap.Error(err))
			continue
		}
		if !ok || snap.State.Phase != strategy.PhaseEngaged {
			continue
		}
		a.log.Warn("previous run ended engaged; starting flat",
			zap.String("pair", p.cfg.Name()),
			zap.String("last_offset", snap.State.LastOffset.String()),
			zap.Int("layers", snap.State.Layers),
			zap.Time("updated_at", snap.UpdatedAt()),
		)
	}
}

// checkExposure warns about positions or orders already open on traded instruments.
// Pairs always start flat, so such exposure is not managed by this process.
func (a *App) checkExposure(ctx context.Context) {
	if _, err := a.account.Reconcile(ctx); err != nil {
		a.log.Warn("account reconcile failed", zap.Error(err))
		return
	}
	exposure := a.account.Exposure(a.instrumentIDs()...)
	if exposure.Empty() {
		return
	}
	for _, pos := range exposure.Positions {
		a.log.Warn("existing position on traded instrument",
			zap.String("inst_id", pos.InstID),
			zap.String("pos_side", pos.PosSide),
			zap.String("size", pos.Size.String()),
			zap.String("avg_px", pos.AvgPrice.String()),
		)
	}
	for _, ord := range exposure.Pending {
		a.log.Warn("pending order on traded instrument",
			zap.String("inst_id", ord.InstID),
			zap.String("ord_id", ord.OrdID),
			zap.String("side", ord.Side),
			zap.String("size", ord.Size.String()),
		)
	}
	a.notify(ctx, fmt.Sprintf("startup: %d open positions and %d pending orders on traded instruments are not tracked by the grid",
		len(exposure.Positions), len(exposure.Pending)))
}

// notify delivers outside the pair deadline so late alerts still go out.
func (a *App) notify(ctx context.Context, message string) {
	if !a.alerts.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	a.alerts.Notify(ctx, message)
}

func (a *App) startStatusServer(ctx context.Context) {
	if !a.cfg.Metrics.EnabledValue() {
		return
	}
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Address,
		Handler:           a.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		a.log.Info("status server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Warn("status server stopped", zap.Error(err))
		}
	}()
}
