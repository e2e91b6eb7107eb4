package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"okx-grid-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// OffsetRow is written on every successful pair evaluation.
type OffsetRow struct {
	Time      time.Time
	Pair      string
	Baseline  decimal.Decimal
	Live      decimal.Decimal
	Offset    decimal.Decimal
	GridLevel int64
	Phase     string
}

// ActionRow is written for every order-bearing decision.
type ActionRow struct {
	Time      time.Time
	Pair      string
	Action    string
	Direction string
	Units     int64
	Notional  decimal.Decimal
	Offset    decimal.Decimal
	Outcome   string
	Detail    string
}

type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	schema     string
	offsets    chan OffsetRow
	actions    chan ActionRow
	started    atomic.Bool
	dropOffset atomic.Uint64
	dropAction atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, schema, cfg.QueueSize, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, schema string, queueSize int, log *zap.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		db:      db,
		log:     log,
		schema:  schema,
		offsets: make(chan OffsetRow, queueSize),
		actions: make(chan ActionRow, queueSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// EnqueueOffset queues row without blocking. A full queue drops the row.
func (w *Writer) EnqueueOffset(row OffsetRow) {
	if w == nil {
		return
	}
	select {
	case w.offsets <- row:
	default:
		if w.dropOffset.Add(1) == 1 {
			w.log.Warn("timescale offset queue full")
		}
	}
}

func (w *Writer) EnqueueAction(row ActionRow) {
	if w == nil {
		return
	}
	select {
	case w.actions <- row:
	default:
		if w.dropAction.Add(1) == 1 {
			w.log.Warn("timescale action queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case row := <-w.offsets:
			w.writeOffset(ctx, row)
		case row := <-w.actions:
			w.writeAction(ctx, row)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		pair TEXT NOT NULL,
		baseline NUMERIC NOT NULL,
		live NUMERIC NOT NULL,
		offset_value NUMERIC NOT NULL,
		grid_level INTEGER NOT NULL,
		phase TEXT NOT NULL,
		PRIMARY KEY (ts, pair)
	)`, w.table("pair_offsets"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		pair TEXT NOT NULL,
		action TEXT NOT NULL,
		direction TEXT NOT NULL,
		units INTEGER NOT NULL,
		notional NUMERIC NOT NULL,
		offset_value NUMERIC NOT NULL,
		outcome TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT ''
	)`, w.table("pair_actions"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"pair_offsets", "pair_actions"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeOffset(ctx context.Context, row OffsetRow) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, pair, baseline, live, offset_value, grid_level, phase
	) VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (ts, pair) DO UPDATE SET
		baseline = EXCLUDED.baseline,
		live = EXCLUDED.live,
		offset_value = EXCLUDED.offset_value,
		grid_level = EXCLUDED.grid_level,
		phase = EXCLUDED.phase`, w.table("pair_offsets"))
	if _, err := w.db.ExecContext(ctx, query,
		row.Time,
		row.Pair,
		row.Baseline.String(),
		row.Live.String(),
		row.Offset.String(),
		row.GridLevel,
		row.Phase,
	); err != nil {
		w.log.Warn("timescale offset insert failed", zap.Error(err))
	}
}

func (w *Writer) writeAction(ctx context.Context, row ActionRow) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, pair, action, direction, units, notional, offset_value, outcome, detail
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, w.table("pair_actions"))
	if _, err := w.db.ExecContext(ctx, query,
		row.Time,
		row.Pair,
		row.Action,
		row.Direction,
		row.Units,
		row.Notional.String(),
		row.Offset.String(),
		row.Outcome,
		row.Detail,
	); err != nil {
		w.log.Warn("timescale action insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
