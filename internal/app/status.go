package app

import (
	"net/http"
	"sync"
	"time"

	"okx-grid-bot/internal/strategy"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// PairStatus is the published view of one pair after its latest evaluation.
type PairStatus struct {
	Pair      string             `json:"pair"`
	State     strategy.PairState `json:"state"`
	Action    strategy.Action    `json:"action"`
	Baseline  decimal.Decimal    `json:"baseline"`
	Live      decimal.Decimal    `json:"live"`
	Offset    decimal.Decimal    `json:"offset"`
	GridLevel int64              `json:"grid_level"`
	Error     string             `json:"error,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type statusBoard struct {
	mu    sync.RWMutex
	order []string
	pairs map[string]PairStatus
}

func newStatusBoard() *statusBoard {
	return &statusBoard{pairs: make(map[string]PairStatus)}
}

func (b *statusBoard) publish(s PairStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pairs[s.Pair]; !ok {
		b.order = append(b.order, s.Pair)
	}
	b.pairs[s.Pair] = s
}

func (b *statusBoard) list() []PairStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]PairStatus, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, b.pairs[name])
	}
	return out
}

func (a *App) router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "pairs": len(a.pairs)})
	})
	r.GET("/pairs", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.status.list())
	})
	if a.prom != nil {
		r.GET(a.cfg.Metrics.Path, gin.WrapH(a.prom.Handler()))
	}
	return r
}
