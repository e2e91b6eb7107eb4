package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func validPair() PairConfig {
	return PairConfig{
		PairA:         "PEOPLE-USDT-SWAP",
		PairB:         "YGG-USDT-SWAP",
		GridSize:      decimal.RequireFromString("0.05"),
		OrderNotional: decimal.NewFromInt(100),
	}
}

func TestSamplerDefaults(t *testing.T) {
	cfg := &Config{Pairs: []PairConfig{validPair()}}
	applyDefaults(cfg)
	if cfg.Sampler.BaselineBar != "1H" {
		t.Fatalf("expected baseline bar 1H, got %q", cfg.Sampler.BaselineBar)
	}
	if cfg.Sampler.BaselineLimit != 1000 {
		t.Fatalf("expected baseline limit 1000, got %d", cfg.Sampler.BaselineLimit)
	}
	if cfg.Sampler.LiveBar != "1m" {
		t.Fatalf("expected live bar 1m, got %q", cfg.Sampler.LiveBar)
	}
	if cfg.Sampler.RetryBackoff != 5*time.Second {
		t.Fatalf("expected retry backoff 5s, got %v", cfg.Sampler.RetryBackoff)
	}
	if cfg.Sampler.RetryAttempts <= 0 {
		t.Fatalf("expected retry attempts default, got %d", cfg.Sampler.RetryAttempts)
	}
}

func TestMonitorDefaults(t *testing.T) {
	cfg := &Config{Pairs: []PairConfig{validPair()}}
	applyDefaults(cfg)
	if cfg.Monitor.Interval != 60*time.Second {
		t.Fatalf("expected 60s interval, got %v", cfg.Monitor.Interval)
	}
	if cfg.Monitor.PairTimeout <= 0 {
		t.Fatalf("expected pair timeout default, got %v", cfg.Monitor.PairTimeout)
	}
	if cfg.Monitor.Concurrent {
		t.Fatalf("expected sequential evaluation by default")
	}
}

func TestPairLeverageDefaultsFromExecution(t *testing.T) {
	pair := validPair()
	explicit := validPair()
	explicit.PairB = "ORDI-USDT-SWAP"
	explicit.Leverage = 3
	cfg := &Config{
		Execution: ExecutionConfig{Leverage: 10},
		Pairs:     []PairConfig{pair, explicit},
	}
	applyDefaults(cfg)
	if cfg.Pairs[0].Leverage != 10 {
		t.Fatalf("expected leverage 10, got %d", cfg.Pairs[0].Leverage)
	}
	if cfg.Pairs[1].Leverage != 3 {
		t.Fatalf("expected explicit leverage 3, got %d", cfg.Pairs[1].Leverage)
	}
}

func TestMetricsDefaults(t *testing.T) {
	cfg := &Config{Pairs: []PairConfig{validPair()}}
	applyDefaults(cfg)
	if !cfg.Metrics.EnabledValue() {
		t.Fatalf("expected metrics enabled default")
	}
	if cfg.Metrics.Address != "127.0.0.1:9001" {
		t.Fatalf("expected metrics address default, got %q", cfg.Metrics.Address)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Fatalf("expected metrics path default, got %q", cfg.Metrics.Path)
	}
}

func TestScreenerDefaultsExcludeMajors(t *testing.T) {
	cfg := &Config{Pairs: []PairConfig{validPair()}}
	applyDefaults(cfg)
	if len(cfg.Screener.Exclude) != 5 {
		t.Fatalf("expected 5 excluded instruments, got %v", cfg.Screener.Exclude)
	}
	if cfg.Screener.TopN != 20 || cfg.Screener.Limit != 100 || cfg.Screener.Bar != "1D" {
		t.Fatalf("unexpected screener defaults: %+v", cfg.Screener)
	}
}

func TestValidateRequiresPairs(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for missing pairs")
	}
}

func TestValidateRejectsNonPositiveGridSize(t *testing.T) {
	for _, raw := range []string{"0", "-0.01", "1"} {
		pair := validPair()
		pair.GridSize = decimal.RequireFromString(raw)
		cfg := &Config{Pairs: []PairConfig{pair}}
		applyDefaults(cfg)
		if err := validate(cfg); err == nil {
			t.Fatalf("expected error for grid size %s", raw)
		}
	}
}

func TestValidateRejectsNonPositiveNotional(t *testing.T) {
	pair := validPair()
	pair.OrderNotional = decimal.Zero
	cfg := &Config{Pairs: []PairConfig{pair}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for zero order notional")
	}
}

func TestValidateRejectsSameInstrument(t *testing.T) {
	pair := validPair()
	pair.PairB = pair.PairA
	cfg := &Config{Pairs: []PairConfig{pair}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for identical legs")
	}
}

func TestValidateRejectsDuplicatePairs(t *testing.T) {
	cfg := &Config{Pairs: []PairConfig{validPair(), validPair()}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for duplicate pair")
	}
}

func TestValidateRejectsUnknownMarginMode(t *testing.T) {
	cfg := &Config{
		Execution: ExecutionConfig{MarginMode: "portfolio"},
		Pairs:     []PairConfig{validPair()},
	}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for margin mode")
	}
}

func TestValidateRejectsMetricsPathWithoutSlash(t *testing.T) {
	cfg := &Config{
		Metrics: MetricsConfig{Path: "metrics"},
		Pairs:   []PairConfig{validPair()},
	}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for metrics path without leading slash")
	}
}

func TestValidateRejectsTelegramEnabledWithoutConfig(t *testing.T) {
	t.Setenv("OKX_TELEGRAM_TOKEN", "")
	t.Setenv("OKX_TELEGRAM_CHAT_ID", "")
	cfg := &Config{
		Telegram: TelegramConfig{Enabled: true},
		Pairs:    []PairConfig{validPair()},
	}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for missing telegram token/chat_id")
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv("OKX_API_KEY", "env-key")
	t.Setenv("OKX_SECRET_KEY", "env-secret")
	t.Setenv("OKX_PASSPHRASE", "env-pass")
	t.Setenv("OKX_FEISHU_WEBHOOK", "https://open.feishu.cn/hook/x")
	cfg := &Config{
		OKX:    OKXConfig{APIKey: "config-key"},
		Feishu: FeishuConfig{Enabled: true},
		Pairs:  []PairConfig{validPair()},
	}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if cfg.OKX.APIKey != "env-key" {
		t.Fatalf("expected env api key override, got %q", cfg.OKX.APIKey)
	}
	if err := cfg.ValidateCredentials(); err != nil {
		t.Fatalf("expected credentials to validate, got %v", err)
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("expected valid config with env overrides, got %v", err)
	}
}

func TestLoadParsesDecimalPairs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
monitor:
  interval: 30s
pairs:
  - pair_a: PEOPLE-USDT-SWAP
    pair_b: YGG-USDT-SWAP
    grid_size: 0.05
    order_notional: "100"
    leverage: 3
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Monitor.Interval != 30*time.Second {
		t.Fatalf("expected 30s interval, got %v", cfg.Monitor.Interval)
	}
	pair := cfg.Pairs[0]
	if !pair.GridSize.Equal(decimal.RequireFromString("0.05")) {
		t.Fatalf("expected grid size 0.05, got %s", pair.GridSize)
	}
	if !pair.OrderNotional.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected notional 100, got %s", pair.OrderNotional)
	}
	if pair.Name() != "PEOPLE-USDT-SWAP/YGG-USDT-SWAP" {
		t.Fatalf("unexpected pair name %q", pair.Name())
	}
}

func TestLoadWrapsValidationErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("pairs: []\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Load(path)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestDefaultsWithoutFile(t *testing.T) {
	t.Setenv("OKX_API_KEY", "env-key")
	cfg := Defaults()
	if cfg.REST.BaseURL != "https://www.okx.com" {
		t.Fatalf("unexpected base url %q", cfg.REST.BaseURL)
	}
	if cfg.Screener.Concurrency != 4 || cfg.Screener.Quote != "USDT" {
		t.Fatalf("unexpected screener defaults: %+v", cfg.Screener)
	}
	if cfg.OKX.APIKey != "env-key" {
		t.Fatalf("expected env override, got %q", cfg.OKX.APIKey)
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load("config.example.yaml")
	if err != nil {
		t.Fatalf("load example: %v", err)
	}
	if len(cfg.Pairs) != 1 || cfg.Pairs[0].Name() != "PEOPLE-USDT-SWAP/YGG-USDT-SWAP" {
		t.Fatalf("unexpected pairs %+v", cfg.Pairs)
	}
	if cfg.Registry.RefreshInterval != time.Hour {
		t.Fatalf("expected 1h refresh, got %v", cfg.Registry.RefreshInterval)
	}
}
