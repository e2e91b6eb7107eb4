package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks configuration that must stop the process before the loop starts.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	REST      RESTConfig      `yaml:"rest"`
	WS        WSConfig        `yaml:"ws"`
	OKX       OKXConfig       `yaml:"okx"`
	State     StateConfig     `yaml:"state"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Sampler   SamplerConfig   `yaml:"sampler"`
	Execution ExecutionConfig `yaml:"execution"`
	Registry  RegistryConfig  `yaml:"registry"`
	Pairs     []PairConfig    `yaml:"pairs"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Feishu    FeishuConfig    `yaml:"feishu"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Screener  ScreenerConfig  `yaml:"screener"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type RESTConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type WSConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	MaxPriceAge    time.Duration `yaml:"max_price_age"`
}

type OKXConfig struct {
	APIKey     string `yaml:"api_key"`
	SecretKey  string `yaml:"secret_key"`
	Passphrase string `yaml:"passphrase"`
	Simulated  bool   `yaml:"simulated"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type MonitorConfig struct {
	Interval       time.Duration `yaml:"interval"`
	PairTimeout    time.Duration `yaml:"pair_timeout"`
	Concurrent     bool          `yaml:"concurrent"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

type SamplerConfig struct {
	BaselineBar   string        `yaml:"baseline_bar"`
	BaselineLimit int           `yaml:"baseline_limit"`
	LiveBar       string        `yaml:"live_bar"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

type ExecutionConfig struct {
	MarginMode    string        `yaml:"margin_mode"`
	OrderType     string        `yaml:"order_type"`
	Leverage      int           `yaml:"leverage"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	OrderAttempts int           `yaml:"order_attempts"`
}

type RegistryConfig struct {
	InstType        string        `yaml:"inst_type"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// PairConfig is one traded spread. GridSize and OrderNotional are decimal strings in yaml.
type PairConfig struct {
	PairA         string          `yaml:"pair_a"`
	PairB         string          `yaml:"pair_b"`
	GridSize      decimal.Decimal `yaml:"grid_size"`
	OrderNotional decimal.Decimal `yaml:"order_notional"`
	Leverage      int             `yaml:"leverage"`
}

// Name identifies the pair in logs, metrics and storage keys.
func (p PairConfig) Name() string {
	return p.PairA + "/" + p.PairB
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type FeishuConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled != nil && *m.Enabled
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type ScreenerConfig struct {
	InstType    string   `yaml:"inst_type"`
	Quote       string   `yaml:"quote"`
	Bar         string   `yaml:"bar"`
	Limit       int      `yaml:"limit"`
	TopN        int      `yaml:"top_n"`
	Concurrency int      `yaml:"concurrency"`
	Exclude     []string `yaml:"exclude"`
}

// Defaults returns an unvalidated configuration with defaults and env overrides applied.
func Defaults() *Config {
	var cfg Config
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 7
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 7
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://www.okx.com"
	}
	cfg.REST.BaseURL = strings.TrimRight(cfg.REST.BaseURL, "/")
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = "wss://ws.okx.com:8443/ws/v5/business"
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 25 * time.Second
	}
	if cfg.WS.MaxPriceAge == 0 {
		cfg.WS.MaxPriceAge = 2 * time.Minute
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/okx-grid-bot.db"
	}
	if cfg.Monitor.Interval == 0 {
		cfg.Monitor.Interval = 60 * time.Second
	}
	if cfg.Monitor.PairTimeout == 0 {
		cfg.Monitor.PairTimeout = 45 * time.Second
	}
	if cfg.Monitor.MaxConcurrency == 0 {
		cfg.Monitor.MaxConcurrency = 4
	}
	if cfg.Sampler.BaselineBar == "" {
		cfg.Sampler.BaselineBar = "1H"
	}
	if cfg.Sampler.BaselineLimit == 0 {
		cfg.Sampler.BaselineLimit = 1000
	}
	if cfg.Sampler.LiveBar == "" {
		cfg.Sampler.LiveBar = "1m"
	}
	if cfg.Sampler.RetryAttempts == 0 {
		cfg.Sampler.RetryAttempts = 3
	}
	if cfg.Sampler.RetryBackoff == 0 {
		cfg.Sampler.RetryBackoff = 5 * time.Second
	}
	if cfg.Execution.MarginMode == "" {
		cfg.Execution.MarginMode = "isolated"
	}
	if cfg.Execution.OrderType == "" {
		cfg.Execution.OrderType = "market"
	}
	if cfg.Execution.Leverage == 0 {
		cfg.Execution.Leverage = 5
	}
	if cfg.Execution.RetryAttempts == 0 {
		cfg.Execution.RetryAttempts = 3
	}
	if cfg.Execution.RetryBackoff == 0 {
		cfg.Execution.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Execution.OrderAttempts == 0 {
		cfg.Execution.OrderAttempts = 1
	}
	if cfg.Registry.InstType == "" {
		cfg.Registry.InstType = "SWAP"
	}
	for i := range cfg.Pairs {
		if cfg.Pairs[i].Leverage == 0 {
			cfg.Pairs[i].Leverage = cfg.Execution.Leverage
		}
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	applyScreenerDefaults(&cfg.Screener)
}

func applyScreenerDefaults(s *ScreenerConfig) {
	if s.InstType == "" {
		s.InstType = "SWAP"
	}
	if s.Quote == "" {
		s.Quote = "USDT"
	}
	if s.Bar == "" {
		s.Bar = "1D"
	}
	if s.Limit == 0 {
		s.Limit = 100
	}
	if s.TopN == 0 {
		s.TopN = 20
	}
	if s.Concurrency == 0 {
		s.Concurrency = 4
	}
	if s.Exclude == nil {
		s.Exclude = []string{
			"BTC-USDT-SWAP",
			"ETH-USDT-SWAP",
			"USDC-USDT-SWAP",
			"TUSD-USDT-SWAP",
			"FDUSD-USDT-SWAP",
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.OKX.APIKey, "OKX_API_KEY")
	overrideString(&cfg.OKX.SecretKey, "OKX_SECRET_KEY")
	overrideString(&cfg.OKX.Passphrase, "OKX_PASSPHRASE")
	overrideString(&cfg.Telegram.Token, "OKX_TELEGRAM_TOKEN")
	overrideString(&cfg.Telegram.ChatID, "OKX_TELEGRAM_CHAT_ID")
	overrideString(&cfg.Feishu.WebhookURL, "OKX_FEISHU_WEBHOOK")
	overrideString(&cfg.Timescale.DSN, "OKX_TIMESCALE_DSN")
}

func overrideString(dst *string, key string) {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		*dst = val
	}
}

func validate(cfg *Config) error {
	if len(cfg.Pairs) == 0 {
		return errors.New("at least one pair is required")
	}
	seen := make(map[string]struct{}, len(cfg.Pairs))
	one := decimal.NewFromInt(1)
	for i, pair := range cfg.Pairs {
		if pair.PairA == "" || pair.PairB == "" {
			return fmt.Errorf("pairs[%d]: pair_a and pair_b are required", i)
		}
		if pair.PairA == pair.PairB {
			return fmt.Errorf("pairs[%d]: pair_a and pair_b must differ", i)
		}
		if !pair.GridSize.IsPositive() || pair.GridSize.GreaterThanOrEqual(one) {
			return fmt.Errorf("pairs[%d]: grid_size must be in (0, 1)", i)
		}
		if !pair.OrderNotional.IsPositive() {
			return fmt.Errorf("pairs[%d]: order_notional must be > 0", i)
		}
		if pair.Leverage < 1 {
			return fmt.Errorf("pairs[%d]: leverage must be >= 1", i)
		}
		if _, ok := seen[pair.Name()]; ok {
			return fmt.Errorf("pairs[%d]: duplicate pair %s", i, pair.Name())
		}
		seen[pair.Name()] = struct{}{}
	}
	if cfg.Monitor.Interval < 0 {
		return errors.New("monitor.interval must be >= 0")
	}
	if cfg.Monitor.PairTimeout < 0 {
		return errors.New("monitor.pair_timeout must be >= 0")
	}
	if cfg.Monitor.MaxConcurrency < 1 {
		return errors.New("monitor.max_concurrency must be >= 1")
	}
	if cfg.Sampler.BaselineLimit < 2 {
		return errors.New("sampler.baseline_limit must be >= 2")
	}
	if cfg.Sampler.RetryAttempts < 1 {
		return errors.New("sampler.retry_attempts must be >= 1")
	}
	if cfg.Sampler.RetryBackoff < 0 {
		return errors.New("sampler.retry_backoff must be >= 0")
	}
	switch cfg.Execution.MarginMode {
	case "isolated", "cross":
	default:
		return fmt.Errorf("execution.margin_mode %q must be isolated or cross", cfg.Execution.MarginMode)
	}
	switch cfg.Execution.OrderType {
	case "market", "limit", "ioc":
	default:
		return fmt.Errorf("execution.order_type %q must be market, limit or ioc", cfg.Execution.OrderType)
	}
	if cfg.Execution.RetryAttempts < 1 || cfg.Execution.OrderAttempts < 1 {
		return errors.New("execution retry attempts must be >= 1")
	}
	if cfg.Execution.RetryBackoff < 0 {
		return errors.New("execution.retry_backoff must be >= 0")
	}
	if cfg.Registry.RefreshInterval < 0 {
		return errors.New("registry.refresh_interval must be >= 0")
	}
	if cfg.Metrics.Path != "" && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Telegram.Enabled && (strings.TrimSpace(cfg.Telegram.Token) == "" || strings.TrimSpace(cfg.Telegram.ChatID) == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Feishu.Enabled && strings.TrimSpace(cfg.Feishu.WebhookURL) == "" {
		return errors.New("feishu.webhook_url is required when feishu is enabled")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}

// ValidateCredentials reports whether signed trading endpoints can be used.
func (c *Config) ValidateCredentials() error {
	if c.OKX.APIKey == "" || c.OKX.SecretKey == "" || c.OKX.Passphrase == "" {
		return fmt.Errorf("%w: okx api_key, secret_key and passphrase are required", ErrInvalid)
	}
	return nil
}
