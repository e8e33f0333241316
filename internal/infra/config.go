package infra

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"options_go/internal/domain"
)

const (
	ModePaper  = "paper"
	ModeBridge = "bridge"

	defaultTimezone = "America/New_York"
)

// RiskLevel is one row of the risk tier table, in percent.
type RiskLevel struct {
	LossThreshold     decimal.Decimal  `yaml:"loss_threshold"`
	AccountTradeLimit decimal.Decimal  `yaml:"account_trade_limit"`
	StopLoss          *decimal.Decimal `yaml:"stop_loss"`
	ProfitGain        *decimal.Decimal `yaml:"profit_gain"`
}

// TradingSection holds the settings the engine can take at runtime.
type TradingSection struct {
	UnderlyingSymbol string          `yaml:"underlying_symbol" validate:"required"`
	TradeDelta       decimal.Decimal `yaml:"trade_delta"`
	MaxTradeValue    decimal.Decimal `yaml:"max_trade_value"`
	Runner           int64           `yaml:"runner" validate:"gte=0"`
	ChaseTimeoutSec  float64         `yaml:"chase_timeout_sec" validate:"gte=0"`
	Timezone         string          `yaml:"timezone"`
	RiskLevels       []RiskLevel     `yaml:"risk_levels" validate:"required,min=1,dive"`
}

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Broker struct {
		Mode             string  `yaml:"mode" validate:"oneof=paper bridge"`
		BridgeURL        string  `yaml:"bridge_url" validate:"required_if=Mode bridge"`
		AccountID        string  `yaml:"account_id"`
		RequestTimeoutMS int     `yaml:"request_timeout_ms" validate:"gt=0"`
		RateLimitPerSec  float64 `yaml:"rate_limit_per_sec" validate:"gt=0"`
		ReconnectDelayMS int     `yaml:"reconnect_delay_ms" validate:"gte=0"`
	} `yaml:"broker"`

	Account struct {
		Currency string `yaml:"currency" validate:"oneof=USD CAD"`
	} `yaml:"account"`

	Trading TradingSection `yaml:"trading"`

	Storage struct {
		Path string `yaml:"path" validate:"required"`
	} `yaml:"storage"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Logging struct {
		Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

var validate = validator.New()

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML bytes, applies defaults and env overrides, and validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	// 보안 우선 - 환경 변수 오버라이드 지원
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Broker.Mode == "" {
		c.Broker.Mode = ModePaper
	}
	if c.Broker.RequestTimeoutMS == 0 {
		c.Broker.RequestTimeoutMS = 5000
	}
	if c.Broker.RateLimitPerSec == 0 {
		c.Broker.RateLimitPerSec = 10
	}
	if c.Broker.ReconnectDelayMS == 0 {
		c.Broker.ReconnectDelayMS = 2000
	}
	if c.Account.Currency == "" {
		c.Account.Currency = domain.CurrencyUSD
	}
	if c.Trading.Timezone == "" {
		c.Trading.Timezone = defaultTimezone
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/journal.db"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	t := c.Trading
	if t.TradeDelta.IsNegative() {
		return &domain.ConfigError{Field: "trading.trade_delta", Err: errors.New("must not be negative")}
	}
	if t.MaxTradeValue.IsNegative() {
		return &domain.ConfigError{Field: "trading.max_trade_value", Err: errors.New("must not be negative")}
	}
	for i, l := range t.RiskLevels {
		field := fmt.Sprintf("trading.risk_levels[%d]", i)
		if l.LossThreshold.IsNegative() || l.AccountTradeLimit.IsNegative() {
			return &domain.ConfigError{Field: field, Err: errors.New("percentages must not be negative")}
		}
		if (l.StopLoss != nil && l.StopLoss.IsNegative()) || (l.ProfitGain != nil && l.ProfitGain.IsNegative()) {
			return &domain.ConfigError{Field: field, Err: errors.New("exit percentages must not be negative")}
		}
	}
	if _, err := time.LoadLocation(t.Timezone); err != nil {
		return &domain.ConfigError{Field: "trading.timezone", Err: err}
	}
	if c.Broker.Mode == ModeBridge && !hasPrefix(c.Broker.BridgeURL, "ws://") && !hasPrefix(c.Broker.BridgeURL, "wss://") {
		return &domain.ConfigError{Field: "broker.bridge_url", Err: fmt.Errorf("not a websocket URL: %q", c.Broker.BridgeURL)}
	}

	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if url := os.Getenv("OPTGO_BRIDGE_URL"); url != "" {
		cfg.Broker.BridgeURL = url
	}
	if id := os.Getenv("OPTGO_ACCOUNT_ID"); id != "" {
		cfg.Broker.AccountID = id
	}
	if level := os.Getenv("OPTGO_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

// Location returns the exchange time zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Trading.Timezone)
}

// RequestTimeout returns the per-call broker timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Broker.RequestTimeoutMS) * time.Millisecond
}

// TradingConfig converts the trading section for the engine.
func (c *Config) TradingConfig() domain.TradingConfig {
	t := c.Trading
	out := domain.TradingConfig{
		UnderlyingSymbol: t.UnderlyingSymbol,
		TradeDelta:       t.TradeDelta,
		MaxTradeValue:    t.MaxTradeValue,
		Runner:           t.Runner,
		Currency:         c.Account.Currency,
		ChaseTimeout:     domain.DefaultChaseTimeout,
		RiskTiers:        make([]domain.RiskTier, 0, len(t.RiskLevels)),
	}
	if t.ChaseTimeoutSec > 0 {
		out.ChaseTimeout = time.Duration(t.ChaseTimeoutSec * float64(time.Second))
	}
	for _, l := range t.RiskLevels {
		tier := domain.RiskTier{
			LossThresholdPct:     l.LossThreshold,
			AccountTradeLimitPct: l.AccountTradeLimit,
		}
		if l.StopLoss != nil {
			tier.StopLossPct = decimal.NewNullDecimal(*l.StopLoss)
		}
		if l.ProfitGain != nil {
			tier.ProfitGainPct = decimal.NewNullDecimal(*l.ProfitGain)
		}
		out.RiskTiers = append(out.RiskTiers, tier)
	}
	return out
}

// TradingPatch returns the whole trading section as a patch, for hot reload.
func (c *Config) TradingPatch() domain.TradingConfigPatch {
	tc := c.TradingConfig()
	return domain.TradingConfigPatch{
		UnderlyingSymbol: &tc.UnderlyingSymbol,
		TradeDelta:       &tc.TradeDelta,
		MaxTradeValue:    &tc.MaxTradeValue,
		Runner:           &tc.Runner,
		RiskTiers:        tc.RiskTiers,
		Currency:         &tc.Currency,
		ChaseTimeout:     &tc.ChaseTimeout,
	}
}
