// Package config holds the full configuration surface and a narrow,
// one-shot loader, generalized from a single flat struct to Global +
// per-symbol blocks and bound via viper's file+env binding.
package config

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// PositionMode mirrors the venue's dual-side setting.
type PositionMode string

const (
	PositionModeOneWay PositionMode = "ONE_WAY"
	PositionModeHedge  PositionMode = "HEDGE"
)

// OrderType is the configured entry order style for a symbol.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// RateLimitConfig tunes the Rate-Limit Governor (C2).
type RateLimitConfig struct {
	WeightPerMinute int
	OrdersPerMinute int
	ReservePercent  float64
	QueueTimeoutMs  int
	QueueCapacity   int
}

// CopyTradingConfig is the global copy-trading block.
type CopyTradingConfig struct {
	Enabled          bool
	StorePath        string
	MaxFollowers     int
	FollowerLeverage int
}

// ServerConfig is the global HTTP/status-server block.
type ServerConfig struct {
	Enabled bool
	Addr    string
}

// Global is the account-wide configuration block.
type Global struct {
	RiskPercent         decimal.Decimal
	PaperMode           bool
	PositionMode        PositionMode
	MaxOpenPositions    int
	UseThresholdSystem  bool
	RateLimit           RateLimitConfig
	CopyTrading         CopyTradingConfig
	Server              ServerConfig
	APIKey              string
	APISecret           string
	LiquidationRetention string // e.g. "168h" (7d) .. "720h" (30d)
	LiquidationStorePath string // "" = in-memory only
}

// Symbol is the per-symbol configuration block.
// Pointer fields distinguish "unset, inherit" from an explicit zero value.
type Symbol struct {
	Symbol                  string
	LongVolumeThresholdUSDT decimal.Decimal
	ShortVolumeThresholdUSDT decimal.Decimal
	// VolumeThresholdUSDT is the legacy single-threshold field; when set
	// and the directional fields are zero, it seeds both directions.
	VolumeThresholdUSDT decimal.Decimal

	TradeSize          decimal.Decimal
	LongTradeSize      *decimal.Decimal
	ShortTradeSize     *decimal.Decimal
	MaxPositionMarginUSDT decimal.Decimal
	Leverage           int

	TPPercent decimal.Decimal
	SLPercent decimal.Decimal

	OrderType        OrderType
	ForceMarketEntry bool
	PriceOffsetBps   int
	UsePostOnly      bool
	MaxSlippageBps   int

	VWAPProtection bool
	VWAPTimeframe  string
	VWAPLookback   int

	UseThreshold        bool
	ThresholdTimeWindowMs int64
	ThresholdCooldownMs   int64

	MaxPositionsPerPair int
	MaxLongPositions    *int
	MaxShortPositions   *int
}

// EffectiveLongThreshold resolves the legacy/directional threshold
// precedence: explicit directional value wins, else the legacy single
// value seeds it.
func (s Symbol) EffectiveLongThreshold() decimal.Decimal {
	if !s.LongVolumeThresholdUSDT.IsZero() {
		return s.LongVolumeThresholdUSDT
	}
	return s.VolumeThresholdUSDT
}

func (s Symbol) EffectiveShortThreshold() decimal.Decimal {
	if !s.ShortVolumeThresholdUSDT.IsZero() {
		return s.ShortVolumeThresholdUSDT
	}
	return s.VolumeThresholdUSDT
}

// EffectiveTradeSize resolves direction-specific overrides against the
// base trade size: an explicit per-direction override wins, else the
// base trade size applies to both directions.
func (s Symbol) EffectiveTradeSize(isLong bool) decimal.Decimal {
	if isLong && s.LongTradeSize != nil {
		return *s.LongTradeSize
	}
	if !isLong && s.ShortTradeSize != nil {
		return *s.ShortTradeSize
	}
	return s.TradeSize
}

// Config is the full, validated configuration tree passed to engine
// construction.
type Config struct {
	Global  Global
	Symbols map[string]Symbol
}

// Load performs a single, one-shot read of path plus environment
// overrides via viper. There is no file watch / hot-reload: config
// changes go through Hunter's UpdateConfig as an explicit, atomic,
// logged operation instead of an implicit background reload.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ENGINE")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return raw.toConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("global.riskPercent", "1.0")
	v.SetDefault("global.paperMode", true)
	v.SetDefault("global.positionMode", string(PositionModeOneWay))
	v.SetDefault("global.maxOpenPositions", 3)
	v.SetDefault("global.useThresholdSystem", true)
	v.SetDefault("global.rateLimit.weightPerMinute", 2400)
	v.SetDefault("global.rateLimit.ordersPerMinute", 1200)
	v.SetDefault("global.rateLimit.reservePercent", 0.10)
	v.SetDefault("global.rateLimit.queueTimeoutMs", 5000)
	v.SetDefault("global.rateLimit.queueCapacity", 256)
	v.SetDefault("global.liquidationRetention", "168h")
	v.SetDefault("global.copyTrading.followerLeverage", 10)
}
