package config

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// rawConfig mirrors the file/env shape viper binds into: plain strings
// for every decimal field, since mapstructure has no decimal.Decimal
// decode hook wired in.
type rawConfig struct {
	Global  rawGlobal             `mapstructure:"global"`
	Symbols map[string]rawSymbol  `mapstructure:"symbols"`
}

type rawGlobal struct {
	RiskPercent          string `mapstructure:"riskPercent"`
	PaperMode            bool   `mapstructure:"paperMode"`
	PositionMode         string `mapstructure:"positionMode"`
	MaxOpenPositions     int    `mapstructure:"maxOpenPositions"`
	UseThresholdSystem   bool   `mapstructure:"useThresholdSystem"`
	APIKey               string `mapstructure:"apiKey"`
	APISecret            string `mapstructure:"apiSecret"`
	LiquidationRetention string `mapstructure:"liquidationRetention"`
	LiquidationStorePath string `mapstructure:"liquidationStorePath"`

	RateLimit   rawRateLimit   `mapstructure:"rateLimit"`
	CopyTrading rawCopyTrading `mapstructure:"copyTrading"`
	Server      rawServer      `mapstructure:"server"`
}

type rawRateLimit struct {
	WeightPerMinute int     `mapstructure:"weightPerMinute"`
	OrdersPerMinute int     `mapstructure:"ordersPerMinute"`
	ReservePercent  float64 `mapstructure:"reservePercent"`
	QueueTimeoutMs  int     `mapstructure:"queueTimeoutMs"`
	QueueCapacity   int     `mapstructure:"queueCapacity"`
}

type rawCopyTrading struct {
	Enabled          bool   `mapstructure:"enabled"`
	StorePath        string `mapstructure:"storePath"`
	MaxFollowers     int    `mapstructure:"maxFollowers"`
	FollowerLeverage int    `mapstructure:"followerLeverage"`
}

type rawServer struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type rawSymbol struct {
	LongVolumeThresholdUSDT  string `mapstructure:"longVolumeThresholdUSDT"`
	ShortVolumeThresholdUSDT string `mapstructure:"shortVolumeThresholdUSDT"`
	VolumeThresholdUSDT      string `mapstructure:"volumeThresholdUSDT"`

	TradeSize             string  `mapstructure:"tradeSize"`
	LongTradeSize         *string `mapstructure:"longTradeSize"`
	ShortTradeSize        *string `mapstructure:"shortTradeSize"`
	MaxPositionMarginUSDT string  `mapstructure:"maxPositionMarginUSDT"`
	Leverage              int     `mapstructure:"leverage"`

	TPPercent string `mapstructure:"tpPercent"`
	SLPercent string `mapstructure:"slPercent"`

	OrderType        string `mapstructure:"orderType"`
	ForceMarketEntry bool   `mapstructure:"forceMarketEntry"`
	PriceOffsetBps   int    `mapstructure:"priceOffsetBps"`
	UsePostOnly      bool   `mapstructure:"usePostOnly"`
	MaxSlippageBps   int    `mapstructure:"maxSlippageBps"`

	VWAPProtection bool   `mapstructure:"vwapProtection"`
	VWAPTimeframe  string `mapstructure:"vwapTimeframe"`
	VWAPLookback   int    `mapstructure:"vwapLookback"`

	UseThreshold          bool  `mapstructure:"useThreshold"`
	ThresholdTimeWindowMs int64 `mapstructure:"thresholdTimeWindow"`
	ThresholdCooldownMs   int64 `mapstructure:"thresholdCooldown"`

	MaxPositionsPerPair int  `mapstructure:"maxPositionsPerPair"`
	MaxLongPositions    *int `mapstructure:"maxLongPositions"`
	MaxShortPositions   *int `mapstructure:"maxShortPositions"`
}

func parseDec(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseDecPtr(s *string) (*decimal.Decimal, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r rawConfig) toConfig() (*Config, error) {
	g := Global{
		PaperMode:            r.Global.PaperMode,
		PositionMode:         PositionMode(r.Global.PositionMode),
		MaxOpenPositions:     r.Global.MaxOpenPositions,
		UseThresholdSystem:   r.Global.UseThresholdSystem,
		APIKey:               r.Global.APIKey,
		APISecret:            r.Global.APISecret,
		LiquidationRetention: r.Global.LiquidationRetention,
		LiquidationStorePath: r.Global.LiquidationStorePath,
		RateLimit: RateLimitConfig{
			WeightPerMinute: r.Global.RateLimit.WeightPerMinute,
			OrdersPerMinute: r.Global.RateLimit.OrdersPerMinute,
			ReservePercent:  r.Global.RateLimit.ReservePercent,
			QueueTimeoutMs:  r.Global.RateLimit.QueueTimeoutMs,
			QueueCapacity:   r.Global.RateLimit.QueueCapacity,
		},
		CopyTrading: CopyTradingConfig{
			Enabled:          r.Global.CopyTrading.Enabled,
			StorePath:        r.Global.CopyTrading.StorePath,
			MaxFollowers:     r.Global.CopyTrading.MaxFollowers,
			FollowerLeverage: r.Global.CopyTrading.FollowerLeverage,
		},
		Server: ServerConfig{
			Enabled: r.Global.Server.Enabled,
			Addr:    r.Global.Server.Addr,
		},
	}
	var err error
	if g.RiskPercent, err = parseDec(r.Global.RiskPercent); err != nil {
		return nil, fmt.Errorf("config: global.riskPercent: %w", err)
	}
	if g.PositionMode != PositionModeOneWay && g.PositionMode != PositionModeHedge {
		return nil, fmt.Errorf("config: global.positionMode must be ONE_WAY or HEDGE, got %q", g.PositionMode)
	}

	symbols := make(map[string]Symbol, len(r.Symbols))
	for name, rs := range r.Symbols {
		s, err := rs.toSymbol(name)
		if err != nil {
			return nil, fmt.Errorf("config: symbols.%s: %w", name, err)
		}
		symbols[name] = s
	}

	return &Config{Global: g, Symbols: symbols}, nil
}

func (rs rawSymbol) toSymbol(name string) (Symbol, error) {
	s := Symbol{
		Symbol:              name,
		Leverage:            rs.Leverage,
		OrderType:           OrderType(rs.OrderType),
		ForceMarketEntry:    rs.ForceMarketEntry,
		PriceOffsetBps:      rs.PriceOffsetBps,
		UsePostOnly:         rs.UsePostOnly,
		MaxSlippageBps:      rs.MaxSlippageBps,
		VWAPProtection:      rs.VWAPProtection,
		VWAPTimeframe:       rs.VWAPTimeframe,
		VWAPLookback:        rs.VWAPLookback,
		UseThreshold:        rs.UseThreshold,
		ThresholdTimeWindowMs: rs.ThresholdTimeWindowMs,
		ThresholdCooldownMs:   rs.ThresholdCooldownMs,
		MaxPositionsPerPair: rs.MaxPositionsPerPair,
		MaxLongPositions:    rs.MaxLongPositions,
		MaxShortPositions:   rs.MaxShortPositions,
	}
	if s.OrderType == "" {
		s.OrderType = OrderTypeLimit
	}

	var err error
	if s.LongVolumeThresholdUSDT, err = parseDec(rs.LongVolumeThresholdUSDT); err != nil {
		return s, err
	}
	if s.ShortVolumeThresholdUSDT, err = parseDec(rs.ShortVolumeThresholdUSDT); err != nil {
		return s, err
	}
	if s.VolumeThresholdUSDT, err = parseDec(rs.VolumeThresholdUSDT); err != nil {
		return s, err
	}
	if s.TradeSize, err = parseDec(rs.TradeSize); err != nil {
		return s, err
	}
	if s.LongTradeSize, err = parseDecPtr(rs.LongTradeSize); err != nil {
		return s, err
	}
	if s.ShortTradeSize, err = parseDecPtr(rs.ShortTradeSize); err != nil {
		return s, err
	}
	if s.MaxPositionMarginUSDT, err = parseDec(rs.MaxPositionMarginUSDT); err != nil {
		return s, err
	}
	if s.TPPercent, err = parseDec(rs.TPPercent); err != nil {
		return s, err
	}
	if s.SLPercent, err = parseDec(rs.SLPercent); err != nil {
		return s, err
	}
	return s, nil
}
