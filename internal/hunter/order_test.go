package hunter

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lickhunter/engine/internal/config"
	"github.com/lickhunter/engine/internal/liquidations"
	"github.com/lickhunter/engine/internal/symbols"
)

func testFilter() symbols.Filter {
	return symbols.Filter{
		TickSize:    decimal.RequireFromString("0.01"),
		StepSize:    decimal.RequireFromString("0.001"),
		MinQty:      decimal.RequireFromString("0.001"),
		MinNotional: decimal.RequireFromString("5"),
		PricePlaces: 2,
		QtyPlaces:   3,
	}
}

func TestComputeOrderUsesBaseTradeSizeAndLeverage(t *testing.T) {
	symCfg := config.Symbol{
		TradeSize:      decimal.RequireFromString("50"),
		Leverage:       10,
		OrderType:      config.OrderTypeMarket,
		MaxSlippageBps: 50,
	}
	co := computeOrder(liquidations.DirectionLong, decimal.RequireFromString("100"), symCfg, testFilter())

	require.Equal(t, "BUY", co.Side)
	require.Equal(t, config.OrderTypeMarket, co.OrderType)
	// notional = 50*10 = 500, qty = 500/100 = 5
	require.Equal(t, "5", co.Quantity.String())
}

func TestComputeOrderFloorsAtMinNotionalTimes101Percent(t *testing.T) {
	symCfg := config.Symbol{
		TradeSize: decimal.RequireFromString("1"),
		Leverage:  1,
		OrderType: config.OrderTypeMarket,
	}
	filter := testFilter()
	filter.MinNotional = decimal.RequireFromString("100")

	co := computeOrder(liquidations.DirectionShort, decimal.RequireFromString("10"), symCfg, filter)
	// notional floor = 100*1.01=101, qty = 101/10 = 10.1
	require.Equal(t, "10.1", co.Quantity.String())
	require.Equal(t, "SELL", co.Side)
}

func TestComputeOrderDowngradesToMarketOnExcessSlippage(t *testing.T) {
	symCfg := config.Symbol{
		TradeSize:      decimal.RequireFromString("50"),
		Leverage:       5,
		OrderType:      config.OrderTypeLimit,
		PriceOffsetBps: 500, // 5% offset, way beyond any sane slippage cap
		MaxSlippageBps: 10,
	}
	co := computeOrder(liquidations.DirectionLong, decimal.RequireFromString("100"), symCfg, testFilter())
	require.Equal(t, config.OrderTypeMarket, co.OrderType)
	require.Equal(t, "100", co.Price.String())
}

func TestComputeOrderForceMarketEntryOverridesLimit(t *testing.T) {
	symCfg := config.Symbol{
		TradeSize:        decimal.RequireFromString("50"),
		Leverage:         5,
		OrderType:        config.OrderTypeLimit,
		PriceOffsetBps:   5,
		MaxSlippageBps:   100,
		ForceMarketEntry: true,
	}
	co := computeOrder(liquidations.DirectionLong, decimal.RequireFromString("100"), symCfg, testFilter())
	require.Equal(t, config.OrderTypeMarket, co.OrderType)
}

func TestComputeOrderDirectionalTradeSizeOverride(t *testing.T) {
	short := decimal.RequireFromString("75")
	symCfg := config.Symbol{
		TradeSize:      decimal.RequireFromString("50"),
		ShortTradeSize: &short,
		Leverage:       1,
		OrderType:      config.OrderTypeMarket,
	}
	co := computeOrder(liquidations.DirectionShort, decimal.RequireFromString("10"), symCfg, testFilter())
	// notional = 75*1 = 75, qty = 7.5
	require.Equal(t, "7.5", co.Quantity.String())
}
