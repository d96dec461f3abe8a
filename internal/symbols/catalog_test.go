package symbols

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := New(nil, nil)
	c.filters["ASTERUSDT"] = Filter{
		TickSize:    decimal.RequireFromString("0.0001"),
		StepSize:    decimal.RequireFromString("1"),
		MinQty:      decimal.RequireFromString("1"),
		MinNotional: decimal.RequireFromString("5"),
		PricePlaces: 4,
		QtyPlaces:   0,
	}
	return c
}

func TestFormatPriceRoundsDown(t *testing.T) {
	c := testCatalog(t)
	got, err := c.FormatPrice("ASTERUSDT", decimal.RequireFromString("0.99957"))
	require.NoError(t, err)
	require.Equal(t, "0.9995", got.String())
}

func TestFormatQuantityRoundsDownNeverUp(t *testing.T) {
	c := testCatalog(t)
	got, err := c.FormatQuantity("ASTERUSDT", decimal.RequireFromString("19.9"))
	require.NoError(t, err)
	require.Equal(t, "19", got.String())
}

func TestUnknownSymbolWithoutFallbackErrors(t *testing.T) {
	c := testCatalog(t)
	_, err := c.FormatPrice("NOPEUSDT", decimal.NewFromInt(1))
	require.Error(t, err)
	var target *ErrSymbolUnknown
	require.ErrorAs(t, err, &target)
}

func TestUnknownSymbolWithFallback(t *testing.T) {
	c := New(nil, &Filter{TickSize: decimal.RequireFromString("0.01"), StepSize: decimal.RequireFromString("0.001"), PricePlaces: 2, QtyPlaces: 3})
	got, err := c.FormatPrice("NOPEUSDT", decimal.RequireFromString("1.2345"))
	require.NoError(t, err)
	require.Equal(t, "1.23", got.String())
}

func TestValidateAdjustsQtyUpToMinNotional(t *testing.T) {
	c := testCatalog(t)
	res, err := c.Validate("ASTERUSDT", decimal.RequireFromString("1.00"), decimal.RequireFromString("2"))
	require.NoError(t, err)
	require.True(t, res.OK)
	require.True(t, res.Adjusted)
	require.True(t, res.Qty.GreaterThanOrEqual(decimal.RequireFromString("5")))
}

func TestValidateAdjustsQtyUpToMinQty(t *testing.T) {
	c := testCatalog(t)
	res, err := c.Validate("ASTERUSDT", decimal.RequireFromString("100"), decimal.RequireFromString("0"))
	require.NoError(t, err)
	require.True(t, res.Adjusted)
	require.Equal(t, "1", res.Qty.String())
}
