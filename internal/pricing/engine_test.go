package pricing_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/emberline/storefront-api/internal/pricing"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeSingleItemBelowThreshold(t *testing.T) {
	items := []pricing.Item{{ProductID: "prod_001", Name: "Premium Wireless Headphones", UnitPrice: dec("49.99"), Qty: 1}}

	b, err := pricing.Compute(items, pricing.DefaultConfig())
	require.NoError(t, err)

	require.Equal(t, "49.99", pricing.FormatAmount(b.Subtotal))
	require.Equal(t, "4.00", pricing.FormatAmount(b.Tax))
	require.Equal(t, "15.00", pricing.FormatAmount(b.Shipping))
	require.Equal(t, "68.99", pricing.FormatAmount(b.Total))
	require.Equal(t, int64(6899), pricing.MinorUnits(b.Total))
}

func TestComputeTotalIdentityIsExact(t *testing.T) {
	items := []pricing.Item{
		{ProductID: "prod_002", UnitPrice: dec("349.99"), Qty: 2},
		{ProductID: "prod_005", UnitPrice: dec("89.99"), Qty: 3},
	}

	b, err := pricing.Compute(items, pricing.DefaultConfig())
	require.NoError(t, err)

	sum := b.Subtotal.Add(b.Tax).Add(b.Shipping)
	require.True(t, b.Total.Equal(sum), "total %s != subtotal+tax+shipping %s", b.Total, sum)
}

func TestComputeFreeShippingThreshold(t *testing.T) {
	cfg := pricing.DefaultConfig()

	atThreshold, err := pricing.Compute([]pricing.Item{{ProductID: "p", UnitPrice: dec("100.00"), Qty: 1}}, cfg)
	require.NoError(t, err)
	require.True(t, atThreshold.Shipping.IsZero())

	belowThreshold, err := pricing.Compute([]pricing.Item{{ProductID: "p", UnitPrice: dec("99.99"), Qty: 1}}, cfg)
	require.NoError(t, err)
	require.True(t, belowThreshold.Shipping.Equal(dec("15.00")))
}

func TestComputeThresholdIsPreTax(t *testing.T) {
	// 95.00 + 7.60 tax crosses 100 post-tax but the threshold only looks at
	// the pre-tax subtotal, so shipping still applies.
	b, err := pricing.Compute([]pricing.Item{{ProductID: "p", UnitPrice: dec("95.00"), Qty: 1}}, pricing.DefaultConfig())
	require.NoError(t, err)
	require.True(t, b.Shipping.Equal(dec("15.00")))
}

func TestComputeDeterministic(t *testing.T) {
	items := []pricing.Item{
		{ProductID: "prod_004", UnitPrice: dec("159.99"), Qty: 1},
		{ProductID: "prod_006", UnitPrice: dec("79.99"), Qty: 2},
	}
	cfg := pricing.DefaultConfig()

	first, err := pricing.Compute(items, cfg)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := pricing.Compute(items, cfg)
		require.NoError(t, err)
		require.Equal(t, first.Total.String(), again.Total.String())
		require.Equal(t, pricing.MinorUnits(first.Total), pricing.MinorUnits(again.Total))
	}
}

func TestComputeInvalidCarts(t *testing.T) {
	cfg := pricing.DefaultConfig()

	_, err := pricing.Compute(nil, cfg)
	var invalid *pricing.InvalidCartError
	require.ErrorAs(t, err, &invalid)

	_, err = pricing.Compute([]pricing.Item{{ProductID: "p", UnitPrice: dec("-1.00"), Qty: 1}}, cfg)
	require.ErrorAs(t, err, &invalid)

	_, err = pricing.Compute([]pricing.Item{{ProductID: "p", UnitPrice: dec("1.00"), Qty: 0}}, cfg)
	require.ErrorAs(t, err, &invalid)
}

func TestMinorUnitsRoundsHalfAwayFromZero(t *testing.T) {
	require.Equal(t, int64(1), pricing.MinorUnits(dec("0.005")))
	require.Equal(t, int64(-1), pricing.MinorUnits(dec("-0.005")))
	require.Equal(t, int64(6899), pricing.MinorUnits(dec("68.9892")))

	// A non-default tax rate can land exactly on a half cent; the boundary
	// conversion must round it up, not to even.
	cfg := pricing.DefaultConfig()
	cfg.TaxRate = dec("0.075")
	b, err := pricing.Compute([]pricing.Item{{ProductID: "p", UnitPrice: dec("0.10"), Qty: 1}}, cfg)
	require.NoError(t, err)
	require.True(t, b.Tax.Equal(dec("0.0075")))
	require.Equal(t, int64(1), pricing.MinorUnits(b.Tax))
}
