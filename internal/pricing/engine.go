package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Item describes a cart line item used for pricing calculation. Unit prices
// arrive from the client and are summed as-is; the authoritative total is
// still recomputed here rather than accepted from the client.
type Item struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Qty       int
}

// Breakdown aggregates computed pricing components. All values are exact
// decimals; rounding to cents happens only at the minor-unit boundary.
type Breakdown struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
	Currency string
}

// Config carries the pricing constants. Threaded in at construction so the
// engine stays deterministic and independently testable.
type Config struct {
	TaxRate               decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	ShippingFlatFee       decimal.Decimal
	Currency              string
}

// DefaultConfig returns the storefront defaults: 8% tax, free shipping at
// $100 pre-tax, $15 flat fee otherwise.
func DefaultConfig() Config {
	return Config{
		TaxRate:               decimal.RequireFromString("0.08"),
		FreeShippingThreshold: decimal.RequireFromString("100.00"),
		ShippingFlatFee:       decimal.RequireFromString("15.00"),
		Currency:              "usd",
	}
}

// InvalidCartError reports a cart that cannot be priced.
type InvalidCartError struct {
	Reason string
}

// Error implements the error interface.
func (e *InvalidCartError) Error() string {
	return "invalid cart: " + e.Reason
}

// Compute derives the monetary breakdown for the given line items.
// The free-shipping threshold is evaluated on the pre-tax subtotal and the
// identity total = subtotal + tax + shipping holds exactly.
func Compute(items []Item, cfg Config) (Breakdown, error) {
	if len(items) == 0 {
		return Breakdown{}, &InvalidCartError{Reason: "cart is empty"}
	}
	subtotal := decimal.Zero
	for i, it := range items {
		if it.UnitPrice.IsNegative() {
			return Breakdown{}, &InvalidCartError{Reason: fmt.Sprintf("item %d has negative unit price", i)}
		}
		if it.Qty < 1 {
			return Breakdown{}, &InvalidCartError{Reason: fmt.Sprintf("item %d has quantity below 1", i)}
		}
		subtotal = subtotal.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Qty))))
	}

	tax := subtotal.Mul(cfg.TaxRate)
	shipping := cfg.ShippingFlatFee
	if subtotal.GreaterThanOrEqual(cfg.FreeShippingThreshold) {
		shipping = decimal.Zero
	}
	total := subtotal.Add(tax).Add(shipping)

	currency := cfg.Currency
	if currency == "" {
		currency = "usd"
	}
	return Breakdown{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Total:    total,
		Currency: currency,
	}, nil
}

// MinorUnits converts an amount to integer minor units (cents for USD),
// rounding half away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FormatAmount renders an amount with two decimal places for display and
// metadata snapshots, rounding half away from zero.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}
