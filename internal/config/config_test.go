package config_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/emberline/storefront-api/internal/config"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":            "postgres://localhost:5432/storefront",
		"REDIS_URL":               "redis://localhost:6379/0",
		"STRIPE_SECRET_KEY":       "sk_test_123",
		"STRIPE_WEBHOOK_SECRET":   "whsec_123",
		"STRIPE_PUBLISHABLE_KEY":  "pk_test_123",
		"TAX_RATE":                "",
		"FREE_SHIPPING_THRESHOLD": "",
		"SHIPPING_FLAT_FEE":       "",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(baseEnv())
	require.NoError(t, err)

	require.True(t, cfg.TaxRate.Equal(decimal.RequireFromString("0.08")))
	require.True(t, cfg.FreeShippingThreshold.Equal(decimal.RequireFromString("100.00")))
	require.True(t, cfg.ShippingFlatFee.Equal(decimal.RequireFromString("15.00")))
	require.Equal(t, "usd", cfg.Currency)
	require.Equal(t, 5*time.Minute, cfg.WebhookTolerance)
	require.Equal(t, ":8080", cfg.HTTPAddr())
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["TAX_RATE"] = "0.075"
	env["FREE_SHIPPING_THRESHOLD"] = "50"
	env["PORT"] = "9090"

	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)

	require.True(t, cfg.TaxRate.Equal(decimal.RequireFromString("0.075")))
	require.True(t, cfg.FreeShippingThreshold.Equal(decimal.NewFromInt(50)))
	require.Equal(t, ":9090", cfg.HTTPAddr())
}

func TestLoadRequiresStripeSecrets(t *testing.T) {
	env := baseEnv()
	env["STRIPE_SECRET_KEY"] = ""

	_, err := config.LoadForTests(env)
	require.Error(t, err)

	env = baseEnv()
	env["STRIPE_WEBHOOK_SECRET"] = ""

	_, err = config.LoadForTests(env)
	require.Error(t, err)
}
