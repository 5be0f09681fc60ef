package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_x")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_x")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, float64(DefaultCommissionPercent), cfg.CommissionPercent)
	assert.Equal(t, DefaultCurrency, cfg.Currency)
	assert.Equal(t, DefaultTolerance, cfg.ReconcileTolerance)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_x")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_x")
	t.Setenv("PLATFORM_COMMISSION_PERCENTAGE", "15.5")
	t.Setenv("ENV", "production")
	t.Setenv("RECONCILE_INTERVAL_SECONDS", "300")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15.5, cfg.CommissionPercent)
	assert.Equal(t, 300, cfg.ReconcileInterval)
	assert.True(t, cfg.IsProduction())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing secret key", func(c *Config) { c.StripeSecretKey = "" }, "STRIPE_SECRET_KEY"},
		{"missing webhook secret", func(c *Config) { c.StripeWebhookSecret = "" }, "STRIPE_WEBHOOK_SECRET"},
		{"negative commission", func(c *Config) { c.CommissionPercent = -1 }, "PLATFORM_COMMISSION_PERCENTAGE"},
		{"commission too high", func(c *Config) { c.CommissionPercent = 100 }, "PLATFORM_COMMISSION_PERCENTAGE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				StripeSecretKey:     "sk_test_x",
				StripeWebhookSecret: "whsec_x",
				CommissionPercent:   10,
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
