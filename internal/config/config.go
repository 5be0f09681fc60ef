// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string

	// Platform payment settings
	CommissionPercent float64 // platform cut on released payments, in percent
	Currency          string

	// Onboarding redirect targets for Stripe Connect
	FrontendURL string

	// Reconciliation
	ReconcileTolerance string // max acceptable local/gateway drift, decimal units
	ReconcileInterval  int    // seconds between reconciliation sweeps; 0 disables

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultCommissionPercent = 10
	DefaultCurrency          = "usd"
	DefaultFrontendURL       = "http://localhost:4200"
	DefaultTolerance         = "0.01"
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		CommissionPercent:   getEnvFloat("PLATFORM_COMMISSION_PERCENTAGE", DefaultCommissionPercent),
		Currency:            getEnv("PLATFORM_CURRENCY", DefaultCurrency),
		FrontendURL:         getEnv("FRONTEND_URL", DefaultFrontendURL),
		ReconcileTolerance:  getEnv("RECONCILE_TOLERANCE", DefaultTolerance),
		ReconcileInterval:   getEnvInt("RECONCILE_INTERVAL_SECONDS", 0),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	if c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}
	if c.CommissionPercent < 0 || c.CommissionPercent >= 100 {
		return fmt.Errorf("PLATFORM_COMMISSION_PERCENTAGE must be in [0, 100), got %v", c.CommissionPercent)
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
