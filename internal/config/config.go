package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration values used by the policy service.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on. Defaults to ":18111".
	ServerAddress string

	// DatabaseURL is the Postgres DSN used by database/sql.
	DatabaseURL string

	LogLevel  string
	LogFormat string

	// StripeSecretKey enables token-pack checkout. Empty disables it.
	StripeSecretKey string

	// StripeWebhookSecret verifies webhook signatures. Empty disables the webhook route.
	StripeWebhookSecret string

	CheckoutSuccessURL string
	CheckoutCancelURL  string

	// WorkerConcurrency is the number of job-processing goroutines.
	WorkerConcurrency int

	// GrantSweepInterval is how often the monthly token grant sweep is enqueued.
	GrantSweepInterval time.Duration

	// NearLimitNotices enables token_limit_notice jobs after purchases.
	NearLimitNotices bool
}

const (
	defaultServerAddress      = ":18111"
	defaultLogLevel           = "info"
	defaultLogFormat          = "console"
	defaultWorkerConcurrency  = 2
	defaultGrantSweepInterval = time.Hour

	envServerAddress       = "BACKEND_ADDR"
	envDatabaseURL         = "DATABASE_URL"
	envLogLevel            = "LOG_LEVEL"
	envLogFormat           = "LOG_FORMAT"
	envStripeSecretKey     = "STRIPE_SECRET_KEY"
	envStripeWebhookSecret = "STRIPE_WEBHOOK_SECRET"
	envCheckoutSuccessURL  = "CHECKOUT_SUCCESS_URL"
	envCheckoutCancelURL   = "CHECKOUT_CANCEL_URL"
	envWorkerConcurrency   = "WORKER_CONCURRENCY"
	envGrantSweepInterval  = "GRANT_SWEEP_INTERVAL"
	envNearLimitNotices    = "NEAR_LIMIT_NOTICES"
)

// Load reads configuration from environment variables, applies defaults, and returns
// a Config structure. Required values return an error when missing.
func Load() (Config, error) {
	cfg := Config{
		ServerAddress:       firstNonEmpty(os.Getenv(envServerAddress), defaultServerAddress),
		DatabaseURL:         strings.TrimSpace(os.Getenv(envDatabaseURL)),
		LogLevel:            firstNonEmpty(os.Getenv(envLogLevel), defaultLogLevel),
		LogFormat:           firstNonEmpty(os.Getenv(envLogFormat), defaultLogFormat),
		StripeSecretKey:     os.Getenv(envStripeSecretKey),
		StripeWebhookSecret: os.Getenv(envStripeWebhookSecret),
		CheckoutSuccessURL:  os.Getenv(envCheckoutSuccessURL),
		CheckoutCancelURL:   os.Getenv(envCheckoutCancelURL),
		WorkerConcurrency:   defaultWorkerConcurrency,
		GrantSweepInterval:  defaultGrantSweepInterval,
		NearLimitNotices:    true,
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("%s is required", envDatabaseURL)
	}
	if err := validateDatabaseURL(cfg.DatabaseURL); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envDatabaseURL, err)
	}

	if raw := os.Getenv(envWorkerConcurrency); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("invalid %s: %q", envWorkerConcurrency, raw)
		}
		cfg.WorkerConcurrency = n
	}

	if raw := os.Getenv(envGrantSweepInterval); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", envGrantSweepInterval, raw)
		}
		cfg.GrantSweepInterval = d
	}

	if raw := os.Getenv(envNearLimitNotices); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %q", envNearLimitNotices, raw)
		}
		cfg.NearLimitNotices = b
	}

	return cfg, nil
}

// CheckoutEnabled reports whether Stripe checkout can be offered.
func (c Config) CheckoutEnabled() bool {
	return c.StripeSecretKey != "" && c.CheckoutSuccessURL != "" && c.CheckoutCancelURL != ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func validateDatabaseURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch parsed.Scheme {
	case "postgres", "postgresql":
	default:
		return fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
