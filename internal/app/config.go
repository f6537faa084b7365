package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Storage     string `default:"postgres" usage:"Storage backend: postgres or memory"`
	SeedFile    string `usage:"Seed document loaded at startup, JSON or gzipped JSON" flag:"seed-file"`
	Auth        AuthConfig
	Payment     PaymentConfig
	Redis       RedisConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Secret   string `usage:"HMAC secret for bearer tokens (CHECKOUT_AUTH_SECRET)"`
	Issuer   string `usage:"Expected token issuer, empty to skip the check"`
	Audience string `usage:"Expected token audience, empty to skip the check"`
}

// PaymentConfig configures bank transfer payments.
type PaymentConfig struct {
	CodePrefix        string `default:"WDP" usage:"Payment code prefix" flag:"payment-code-prefix"`
	Currency          string `default:"VND" usage:"Order and invoice currency"`
	CodeAttempts      int    `default:"5" usage:"Payment code generation attempts per order" flag:"payment-code-attempts"`
	WebhookSecret     string `usage:"Shared secret expected on payment webhooks, empty disables the check" flag:"webhook-secret"`
	BankAccountID     string `usage:"Receiving bank account id at the payment provider"`
	BankAccountNumber string `usage:"Receiving bank account number"`
	BankName          string `usage:"Receiving bank short name"`
	BankAccountName   string `usage:"Receiving bank account holder"`
	QRBaseURL         string `default:"https://qr.sepay.vn/img" usage:"Transfer QR image base URL" flag:"qr-base-url"`
}

// RedisConfig configures the optional webhook deduplication store.
type RedisConfig struct {
	Addr     string        `usage:"Redis address, empty disables notification deduplication"`
	Password string        `usage:"Redis password"`
	DB       int           `default:"0" usage:"Redis database"`
	InFlight time.Duration `default:"2m" usage:"How long an unsettled notification claim is held" flag:"redis-in-flight"`
	TTL      time.Duration `default:"24h" usage:"How long a processed notification stays claimed"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
		}
	case StorageMemory:
	default:
		return errors.Errorf("unknown storage %q: want %s or %s", c.Storage, StoragePostgres, StorageMemory)
	}
	if c.Auth.Secret == "" {
		return errors.New("auth secret is required: set CHECKOUT_AUTH_SECRET")
	}
	if c.Payment.CodePrefix == "" {
		return errors.New("payment code prefix must not be empty")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's CHECKOUT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
