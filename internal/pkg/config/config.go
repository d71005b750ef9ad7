// Package config assembles the process configuration from the environment and
// refuses to hand out a partially configured Config.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
	"github.com/ManuelReschke/tiergate/internal/pkg/env"
)

const (
	StoreDriverMySQL     = "mysql"
	StoreDriverFirestore = "firestore"
	StoreDriverMemory    = "memory"

	IdempotencyDriverRedis  = "redis"
	IdempotencyDriverStore  = "store"
	IdempotencyDriverMemory = "memory"
)

type Config struct {
	AppHost string `env:"APP_HOST"`
	AppPort string `env:"APP_PORT" validate:"required,numeric"`
	AppEnv  string `env:"APP_ENV"`

	Stripe      StripeConfig
	Checkout    CheckoutConfig
	Store       StoreConfig
	Idempotency IdempotencyConfig

	AdminAPIKey string `env:"ADMIN_API_KEY" validate:"omitempty,min=16"`
}

type StripeConfig struct {
	SecretKey        string        `env:"STRIPE_SECRET_KEY" validate:"required,startswith=sk_|startswith=rk_"`
	WebhookSecret    string        `env:"STRIPE_WEBHOOK_SECRET" validate:"required,startswith=whsec_"`
	PriceIDBasic     string        `env:"STRIPE_PRICE_ID_BASIC" validate:"required"`
	PriceIDPro       string        `env:"STRIPE_PRICE_ID_PRO" validate:"required"`
	PriceIDElite     string        `env:"STRIPE_PRICE_ID_ELITE" validate:"required"`
	WebhookTolerance time.Duration `env:"WEBHOOK_TOLERANCE" validate:"min=1s"`
	WebhookTimeout   time.Duration `env:"WEBHOOK_TIMEOUT" validate:"min=1s"`
}

type CheckoutConfig struct {
	FrontendURL string `env:"FRONTEND_URL" validate:"required,url"`
	RateLimit   int    `env:"CHECKOUT_RATE_LIMIT" validate:"min=1"`
}

type StoreConfig struct {
	Driver string `env:"STORE_DRIVER" validate:"oneof=mysql firestore memory"`

	DBHost     string `env:"DB_HOST" validate:"required_if=Driver mysql"`
	DBPort     string `env:"DB_PORT" validate:"required_if=Driver mysql"`
	DBUser     string `env:"DB_USER" validate:"required_if=Driver mysql"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME" validate:"required_if=Driver mysql"`

	FirestoreProjectID      string `env:"FIRESTORE_PROJECT_ID" validate:"required_if=Driver firestore"`
	FirebaseCredentialsFile string `env:"FIREBASE_CREDENTIALS_FILE"`
	FirestoreEmulatorHost   string `env:"FIRESTORE_EMULATOR_HOST"`
}

type IdempotencyConfig struct {
	Driver        string        `env:"IDEMPOTENCY_DRIVER" validate:"oneof=redis store memory"`
	TTL           time.Duration `env:"IDEMPOTENCY_TTL" validate:"min=1m"`
	SweepInterval time.Duration `env:"RETENTION_SWEEP_INTERVAL" validate:"min=1s"`

	CacheHost     string `env:"CACHE_HOST" validate:"required_if=Driver redis"`
	CachePort     string `env:"CACHE_PORT" validate:"required_if=Driver redis"`
	CachePassword string `env:"CACHE_PASSWORD"`
}

// Error is the ConfigurationError of the service: the process must not start.
type Error struct {
	Fields []string
}

func (e *Error) Error() string {
	return "configuration error: missing or invalid " + strings.Join(e.Fields, ", ")
}

// Load reads the environment (see env.GetEnv) and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		AppHost: env.GetEnv("APP_HOST", "localhost"),
		AppPort: env.GetEnv("APP_PORT", "4242"),
		AppEnv:  env.GetEnv("APP_ENV", "prod"),
		Stripe: StripeConfig{
			SecretKey:        strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
			WebhookSecret:    strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
			PriceIDBasic:     strings.TrimSpace(env.GetEnv("STRIPE_PRICE_ID_BASIC", "")),
			PriceIDPro:       strings.TrimSpace(env.GetEnv("STRIPE_PRICE_ID_PRO", "")),
			PriceIDElite:     strings.TrimSpace(env.GetEnv("STRIPE_PRICE_ID_ELITE", "")),
			WebhookTolerance: env.GetDuration("WEBHOOK_TOLERANCE", 5*time.Minute),
			WebhookTimeout:   env.GetDuration("WEBHOOK_TIMEOUT", 8*time.Second),
		},
		Checkout: CheckoutConfig{
			FrontendURL: strings.TrimRight(strings.TrimSpace(env.GetEnv("FRONTEND_URL", "")), "/"),
			RateLimit:   env.GetInt("CHECKOUT_RATE_LIMIT", 20),
		},
		Store: StoreConfig{
			Driver:                  strings.ToLower(env.GetEnv("STORE_DRIVER", StoreDriverMySQL)),
			DBHost:                  env.GetEnv("DB_HOST", "127.0.0.1"),
			DBPort:                  env.GetEnv("DB_PORT", "3306"),
			DBUser:                  env.GetEnv("DB_USER", ""),
			DBPassword:              env.GetEnv("DB_PASSWORD", ""),
			DBName:                  env.GetEnv("DB_NAME", ""),
			FirestoreProjectID:      env.GetEnv("FIRESTORE_PROJECT_ID", ""),
			FirebaseCredentialsFile: env.GetEnv("FIREBASE_CREDENTIALS_FILE", ""),
			FirestoreEmulatorHost:   env.GetEnv("FIRESTORE_EMULATOR_HOST", ""),
		},
		Idempotency: IdempotencyConfig{
			Driver:        strings.ToLower(env.GetEnv("IDEMPOTENCY_DRIVER", IdempotencyDriverRedis)),
			TTL:           env.GetDuration("IDEMPOTENCY_TTL", 72*time.Hour),
			SweepInterval: env.GetDuration("RETENTION_SWEEP_INTERVAL", time.Hour),
			CacheHost:     env.GetEnv("CACHE_HOST", "localhost"),
			CachePort:     env.GetEnv("CACHE_PORT", "6379"),
			CachePassword: env.GetEnv("CACHE_PASSWORD", ""),
		},
		AdminAPIKey: strings.TrimSpace(env.GetEnv("ADMIN_API_KEY", "")),
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once as an *Error.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &Error{Fields: []string{"config"}}
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})

	err := v.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return &Error{Fields: fields}
}

// Prices maps every sellable tier to its configured provider price id.
func (c *Config) Prices() map[entitlements.Tier]string {
	return map[entitlements.Tier]string{
		entitlements.TierBasic: c.Stripe.PriceIDBasic,
		entitlements.TierPro:   c.Stripe.PriceIDPro,
		entitlements.TierElite: c.Stripe.PriceIDElite,
	}
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.AppHost, c.AppPort)
}

func (c *Config) IsDev() bool {
	return c.AppEnv == "dev"
}

// SuccessURL is where the provider sends the user after paying.
func (c *Config) SuccessURL() string {
	return c.Checkout.FrontendURL + "/dashboard?success=true"
}

func (c *Config) CancelURL() string {
	return c.Checkout.FrontendURL + "/dashboard?canceled=true"
}
