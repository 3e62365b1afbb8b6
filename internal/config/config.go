// Package config loads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Port      string `validate:"required,numeric"`
	DBPath    string `validate:"required"`
	BaseURL   string `validate:"required,url"`
	LogLevel  string `validate:"omitempty,oneof=debug info warn error"`
	LogFormat string `validate:"omitempty,oneof=text json"`

	JWTSecret string `validate:"required,min=16"`
	JWTIssuer string

	CORSAllowOrigin string `validate:"required"`

	Stripe StripeConfig
}

type StripeConfig struct {
	SecretKey      string
	WebhookSecret  string `validate:"required_with=SecretKey"`
	PriceIDMonthly string `validate:"required_with=SecretKey"`
	PriceIDYearly  string
	APITimeout     time.Duration `validate:"gt=0"`
}

// Enabled reports whether the Stripe endpoints should be served.
func (s StripeConfig) Enabled() bool {
	return s.SecretKey != ""
}

// LoadEnvFiles seeds the environment from the given files. Missing files are
// skipped; variables already set are not overridden.
func LoadEnvFiles(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the configuration from the process environment. It does not
// validate; call Validate before serving.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads the configuration through getenv.
func LoadFrom(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}

	port := get("PORT", "8080")
	cfg := &Config{
		Port:            port,
		DBPath:          get("DB_PATH", "ideacapture.db"),
		BaseURL:         get("BASE_URL", "http://localhost:"+port),
		LogLevel:        get("LOG_LEVEL", "info"),
		LogFormat:       get("LOG_FORMAT", "text"),
		JWTSecret:       getenv("AUTH_JWT_SECRET"),
		JWTIssuer:       getenv("AUTH_JWT_ISSUER"),
		CORSAllowOrigin: get("CORS_ALLOW_ORIGIN", "*"),
		Stripe: StripeConfig{
			SecretKey:      getenv("STRIPE_SECRET_KEY"),
			WebhookSecret:  getenv("STRIPE_WEBHOOK_SECRET"),
			PriceIDMonthly: getenv("STRIPE_PRICE_ID_MONTHLY"),
			PriceIDYearly:  getenv("STRIPE_PRICE_ID_YEARLY"),
		},
	}

	timeout, err := time.ParseDuration(get("STRIPE_API_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("parse STRIPE_API_TIMEOUT: %w", err)
	}
	cfg.Stripe.APITimeout = timeout

	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags and reports every failing field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			errs := make([]error, 0, len(verrs))
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %w", errors.Join(errs...))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
