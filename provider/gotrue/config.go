package gotrue

import (
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// Config configures the GoTrue client.
type Config struct {
	// URL is the base auth endpoint, e.g. https://<ref>.supabase.co/auth/v1.
	URL string `env:"GOTRUE_URL"`

	// AnonKey is the public API key sent with every request.
	AnonKey string `env:"GOTRUE_ANON_KEY"`

	// StorageKeyPrefix namespaces the persisted token entry; the stored key
	// becomes "<prefix>-auth-token".
	StorageKeyPrefix string `env:"GOTRUE_STORAGE_KEY_PREFIX" envDefault:"sb"`

	// RequestTimeout bounds each HTTP request.
	RequestTimeout time.Duration `env:"GOTRUE_REQUEST_TIMEOUT" envDefault:"10s"`
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.URL, validation.Required, is.URL),
		validation.Field(&c.AnonKey, validation.Required),
		validation.Field(&c.StorageKeyPrefix, validation.Required),
	)
}

// NewConfigFromEnv loads the config from environment variables.
func NewConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
