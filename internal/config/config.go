package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Port                 string        `mapstructure:"PORT" validate:"required,numeric"`
	Env                  string        `mapstructure:"ENV" validate:"oneof=development test production"`
	BaseURL              string        `mapstructure:"BASE_URL" validate:"omitempty,url"`
	StoreDriver          string        `mapstructure:"STORE_DRIVER" validate:"oneof=postgres memory"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL" validate:"required_if=StoreDriver postgres"`
	DBMaxConns           int32         `mapstructure:"DB_MAX_CONNS" validate:"gte=1"`
	DBMinConns           int32         `mapstructure:"DB_MIN_CONNS" validate:"gte=0,ltefield=DBMaxConns"`
	DBSchema             string        `mapstructure:"DB_SCHEMA" validate:"required"`
	RedisURL             string        `mapstructure:"REDIS_URL"`
	CacheTTL             time.Duration `mapstructure:"CACHE_TTL" validate:"gte=0"`
	SearchParametersFile string        `mapstructure:"SEARCH_PARAMETERS_FILE"`
	AuthSigningKey       string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer           string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience         string        `mapstructure:"AUTH_AUDIENCE"`
	RequestTimeout       time.Duration `mapstructure:"REQUEST_TIMEOUT" validate:"gte=0"`
	BodyLimit            string        `mapstructure:"BODY_LIMIT"`
	CORSOrigins          []string      `mapstructure:"CORS_ORIGINS"`
}

var keys = []string{
	"PORT", "ENV", "BASE_URL", "STORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DB_SCHEMA", "REDIS_URL", "CACHE_TTL", "SEARCH_PARAMETERS_FILE", "AUTH_SIGNING_KEY",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "REQUEST_TIMEOUT", "BODY_LIMIT", "CORS_ORIGINS",
}

// Load reads .env (when present) and the environment. It does not validate.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("CORS_ORIGINS", "*")

	// Bind explicitly so Unmarshal sees variables that have no default.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port + "/fhir"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// AuthEnabled reports whether bearer tokens are required on /fhir.
func (c *Config) AuthEnabled() bool {
	return c.AuthSigningKey != ""
}

var (
	validate   = validator.New()
	configType = reflect.TypeOf(Config{})
)

// Validate rejects configurations the server cannot start with. Every
// offending key is reported.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	key := envKey(fe.StructField())
	switch fe.Tag() {
	case "required", "required_if":
		return key + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", key, fe.Param(), fe.Value())
	case "ltefield":
		return key + " must not exceed " + envKey(fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation (value %v)", key, fe.Tag(), fe.Value())
	}
}

// envKey maps a Config field name to its environment variable.
func envKey(field string) string {
	f, ok := configType.FieldByName(field)
	if !ok {
		return field
	}
	return f.Tag.Get("mapstructure")
}
