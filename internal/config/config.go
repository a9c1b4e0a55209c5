package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	LogLevel      string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant string   `mapstructure:"DEFAULT_TENANT"`
	MigrationsDir string   `mapstructure:"MIGRATIONS_DIR"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`

	RedisURL     string        `mapstructure:"REDIS_URL"`
	SlotCacheTTL time.Duration `mapstructure:"SLOT_CACHE_TTL"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	DefaultTimezone           string `mapstructure:"DEFAULT_TIMEZONE"`
	MaterializeHorizonDays    int    `mapstructure:"MATERIALIZE_HORIZON_DAYS"`
	MaxOccurrences            int    `mapstructure:"MAX_OCCURRENCES"`
	CancelledBookingFreesSlot bool   `mapstructure:"CANCELLED_BOOKING_FREES_SLOT"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DEFAULT_TENANT", "MIGRATIONS_DIR", "CORS_ORIGINS", "REDIS_URL", "SLOT_CACHE_TTL",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"DEFAULT_TIMEZONE", "MATERIALIZE_HORIZON_DAYS", "MAX_OCCURRENCES", "CANCELLED_BOOKING_FREES_SLOT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("SLOT_CACHE_TTL", 60*time.Second)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", 30*time.Second)
	v.SetDefault("DEFAULT_TIMEZONE", "UTC")
	v.SetDefault("MATERIALIZE_HORIZON_DAYS", 180)
	v.SetDefault("MAX_OCCURRENCES", 1000)
	v.SetDefault("CANCELLED_BOOKING_FREES_SLOT", false)

	// Bind explicitly so Unmarshal sees keys that have no default.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// The .env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ENV=development: requests without a bearer token act as admin. Do not expose this server.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Horizon is how far ahead open-ended series are materialized.
func (c *Config) Horizon() time.Duration {
	return time.Duration(c.MaterializeHorizonDays) * 24 * time.Hour
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("DEFAULT_TIMEZONE %q is not a known IANA zone", c.DefaultTimezone)
	}
	if c.MaterializeHorizonDays <= 0 {
		return fmt.Errorf("MATERIALIZE_HORIZON_DAYS must be positive, got %d", c.MaterializeHorizonDays)
	}
	if c.MaxOccurrences < 1 || c.MaxOccurrences > 1000 {
		return fmt.Errorf("MAX_OCCURRENCES must be between 1 and 1000, got %d", c.MaxOccurrences)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}
