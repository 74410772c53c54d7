package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config is the process-wide configuration, loaded once at startup from the
// environment (prefix APP_, nesting separator __) with an optional .env file
// for local runs. Example: APP_EMAIL__AUTH_TOKEN maps to email.auth_token.
type Config struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`

	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Location     LocationConfig     `mapstructure:"location"`
	Email        EmailConfig        `mapstructure:"email"`
	RateLimits   RateLimitConfig    `mapstructure:"external_api_rate_limits"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Crawl        CrawlConfig        `mapstructure:"crawl"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Migrations   MigrationsConfig   `mapstructure:"migrations"`
}

type ServerConfig struct {
	Port        string   `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

type RedisConfig struct {
	Host string `mapstructure:"host"`
}

// LocationConfig points at the place-details / nearby-search API.
type LocationConfig struct {
	Host   string `mapstructure:"host"`
	APIKey string `mapstructure:"api_key"`
}

type EmailConfig struct {
	Host           string `mapstructure:"host"`
	AuthToken      string `mapstructure:"auth_token"`
	TemplateID     string `mapstructure:"template_id"`
	AddressToAlert string `mapstructure:"address_to_alert"`
}

// RateLimitConfig holds the per-second refill rates for the shared
// token buckets guarding outbound API calls.
type RateLimitConfig struct {
	Location int `mapstructure:"location"`
	Email    int `mapstructure:"email"`
}

type AuthConfig struct {
	JWKS        string   `mapstructure:"jwks"`
	Authorities []string `mapstructure:"authorities"`
	Audiences   []string `mapstructure:"audiences"`
}

type CrawlConfig struct {
	ListingURL string `mapstructure:"listing_url"`
	Schedule   string `mapstructure:"schedule"`
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type MigrationsConfig struct {
	Dir string `mapstructure:"dir"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.cors_origins", "http://localhost:3000")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("redis.host", "localhost:6379")
	v.SetDefault("external_api_rate_limits.location", 10)
	v.SetDefault("external_api_rate_limits.email", 10)
	v.SetDefault("crawl.listing_url", "https://www.kplc.co.ke/category/view/50/planned-power-interruptions")
	v.SetDefault("crawl.schedule", "@every 1h")
	v.SetDefault("worker.concurrency", 0) // 0 -> derived from NumCPU
	v.SetDefault("migrations.dir", "migrations")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"env",
		"log_level",
		"server.port",
		"server.cors_origins",
		"database.url",
		"database.max_conns",
		"database.min_conns",
		"redis.host",
		"location.host",
		"location.api_key",
		"email.host",
		"email.auth_token",
		"email.template_id",
		"email.address_to_alert",
		"external_api_rate_limits.location",
		"external_api_rate_limits.email",
		"auth.jwks",
		"auth.authorities",
		"auth.audiences",
		"crawl.listing_url",
		"crawl.schedule",
		"worker.concurrency",
		"migrations.dir",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Comma-separated lists arrive as plain strings from the environment.
	if cfg.Server.CORSOrigins == nil {
		if origins := v.GetString("server.cors_origins"); origins != "" {
			cfg.Server.CORSOrigins = strings.Split(origins, ",")
		}
	}
	if cfg.Auth.Authorities == nil {
		if auths := v.GetString("auth.authorities"); auths != "" {
			cfg.Auth.Authorities = strings.Split(auths, ",")
		}
	}
	if cfg.Auth.Audiences == nil {
		if auds := v.GetString("auth.audiences"); auds != "" {
			cfg.Auth.Audiences = strings.Split(auds, ",")
		}
	}

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("APP_DATABASE__URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Running in DEVELOPMENT mode (APP_ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — bearer tokens are not verified.")
		log.Println("WARNING: Set APP_ENV=production and configure APP_AUTH__JWKS for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the service is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. In production the
// JWKS endpoint must be set so that real JWT authentication is enforced, and
// the outbound-API credentials must be present.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.Auth.JWKS == "" {
			return fmt.Errorf("APP_AUTH__JWKS is required in production; refusing to start without authentication")
		}
		if c.Email.AuthToken == "" {
			return fmt.Errorf("APP_EMAIL__AUTH_TOKEN is required in production")
		}
		if c.Location.APIKey == "" {
			return fmt.Errorf("APP_LOCATION__API_KEY is required in production")
		}
	}

	if c.RateLimits.Location <= 0 {
		return fmt.Errorf("external_api_rate_limits.location must be positive, got %d", c.RateLimits.Location)
	}
	if c.RateLimits.Email <= 0 {
		return fmt.Errorf("external_api_rate_limits.email must be positive, got %d", c.RateLimits.Email)
	}

	return nil
}
