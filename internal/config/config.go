// Package config loads prospector configuration from config.yaml, .env and
// PROSPECTOR_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Enrich     EnrichConfig     `yaml:"enrich" mapstructure:"enrich"`
	Demo       DemoConfig       `yaml:"demo" mapstructure:"demo"`
	Notify     NotifyConfig     `yaml:"notify" mapstructure:"notify"`
	AMQP       AMQPConfig       `yaml:"amqp" mapstructure:"amqp"`
	SMTP       SMTPConfig       `yaml:"smtp" mapstructure:"smtp"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// GoogleConfig holds Places and Geocoding credentials.
type GoogleConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	PlacesURL  string `yaml:"places_url" mapstructure:"places_url"`
	GeocodeURL string `yaml:"geocode_url" mapstructure:"geocode_url"`
	Language   string `yaml:"language" mapstructure:"language"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
}

// JinaConfig holds Jina AI Reader settings.
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// SalesforceConfig holds Salesforce JWT auth settings. Empty ClientID
// disables the Salesforce lead mirror.
type SalesforceConfig struct {
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
}

// NotionConfig holds the Notion lead database. Empty Token disables the
// Notion lead mirror.
type NotionConfig struct {
	Token  string `yaml:"token" mapstructure:"token"`
	LeadDB string `yaml:"lead_db" mapstructure:"lead_db"`
}

// SearchConfig bounds search requests and the daily quota.
type SearchConfig struct {
	RadiusMin           float64 `yaml:"radius_min" mapstructure:"radius_min"`
	RadiusMax           float64 `yaml:"radius_max" mapstructure:"radius_max"`
	AllowedLimits       []int   `yaml:"allowed_limits" mapstructure:"allowed_limits"`
	DefaultLimit        int     `yaml:"default_limit" mapstructure:"default_limit"`
	DailyQuota          int     `yaml:"daily_quota" mapstructure:"daily_quota"`
	Timezone            string  `yaml:"timezone" mapstructure:"timezone"`
	UpstreamTimeoutSecs int     `yaml:"upstream_timeout_secs" mapstructure:"upstream_timeout_secs"`
	PlacesRateLimit     float64 `yaml:"places_rate_limit" mapstructure:"places_rate_limit"`
	AvgTicket           float64 `yaml:"avg_ticket" mapstructure:"avg_ticket"`
	Currency            string  `yaml:"currency" mapstructure:"currency"`
	Locale              string  `yaml:"locale" mapstructure:"locale"`
}

// UpstreamTimeout returns the per-call timeout for external providers.
func (s SearchConfig) UpstreamTimeout() time.Duration {
	return time.Duration(s.UpstreamTimeoutSecs) * time.Second
}

// Location resolves Timezone, falling back to UTC.
func (s SearchConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// EnrichConfig configures the AI enrichment calls.
type EnrichConfig struct {
	TimeoutSecs         int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts         int `yaml:"max_attempts" mapstructure:"max_attempts"`
	BreakerThreshold    int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
	QuickMaxTokens      int `yaml:"quick_max_tokens" mapstructure:"quick_max_tokens"`
	DeepMaxTokens       int `yaml:"deep_max_tokens" mapstructure:"deep_max_tokens"`
}

// DemoConfig configures demo publication.
type DemoConfig struct {
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	ThemesFile string `yaml:"themes_file" mapstructure:"themes_file"`
}

// NotifyConfig selects the push transport: ws, amqp, both or none.
type NotifyConfig struct {
	Push string `yaml:"push" mapstructure:"push"`
}

// AMQPConfig configures the RabbitMQ publisher.
type AMQPConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	Exchange string `yaml:"exchange" mapstructure:"exchange"`
}

// SMTPConfig configures outgoing mail. Empty Host disables email.
type SMTPConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	From     string `yaml:"from" mapstructure:"from"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PROSPECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "prospector.db")
	v.SetDefault("google.places_url", "https://places.googleapis.com/v1")
	v.SetDefault("google.geocode_url", "https://maps.googleapis.com/maps/api/geocode/json")
	v.SetDefault("google.language", "es")
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("search.radius_min", 500)
	v.SetDefault("search.radius_max", 10000)
	v.SetDefault("search.allowed_limits", []int{20, 40, 60})
	v.SetDefault("search.default_limit", 20)
	v.SetDefault("search.daily_quota", 10)
	v.SetDefault("search.timezone", "Europe/Madrid")
	v.SetDefault("search.upstream_timeout_secs", 10)
	v.SetDefault("search.places_rate_limit", 5)
	v.SetDefault("search.avg_ticket", 600)
	v.SetDefault("search.currency", "EUR")
	v.SetDefault("search.locale", "es")
	v.SetDefault("enrich.timeout_secs", 45)
	v.SetDefault("enrich.max_attempts", 2)
	v.SetDefault("enrich.breaker_threshold", 5)
	v.SetDefault("enrich.breaker_cooldown_secs", 30)
	v.SetDefault("enrich.quick_max_tokens", 1024)
	v.SetDefault("enrich.deep_max_tokens", 4096)
	v.SetDefault("demo.base_url", "http://localhost:8080")
	v.SetDefault("notify.push", "ws")
	v.SetDefault("amqp.exchange", "prospector.events")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks the keys a command mode needs. Modes: serve, search,
// analyze, migrate.
func (c *Config) Validate(mode string) error {
	var errs []string
	require := func(ok bool, key string) {
		if !ok {
			errs = append(errs, key+" is required")
		}
	}

	switch c.Store.Driver {
	case "postgres":
		require(c.Store.DatabaseURL != "", "store.database_url")
	case "sqlite":
		require(c.Store.SQLitePath != "", "store.sqlite_path")
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of postgres, sqlite, memory", c.Store.Driver))
	}

	if c.Search.RadiusMin <= 0 || c.Search.RadiusMax < c.Search.RadiusMin {
		errs = append(errs, "search.radius_min must be positive and not above search.radius_max")
	}
	if len(c.Search.AllowedLimits) == 0 {
		errs = append(errs, "search.allowed_limits must not be empty")
	}
	if c.Search.DailyQuota < 0 {
		errs = append(errs, "search.daily_quota must not be negative")
	}
	if _, err := time.LoadLocation(c.Search.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("search.timezone %q is not a valid IANA zone", c.Search.Timezone))
	}

	switch mode {
	case "serve":
		require(c.Google.Key != "", "google.key")
		require(c.Anthropic.Key != "", "anthropic.key")
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
		}
		switch c.Notify.Push {
		case "ws", "none":
		case "amqp", "both":
			require(c.AMQP.URL != "", "amqp.url")
		default:
			errs = append(errs, fmt.Sprintf("notify.push %q is not one of ws, amqp, both, none", c.Notify.Push))
		}
	case "search":
		require(c.Google.Key != "", "google.key")
	case "analyze":
		require(c.Anthropic.Key != "", "anthropic.key")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
