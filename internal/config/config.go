package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "ACCESSD"

type Config struct {
	Server struct {
		Addr            string        `mapstructure:"addr"`
		Mode            string        `mapstructure:"mode"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	Redis struct {
		URL      string `mapstructure:"url"`
		PoolSize int    `mapstructure:"pool_size"`
	} `mapstructure:"redis"`

	Store struct {
		Backend    string        `mapstructure:"backend"`
		BadgerDir  string        `mapstructure:"badger_dir"`
		Collection string        `mapstructure:"collection"`
		Timeout    time.Duration `mapstructure:"timeout"`
	} `mapstructure:"store"`

	Cache struct {
		Backend       string        `mapstructure:"backend"`
		TTL           time.Duration `mapstructure:"ttl"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"cache"`

	Identity struct {
		BaseURL   string        `mapstructure:"base_url"`
		APIKey    string        `mapstructure:"api_key"`
		ProjectID string        `mapstructure:"project_id"`
		KeysURL   string        `mapstructure:"keys_url"`
		Issuer    string        `mapstructure:"issuer"`
		Timeout   time.Duration `mapstructure:"timeout"`
		Breaker   struct {
			MaxFailures uint32        `mapstructure:"max_failures"`
			OpenTimeout time.Duration `mapstructure:"open_timeout"`
		} `mapstructure:"breaker"`
	} `mapstructure:"identity"`

	Session struct {
		CookieName   string        `mapstructure:"cookie_name"`
		MaxAge       time.Duration `mapstructure:"max_age"`
		Secure       bool          `mapstructure:"secure"`
		CheckRevoked bool          `mapstructure:"check_revoked"`
	} `mapstructure:"session"`

	Claims struct {
		MaxBytes    int           `mapstructure:"max_bytes"`
		SyncTimeout time.Duration `mapstructure:"sync_timeout"`
	} `mapstructure:"claims"`

	Events struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"events"`

	RPC struct {
		Enabled      bool   `mapstructure:"enabled"`
		ServiceToken string `mapstructure:"service_token"`
	} `mapstructure:"rpc"`

	Observability struct {
		MetricsEnabled     bool    `mapstructure:"metrics_enabled"`
		TraceEnabled       bool    `mapstructure:"trace_enabled"`
		TracingEndpointURL string  `mapstructure:"tracing_endpoint_url"`
		TraceSampleRatio   float64 `mapstructure:"trace_sample_ratio"`
		LogLevel           string  `mapstructure:"log_level"`
		Format             string  `mapstructure:"log_format"`
		LogSource          bool    `mapstructure:"log_source"`
	} `mapstructure:"observability"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("store.backend", "redis")
	v.SetDefault("store.badger_dir", "")
	v.SetDefault("store.collection", "user_app_access")
	v.SetDefault("store.timeout", 3*time.Second)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.sweep_interval", time.Minute)

	v.SetDefault("identity.base_url", "https://identitytoolkit.googleapis.com")
	v.SetDefault("identity.keys_url",
		"https://www.googleapis.com/identitytoolkit/v3/relyingparty/publicKeys")
	// Registered empty so environment overrides reach Unmarshal.
	v.SetDefault("identity.api_key", "")
	v.SetDefault("identity.project_id", "")
	v.SetDefault("identity.issuer", "")
	v.SetDefault("identity.timeout", 5*time.Second)
	v.SetDefault("identity.breaker.max_failures", 5)
	v.SetDefault("identity.breaker.open_timeout", 30*time.Second)

	v.SetDefault("session.cookie_name", "session")
	v.SetDefault("session.max_age", 14*24*time.Hour)
	v.SetDefault("session.secure", true)
	v.SetDefault("session.check_revoked", true)

	v.SetDefault("claims.max_bytes", 1000)
	v.SetDefault("claims.sync_timeout", 10*time.Second)

	v.SetDefault("events.enabled", true)

	v.SetDefault("rpc.enabled", false)
	v.SetDefault("rpc.service_token", "")

	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.trace_enabled", false)
	v.SetDefault("observability.tracing_endpoint_url", "")
	v.SetDefault("observability.trace_sample_ratio", 1.0)
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
}

// Load reads config.yaml from the given directories (./config and . when
// none are given), merges config.<APP_ENV>.yaml over it and applies
// ACCESSD_* environment overrides. A missing base file is not an error.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if len(paths) == 0 {
		paths = []string{"./config", "."}
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.AutomaticEnv()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		slog.Default().Info("No config file found, using defaults and environment")
	}

	if env := os.Getenv("APP_ENV"); env != "" {
		v.SetConfigName(fmt.Sprintf("config.%s", env))
		if err := v.MergeInConfig(); err != nil {
			slog.Default().Info("No environment-specific config (optional)", slog.String("env", env))
		} else {
			slog.Default().Info("Environment-specific config loaded", slog.String("env", env))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		slog.Default().Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	return cfg
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "redis", "badger":
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.TTL <= 0 {
		return errors.New("config: cache.ttl must be positive")
	}
	if c.Claims.MaxBytes <= 0 {
		return errors.New("config: claims.max_bytes must be positive")
	}
	if c.RPC.Enabled && c.RPC.ServiceToken == "" {
		return errors.New("config: rpc.service_token is required when rpc is enabled")
	}
	return nil
}
