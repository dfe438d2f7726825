package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/qrshield/qrshield-go/internal/classify"
)

// EnvPrefix is prepended to every environment override, e.g.
// QRSHIELD_SERVER_PORT for server.port.
const EnvPrefix = "QRSHIELD"

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Model     ModelConfig     `mapstructure:"model"`
	Whitelist WhitelistConfig `mapstructure:"whitelist"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	TLS       TLSConfig       `mapstructure:"tls"`
	Explain   ExplainConfig   `mapstructure:"explain"`
}

type ServerConfig struct {
	Port           int    `mapstructure:"port"`
	Env            string `mapstructure:"env"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ModelConfig struct {
	Path      string        `mapstructure:"path"`
	RemoteURL string        `mapstructure:"remote_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type WhitelistConfig struct {
	Domains []string `mapstructure:"domains"`
	Schemes []string `mapstructure:"schemes"`
}

type CacheConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type TLSConfig struct {
	Domains []string `mapstructure:"domains"`
	Email   string   `mapstructure:"email"`
}

type ExplainConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// Production reports whether the service runs with server.env=production.
func (c *Config) Production() bool {
	return c.Server.Env == "production"
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// Validate checks values that would otherwise fail at first use.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes must be positive, got %d", c.Server.MaxUploadBytes))
	}
	if c.Model.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("model.timeout must be positive, got %s", c.Model.Timeout))
	}
	switch c.Cache.Backend {
	case CacheMemory, CacheRedis:
		if c.Cache.TTL <= 0 {
			errs = append(errs, fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL))
		}
	case CacheNone:
	default:
		errs = append(errs, fmt.Errorf("unknown cache.backend %q", c.Cache.Backend))
	}
	if c.Cache.Backend == CacheRedis && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when cache.backend is redis"))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.env", "development")
	v.SetDefault("server.max_upload_bytes", 5<<20)
	v.SetDefault("log.level", "info")
	v.SetDefault("model.path", "qr_fraud_model.yaml")
	v.SetDefault("model.remote_url", "")
	v.SetDefault("model.timeout", 2*time.Second)
	v.SetDefault("whitelist.domains", classify.DefaultDomains)
	v.SetDefault("whitelist.schemes", classify.DefaultSchemes)
	v.SetDefault("cache.backend", CacheMemory)
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("database.url", "")
	v.SetDefault("tls.domains", []string{})
	v.SetDefault("tls.email", "")
	v.SetDefault("explain.api_key", "")
	v.SetDefault("explain.model", classify.DefaultExplainModel)
}

// Load reads configuration from defaults, an optional config.yaml, an
// optional .env file and QRSHIELD_* environment variables, in increasing
// order of precedence. configDir may be empty; a missing config file is not
// an error.
func Load(configDir, envFile string) (*Config, error) {
	if envFile != "" {
		// Existing environment variables win over .env entries.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configDir != "" {
		v.AddConfigPath(configDir)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Conventional names used by hosting platforms.
	v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")
	v.BindEnv("explain.api_key", EnvPrefix+"_EXPLAIN_API_KEY", "ANTHROPIC_API_KEY")
	v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
