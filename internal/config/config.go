package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// DefaultJWTSecret is the placeholder secret used when none is configured.
// It is public, so the API refuses to serve with it.
const DefaultJWTSecret = "dev-only-change-me"

type Config struct {
	Storage StorageConfig
	Web     WebConfig
	Log     LogConfig
}

type StorageConfig struct {
	Driver        string `mapstructure:"driver"`
	FilePath      string `mapstructure:"file_path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix"`
	DatabaseURL   string `mapstructure:"database_url"`
}

type WebConfig struct {
	Bind      string `mapstructure:"bind"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads .env, the optional config file and POKERDUES_* environment
// variables, in increasing order of precedence. An empty configFile looks for
// pokerdues.yaml in the working directory and carries on without one.
func Load(configFile string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("storage.driver", DriverFile)
	v.SetDefault("storage.file_path", "pokerdues.json")
	v.SetDefault("storage.redis_addr", "")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.key_prefix", "")
	v.SetDefault("storage.database_url", "")
	v.SetDefault("web.bind", "0.0.0.0:3000")
	v.SetDefault("web.jwt_secret", DefaultJWTSecret)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetEnvPrefix("POKERDUES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("storage.database_url", "POKERDUES_STORAGE_DATABASE_URL", "DATABASE_URL"); err != nil {
		return nil, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("pokerdues")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverFile:
		if c.Storage.FilePath == "" {
			return fmt.Errorf("storage.file_path is required for the file driver")
		}
	case DriverRedis:
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("storage.redis_addr is required for the redis driver")
		}
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL or storage.database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format %q", c.Log.Format)
	}
	return nil
}

// UsesDefaultSecret reports whether tokens would be signed with a blank or
// the built-in secret.
func (c *Config) UsesDefaultSecret() bool {
	secret := strings.TrimSpace(c.Web.JWTSecret)
	return secret == "" || secret == DefaultJWTSecret
}

// CheckServe rejects settings that are fine for local commands but unsafe
// for a listening API.
func (c *Config) CheckServe() error {
	if c.UsesDefaultSecret() {
		return errors.New("web.jwt_secret is not set: set POKERDUES_WEB_JWT_SECRET before serving the API")
	}
	return nil
}

// ApplyLogging sets the standard logrus logger's level and formatter.
func (c *Config) ApplyLogging() {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if c.Log.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
