package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. POLLS_DATABASE_DRIVER.
const EnvPrefix = "POLLS"

// Config mirrors config.yaml.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	MQ        MQConfig        `mapstructure:"mq"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig configures the HTTP listener. MaxLiveConnections caps websocket
// and SSE subscribers; 0 means no cap. AdminUsers may call the /api/admin
// routes; with none configured those routes answer 403.
type ServerConfig struct {
	Address            string        `mapstructure:"address"`
	Mode               string        `mapstructure:"mode"`
	AllowedOrigins     []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	MaxLiveConnections int           `mapstructure:"max_live_connections"`
	AdminUsers         []string      `mapstructure:"admin_users"`
}

// DatabaseConfig selects the gorm dialector. Driver is one of mysql, postgres or sqlite.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	TxTimeout       time.Duration `mapstructure:"tx_timeout"`
	LogLevel        string        `mapstructure:"log_level"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// MQConfig selects where vote events go. Driver is one of none, redis or rocketmq.
type MQConfig struct {
	Driver      string   `mapstructure:"driver"`
	Topic       string   `mapstructure:"topic"`
	RedisList   string   `mapstructure:"redis_list"`
	MaxLen      int64    `mapstructure:"max_len"`
	NameServers []string `mapstructure:"name_servers"`
	Group       string   `mapstructure:"group"`
}

type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Rate    int  `mapstructure:"rate"`
	Burst   int  `mapstructure:"burst"`
}

type ReconcileConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Repair   bool          `mapstructure:"repair"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8090")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.max_live_connections", 10000)
	v.SetDefault("server.admin_users", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:polls.db?_foreign_keys=on&_busy_timeout=5000")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.tx_timeout", 5*time.Second)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.slow_threshold", time.Second)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("cache.ttl", 5*time.Second)

	v.SetDefault("mq.driver", "none")
	v.SetDefault("mq.topic", "vote_events")
	v.SetDefault("mq.redis_list", "vote_events")
	v.SetDefault("mq.max_len", 10000)
	v.SetDefault("mq.name_servers", []string{"127.0.0.1:9876"})
	v.SetDefault("mq.group", "vote_producer")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rate", 10)
	v.SetDefault("rate_limit.burst", 20)

	v.SetDefault("reconcile.enabled", true)
	v.SetDefault("reconcile.interval", 10*time.Minute)
	v.SetDefault("reconcile.repair", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Load reads an optional .env file, then config.yaml from the given search
// paths (./config and . when none are given), then POLLS_* environment
// variables. A missing config file is not an error.
func Load(paths ...string) (*Config, error) {
	// .env is optional; variables already set in the environment win.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database dsn is required")
	}
	switch c.MQ.Driver {
	case "", "none", "redis", "rocketmq":
	default:
		return fmt.Errorf("unsupported mq driver %q", c.MQ.Driver)
	}
	if c.RateLimit.Enabled && (c.RateLimit.Rate <= 0 || c.RateLimit.Burst <= 0) {
		return errors.New("rate_limit rate and burst must be positive")
	}
	return nil
}
