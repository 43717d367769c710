package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPPort        int `mapstructure:"http_port"`
	ShutdownTimeout int `mapstructure:"shutdown_timeout"` // seconds
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // seconds
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type EngineConfig struct {
	PrimaryLocation   int64 `mapstructure:"primary_location"`
	StagingLocation   int64 `mapstructure:"staging_location"`
	DeliveryWorkers   int   `mapstructure:"delivery_workers"`
	DeliveryQueueSize int   `mapstructure:"delivery_queue_size"`
	PendingMaxAge     int   `mapstructure:"pending_max_age"`  // seconds
	SweepInterval     int   `mapstructure:"sweep_interval"`   // seconds
	SweepBatchSize    int   `mapstructure:"sweep_batch_size"` // transactions per sweep
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads the YAML file at configPath, with environment variables taking
// precedence (for example INVLEDGER_DATABASE_HOST). Missing file is not an
// error; defaults and environment carry a local setup on their own.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("INVLEDGER")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", 5)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.username", "root")
	v.SetDefault("database.password", "root")
	v.SetDefault("database.dbname", "invledger")
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.conn_max_lifetime", 300)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 100)

	v.SetDefault("engine.primary_location", 1)
	v.SetDefault("engine.staging_location", 2)
	v.SetDefault("engine.delivery_workers", 10)
	v.SetDefault("engine.delivery_queue_size", 10000)
	v.SetDefault("engine.pending_max_age", 900)
	v.SetDefault("engine.sweep_interval", 60)
	v.SetDefault("engine.sweep_batch_size", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func (c *Config) Validate() error {
	if c.Engine.PrimaryLocation == c.Engine.StagingLocation {
		return fmt.Errorf("primary and staging location must differ, both are %d", c.Engine.PrimaryLocation)
	}
	if c.Engine.DeliveryWorkers <= 0 {
		return fmt.Errorf("delivery_workers must be positive, got %d", c.Engine.DeliveryWorkers)
	}
	if c.Engine.DeliveryQueueSize <= 0 {
		return fmt.Errorf("delivery_queue_size must be positive, got %d", c.Engine.DeliveryQueueSize)
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
		c.Username, c.Password, c.Host, c.Port, c.DBName)
}

func (c *DatabaseConfig) ConnMaxLifetimeDuration() time.Duration {
	return time.Duration(c.ConnMaxLifetime) * time.Second
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *EngineConfig) PendingMaxAgeDuration() time.Duration {
	return time.Duration(c.PendingMaxAge) * time.Second
}

func (c *EngineConfig) SweepIntervalDuration() time.Duration {
	return time.Duration(c.SweepInterval) * time.Second
}
