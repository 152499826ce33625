package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		Address         string        `yaml:"address"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"signal"`

	Backoff struct {
		Strategy        string        `yaml:"strategy"` // exponential, linear, fibonacci
		InitialInterval time.Duration `yaml:"initial_interval"`
		MaxInterval     time.Duration `yaml:"max_interval"`
		Multiplier      float64       `yaml:"multiplier"`
		JitterFactor    float64       `yaml:"jitter_factor"`
	} `yaml:"backoff"`

	Notify struct {
		RetryEnabled     bool          `yaml:"retry_enabled"`
		RetryAttempts    int           `yaml:"retry_attempts"`
		RetryDelay       time.Duration `yaml:"retry_delay"`
		BreakerThreshold int           `yaml:"breaker_threshold"`
		BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
	} `yaml:"notify"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret      string        `yaml:"jwt_secret"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
		MaxConcurrent     int     `yaml:"max_concurrent"`
	} `yaml:"rate_limiting"`

	Backup struct {
		Enabled       bool          `yaml:"enabled"`
		Backend       string        `yaml:"backend"` // file, s3
		Dir           string        `yaml:"dir"`
		S3Bucket      string        `yaml:"s3_bucket"`
		S3Prefix      string        `yaml:"s3_prefix"`
		Interval      time.Duration `yaml:"interval"`
		RetentionDays int           `yaml:"retention_days"`
	} `yaml:"backup"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	if c.Signal.Address == "" {
		return fmt.Errorf("signal.address must not be empty")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= 0 {
		return fmt.Errorf("signal.pong_timeout must be > 0")
	}

	switch c.Backoff.Strategy {
	case "exponential", "linear", "fibonacci":
	default:
		return fmt.Errorf("backoff.strategy must be one of exponential, linear, fibonacci")
	}
	if c.Backoff.InitialInterval <= 0 {
		return fmt.Errorf("backoff.initial_interval must be > 0")
	}
	if c.Backoff.MaxInterval < c.Backoff.InitialInterval {
		return fmt.Errorf("backoff.max_interval must be >= backoff.initial_interval")
	}
	if c.Backoff.Multiplier < 1.0 {
		return fmt.Errorf("backoff.multiplier must be >= 1.0")
	}
	if c.Backoff.JitterFactor < 0 || c.Backoff.JitterFactor >= 1.0 {
		return fmt.Errorf("backoff.jitter_factor must be in [0, 1)")
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be > 0")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.max_concurrent must be >= 0 when rate limiting is enabled")
		}
	}

	if c.Backup.Enabled {
		switch c.Backup.Backend {
		case "file":
			if c.Backup.Dir == "" {
				return fmt.Errorf("backup.dir must not be empty when backup.backend=file")
			}
		case "s3":
			if c.Backup.S3Bucket == "" {
				return fmt.Errorf("backup.s3_bucket must not be empty when backup.backend=s3")
			}
		default:
			return fmt.Errorf("backup.backend must be one of file, s3")
		}
		if c.Backup.Interval <= 0 {
			return fmt.Errorf("backup.interval must be > 0 when backup.enabled=true")
		}
		if c.Backup.RetentionDays <= 0 {
			return fmt.Errorf("backup.retention_days must be > 0 when backup.enabled=true")
		}
	}

	return nil
}

// Load reads configuration from a YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.Address = ":8081"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.ShutdownTimeout = 30 * time.Second

	cfg.Backoff.Strategy = "exponential"
	cfg.Backoff.InitialInterval = 2 * time.Second
	cfg.Backoff.MaxInterval = 30 * time.Second
	cfg.Backoff.Multiplier = 2.0
	cfg.Backoff.JitterFactor = 0.25

	cfg.Notify.RetryEnabled = true
	cfg.Notify.RetryAttempts = 2
	cfg.Notify.RetryDelay = 100 * time.Millisecond
	cfg.Notify.BreakerThreshold = 5
	cfg.Notify.BreakerTimeout = 30 * time.Second

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = 15 * time.Minute

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 50
	cfg.RateLimiting.Burst = 100
	cfg.RateLimiting.MaxConcurrent = 0

	cfg.Backup.Enabled = false
	cfg.Backup.Backend = "file"
	cfg.Backup.Dir = "snapshots"
	cfg.Backup.Interval = 15 * time.Minute
	cfg.Backup.RetentionDays = 7

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "peerlink"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("PEERLINK_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if addr := os.Getenv("PEERLINK_SIGNAL_ADDRESS"); addr != "" {
		c.Signal.Address = addr
	}
	if level := os.Getenv("PEERLINK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("PEERLINK_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("PEERLINK_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
}
