// Package config loads and validates the warden service configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the warden service.
type Config struct {
	Engine struct {
		// AnalysisTimeout bounds the scorer fan-out; a scorer exceeding it
		// abstains instead of failing the pipeline.
		AnalysisTimeout time.Duration `mapstructure:"analysis_timeout"`
		// RegexTimeout bounds a single regex indicator evaluation (ReDoS guard).
		RegexTimeout time.Duration `mapstructure:"regex_timeout"`
		Workers      int           `mapstructure:"workers"`
		QueueSize    int           `mapstructure:"queue_size"`
	} `mapstructure:"engine"`

	Store struct {
		RetentionTTL  time.Duration `mapstructure:"retention_ttl"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
		Shards        int           `mapstructure:"shards"`
	} `mapstructure:"store"`

	Catalog struct {
		PatternsFile string `mapstructure:"patterns_file"`
		RulesFile    string `mapstructure:"rules_file"`
	} `mapstructure:"catalog"`

	Sink struct {
		// Type selects the security event sink implementation: "log" or "webhook".
		Type string `mapstructure:"type"`
		URL  string `mapstructure:"url"`
		// Encoding selects the webhook body format: "json" or "msgpack".
		Encoding   string        `mapstructure:"encoding"`
		BufferSize int           `mapstructure:"buffer_size"`
		Timeout    time.Duration `mapstructure:"timeout"`

		CircuitBreaker struct {
			MaxFailures         int           `mapstructure:"max_failures"`
			Timeout             time.Duration `mapstructure:"timeout"`
			MaxHalfOpenRequests int           `mapstructure:"max_half_open_requests"`
		} `mapstructure:"circuit_breaker"`
	} `mapstructure:"sink"`

	Throttle struct {
		// TTL is how long an installed rate limit stays in effect without refresh.
		TTL time.Duration `mapstructure:"ttl"`
		// RatePerSecond and Burst configure each installed limiter.
		RatePerSecond float64 `mapstructure:"rate_per_second"`
		Burst         int     `mapstructure:"burst"`
		// MaxEntries bounds the throttle cache; least recently used entries are
		// evicted first.
		MaxEntries int `mapstructure:"max_entries"`
	} `mapstructure:"throttle"`

	API struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"api"`
}

func setDefaults() {
	viper.SetDefault("engine.analysis_timeout", 30*time.Second)
	viper.SetDefault("engine.regex_timeout", 100*time.Millisecond)
	viper.SetDefault("engine.workers", 4)
	viper.SetDefault("engine.queue_size", 1000)

	viper.SetDefault("store.retention_ttl", 7*24*time.Hour)
	viper.SetDefault("store.sweep_interval", 5*time.Minute)
	viper.SetDefault("store.shards", 16)

	viper.SetDefault("catalog.patterns_file", "./catalog/patterns.yaml")
	viper.SetDefault("catalog.rules_file", "./catalog/rules.yaml")

	viper.SetDefault("sink.type", "log")
	viper.SetDefault("sink.url", "")
	viper.SetDefault("sink.encoding", "json")
	viper.SetDefault("sink.buffer_size", 1000)
	viper.SetDefault("sink.timeout", 10*time.Second)
	viper.SetDefault("sink.circuit_breaker.max_failures", 5)
	viper.SetDefault("sink.circuit_breaker.timeout", 60*time.Second)
	viper.SetDefault("sink.circuit_breaker.max_half_open_requests", 1)

	viper.SetDefault("throttle.ttl", 10*time.Minute)
	viper.SetDefault("throttle.rate_per_second", 1.0)
	viper.SetDefault("throttle.burst", 5)
	viper.SetDefault("throttle.max_entries", 10000)

	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", 8081)
}

func loadFromEnv() {
	viper.SetEnvPrefix("WARDEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// LoadConfig reads config.yaml (working directory or ./config), applies
// WARDEN_* environment overrides, and validates the result.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and env vars.
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validateConfig(config *Config) error {
	if config.Engine.AnalysisTimeout <= 0 {
		return fmt.Errorf("engine.analysis_timeout must be positive")
	}
	if config.Engine.RegexTimeout <= 0 {
		return fmt.Errorf("engine.regex_timeout must be positive")
	}
	if config.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be positive")
	}
	if config.Engine.QueueSize <= 0 {
		return fmt.Errorf("engine.queue_size must be positive")
	}
	if config.Store.RetentionTTL <= 0 {
		return fmt.Errorf("store.retention_ttl must be positive")
	}
	if config.Store.SweepInterval <= 0 {
		return fmt.Errorf("store.sweep_interval must be positive")
	}
	if config.Store.Shards <= 0 {
		return fmt.Errorf("store.shards must be positive")
	}
	switch config.Sink.Type {
	case "log", "webhook":
	default:
		return fmt.Errorf("sink.type must be \"log\" or \"webhook\", got %q", config.Sink.Type)
	}
	if config.Sink.Type == "webhook" && config.Sink.URL == "" {
		return fmt.Errorf("sink.url is required when sink.type is webhook")
	}
	switch config.Sink.Encoding {
	case "json", "msgpack":
	default:
		return fmt.Errorf("sink.encoding must be \"json\" or \"msgpack\", got %q", config.Sink.Encoding)
	}
	if config.Sink.BufferSize <= 0 {
		return fmt.Errorf("sink.buffer_size must be positive")
	}
	if config.Throttle.TTL <= 0 {
		return fmt.Errorf("throttle.ttl must be positive")
	}
	if config.Throttle.RatePerSecond <= 0 {
		return fmt.Errorf("throttle.rate_per_second must be positive")
	}
	if config.Throttle.Burst <= 0 {
		return fmt.Errorf("throttle.burst must be positive")
	}
	if config.Throttle.MaxEntries <= 0 {
		return fmt.Errorf("throttle.max_entries must be positive")
	}
	if config.API.Port < 1 || config.API.Port > 65535 {
		return fmt.Errorf("api.port must be in 1-65535, got %d", config.API.Port)
	}
	return nil
}
