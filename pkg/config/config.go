package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces every environment override, e.g. ALCHEMIST_BACKEND.
const EnvPrefix = "ALCHEMIST"

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Log         struct {
		Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output     string `yaml:"output" default:"stdout"`
		MaxSizeMB  int    `yaml:"max_size_mb" default:"50"`
		MaxBackups int    `yaml:"max_backups" default:"3"`
		MaxAgeDays int    `yaml:"max_age_days" default:"14"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		AllowOrigins    []string      `yaml:"allow_origins"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Backend struct {
		// memory: in-process maps; sqlite: embedded file; cluster: Redis + ClickHouse.
		Type string `yaml:"type" default:"memory" validate:"oneof=memory sqlite cluster"`
	} `yaml:"backend"`
	SQLite struct {
		Path string `yaml:"path" default:"data/alchemist.db"`
	} `yaml:"sqlite"`
	Redis struct {
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"6379"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size" default:"20"`
		MinIdleConns int           `yaml:"min_idle_conns" default:"2"`
		PoolTimeout  time.Duration `yaml:"pool_timeout" default:"4s"`
		Prefix       string        `yaml:"prefix" default:"alchemist"`
	} `yaml:"redis"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"alchemist"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
		HistoryTable     string        `yaml:"history_table" default:"price_history"`
		VolatilityTable  string        `yaml:"volatility_table" default:"instrument_volatility"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		TickTopic    string   `yaml:"tick_topic" default:"market.ticks"`
		TriggerTopic string   `yaml:"trigger_topic"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"alchemist-tick-trigger"`
			Workers    int           `yaml:"workers" default:"1"`
			BufferSize int           `yaml:"buffer_size" default:"16"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"1048576"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Simulation struct {
		// Seed 0 draws a fresh seed per process.
		Seed             int64   `yaml:"seed"`
		GeneratorVersion int     `yaml:"generator_version" default:"3" validate:"oneof=1 2 3"`
		BaseMove         float64 `yaml:"base_move" validate:"gte=0,lt=1"`
		VolumeMin        uint64  `yaml:"volume_min" default:"1000"`
		VolumeMax        uint64  `yaml:"volume_max" default:"10000"`
		Workers          int     `yaml:"workers" default:"8" validate:"gte=1"`
		Regime           Regime  `yaml:"regime"`

		// TickTimeout bounds a tick started by a Kafka trigger.
		TickTimeout time.Duration `yaml:"tick_timeout" default:"30s"`
	} `yaml:"simulation"`
	Scheduler struct {
		Enabled  bool          `yaml:"enabled" default:"true"`
		Interval time.Duration `yaml:"interval" default:"5s"`
	} `yaml:"scheduler"`
	TickLock struct {
		Enabled bool          `yaml:"enabled"`
		Key     string        `yaml:"key" default:"tick:lock"`
		TTL     time.Duration `yaml:"ttl" default:"30s"`
	} `yaml:"tick_lock"`
	VolatilityCache struct {
		Enabled       bool          `yaml:"enabled" default:"true"`
		TTL           time.Duration `yaml:"ttl" default:"1m"`
		MemoryMaxSize int           `yaml:"memory_max_size" default:"10000"`
	} `yaml:"volatility_cache"`
	RateLimit struct {
		TriggerBurst     float64 `yaml:"trigger_burst" default:"5"`
		TriggerPerSecond float64 `yaml:"trigger_per_second" default:"0.5"`
	} `yaml:"rate_limit"`
	Instruments []Instrument `yaml:"instruments" validate:"dive"`
}

// Regime carries the market-regime constants.
type Regime struct {
	CrashProb       float64 `yaml:"crash_prob" default:"0.002" validate:"gte=0,lte=1"`
	BoomProb        float64 `yaml:"boom_prob" default:"0.003" validate:"gte=0,lte=1"`
	CrashMinTicks   int     `yaml:"crash_min_ticks" default:"5" validate:"gte=1"`
	CrashMaxTicks   int     `yaml:"crash_max_ticks" default:"15" validate:"gtefield=CrashMinTicks"`
	BoomMinTicks    int     `yaml:"boom_min_ticks" default:"5" validate:"gte=1"`
	BoomMaxTicks    int     `yaml:"boom_max_ticks" default:"10" validate:"gtefield=BoomMinTicks"`
	CrashMultiplier float64 `yaml:"crash_multiplier" default:"2.5" validate:"gte=1"`
	BoomMultiplier  float64 `yaml:"boom_multiplier" default:"1.5" validate:"gte=1"`
	CrashBias       float64 `yaml:"crash_bias" default:"-0.002" validate:"lte=0"`
	BoomBias        float64 `yaml:"boom_bias" default:"0.0015" validate:"gte=0"`
}

// Instrument seeds the memory backend.
type Instrument struct {
	Symbol     string  `yaml:"symbol" validate:"required"`
	Exchange   string  `yaml:"exchange" validate:"required"`
	Price      string  `yaml:"price" validate:"required,numeric"`
	Volatility float64 `yaml:"volatility" validate:"gte=0"`
}

// envOverrides lists the ALCHEMIST_* variables. Zero values leave the file value untouched.
type envOverrides struct {
	Environment      string        `envconfig:"ENVIRONMENT"`
	LogLevel         string        `envconfig:"LOG_LEVEL"`
	ServerPort       int           `envconfig:"SERVER_PORT"`
	Backend          string        `envconfig:"BACKEND"`
	SQLitePath       string        `envconfig:"SQLITE_PATH"`
	RedisHost        string        `envconfig:"REDIS_HOST"`
	RedisPassword    string        `envconfig:"REDIS_PASSWORD"`
	ClickHouseHost   string        `envconfig:"CLICKHOUSE_HOST"`
	ClickHouseUser   string        `envconfig:"CLICKHOUSE_USER"`
	ClickHousePass   string        `envconfig:"CLICKHOUSE_PASSWORD"`
	KafkaBrokers     []string      `envconfig:"KAFKA_BROKERS"`
	Seed             int64         `envconfig:"SEED"`
	GeneratorVersion int           `envconfig:"GENERATOR_VERSION"`
	TickInterval     time.Duration `envconfig:"TICK_INTERVAL"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file over the defaults.
func Load(path string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML, then applies .env and ALCHEMIST_* overrides.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	c.apply(env)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) apply(env envOverrides) {
	if env.Environment != "" {
		c.Environment = env.Environment
	}
	if env.LogLevel != "" {
		c.Log.Level = env.LogLevel
	}
	if env.ServerPort != 0 {
		c.Server.Port = env.ServerPort
	}
	if env.Backend != "" {
		c.Backend.Type = env.Backend
	}
	if env.SQLitePath != "" {
		c.SQLite.Path = env.SQLitePath
	}
	if env.RedisHost != "" {
		c.Redis.Host = env.RedisHost
	}
	if env.RedisPassword != "" {
		c.Redis.Password = env.RedisPassword
	}
	if env.ClickHouseHost != "" {
		c.ClickHouse.Host = env.ClickHouseHost
	}
	if env.ClickHouseUser != "" {
		c.ClickHouse.User = env.ClickHouseUser
	}
	if env.ClickHousePass != "" {
		c.ClickHouse.Password = env.ClickHousePass
	}
	if len(env.KafkaBrokers) > 0 {
		c.Kafka.Brokers = env.KafkaBrokers
		c.Kafka.Enabled = true
	}
	if env.Seed != 0 {
		c.Simulation.Seed = env.Seed
	}
	if env.GeneratorVersion != 0 {
		c.Simulation.GeneratorVersion = env.GeneratorVersion
	}
	if env.TickInterval != 0 {
		c.Scheduler.Interval = env.TickInterval
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if p := c.Simulation.Regime.CrashProb + c.Simulation.Regime.BoomProb; p > 1 {
		return fmt.Errorf("simulation.regime: crash_prob + boom_prob must be <= 1, got %v", p)
	}
	if c.Simulation.VolumeMax < c.Simulation.VolumeMin {
		return fmt.Errorf("simulation.volume_max must be >= volume_min")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.TickLock.Enabled && c.Backend.Type != "cluster" {
		return fmt.Errorf("tick_lock requires the cluster backend")
	}
	return nil
}
