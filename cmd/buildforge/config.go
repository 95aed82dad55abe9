package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"buildforge/internal/common/cache"
	"buildforge/internal/common/mq"
	"buildforge/internal/common/storage"
	"buildforge/pkg/utils/logger"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv = "BUILDFORGE_CONFIG"
	envPrefix     = "BUILDFORGE_"

	defaultHTTPAddr          = "0.0.0.0:8080"
	defaultReadHeaderTimeout = 5 * time.Second
	defaultIdleTimeout       = 60 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultMaxHeaderBytes    = 1 << 20

	defaultMaxConcurrent     = 2
	defaultQueueCapacity     = 8
	defaultSeedBuildDuration = 30 * time.Second

	defaultBuildCommand      = "make"
	defaultBuildTimeout      = 5 * time.Minute
	defaultLogMaxBytes       = 64 << 10
	defaultMaxBundleBytes    = 32 << 20
	defaultMaxExtractedBytes = 256 << 20

	defaultArtifactDir = "build"
	defaultArtifactExt = ".artifact"

	defaultRateWindow = time.Minute
	defaultRateIPMax  = 30
)

// ServerConfig holds HTTP server settings. There is no read or write
// deadline: the request body streams for as long as the bundle ceiling
// allows and the response cannot start until the toolchain finishes.
type ServerConfig struct {
	Addr              string        `yaml:"addr" env:"ADDR"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout" env:"READ_HEADER_TIMEOUT"`
	IdleTimeout       time.Duration `yaml:"idleTimeout" env:"IDLE_TIMEOUT"`
	MaxHeaderBytes    int           `yaml:"maxHeaderBytes" env:"MAX_HEADER_BYTES"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`
}

// AdmissionConfig holds concurrency gate settings.
type AdmissionConfig struct {
	MaxConcurrent     int           `yaml:"maxConcurrent" env:"MAX_CONCURRENT"`
	QueueCapacity     int           `yaml:"queueCapacity" env:"QUEUE_CAPACITY"`
	SeedBuildDuration time.Duration `yaml:"seedBuildDuration" env:"SEED_BUILD_DURATION"`
}

// BuildConfig holds toolchain invocation settings and per-job default
// ceilings.
type BuildConfig struct {
	Command           string        `yaml:"command" env:"COMMAND"`
	TargetFlag        string        `yaml:"targetFlag" env:"TARGET_FLAG"`
	Timeout           time.Duration `yaml:"timeout" env:"TIMEOUT"`
	WorkRoot          string        `yaml:"workRoot" env:"WORK_ROOT"`
	LogMaxBytes       int64         `yaml:"logMaxBytes" env:"LOG_MAX_BYTES"`
	MaxBundleBytes    int64         `yaml:"maxBundleBytes" env:"MAX_BUNDLE_BYTES"`
	MaxExtractedBytes int64         `yaml:"maxExtractedBytes" env:"MAX_EXTRACTED_BYTES"`
}

// ArtifactConfig holds artifact lookup settings.
type ArtifactConfig struct {
	Dir string `yaml:"dir" env:"DIR"`
	Ext string `yaml:"ext" env:"EXT"`
}

// RateLimitConfig holds per-IP limit settings for the build endpoint.
type RateLimitConfig struct {
	Window time.Duration `yaml:"window" env:"WINDOW"`
	IPMax  int           `yaml:"ipMax" env:"IP_MAX"`
}

// EventsConfig holds build event publication settings.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Topic   string `yaml:"topic" env:"TOPIC"`
}

// AppConfig holds the full service configuration. Values load from an
// optional YAML file named by BUILDFORGE_CONFIG, then environment variables
// with the BUILDFORGE_ prefix overlay it, then defaults fill what is left.
type AppConfig struct {
	Server    ServerConfig        `yaml:"server" envPrefix:"SERVER_"`
	Logger    logger.Config       `yaml:"logger" envPrefix:"LOG_"`
	Admission AdmissionConfig     `yaml:"admission" envPrefix:"ADMISSION_"`
	Build     BuildConfig         `yaml:"build" envPrefix:"BUILD_"`
	Artifact  ArtifactConfig      `yaml:"artifact" envPrefix:"ARTIFACT_"`
	Rate      RateLimitConfig     `yaml:"rateLimit" envPrefix:"RATE_"`
	Redis     cache.RedisConfig   `yaml:"redis" envPrefix:"REDIS_"`
	Storage   storage.MinIOConfig `yaml:"storage" envPrefix:"STORAGE_"`
	Events    EventsConfig        `yaml:"events" envPrefix:"EVENTS_"`
	Kafka     mq.KafkaConfig      `yaml:"kafka" envPrefix:"KAFKA_"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig() (*AppConfig, error) {
	var cfg AppConfig
	if path := os.Getenv(configPathEnv); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return nil, err
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment failed: %w", err)
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = defaultMaxHeaderBytes
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}

	if cfg.Admission.MaxConcurrent == 0 {
		cfg.Admission.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.Admission.QueueCapacity == 0 {
		cfg.Admission.QueueCapacity = defaultQueueCapacity
	}
	if cfg.Admission.SeedBuildDuration == 0 {
		cfg.Admission.SeedBuildDuration = defaultSeedBuildDuration
	}

	if cfg.Build.Command == "" {
		cfg.Build.Command = defaultBuildCommand
	}
	if cfg.Build.Timeout == 0 {
		cfg.Build.Timeout = defaultBuildTimeout
	}
	if cfg.Build.WorkRoot == "" {
		cfg.Build.WorkRoot = filepath.Join(os.TempDir(), "buildforge")
	}
	if cfg.Build.LogMaxBytes == 0 {
		cfg.Build.LogMaxBytes = defaultLogMaxBytes
	}
	if cfg.Build.MaxBundleBytes == 0 {
		cfg.Build.MaxBundleBytes = defaultMaxBundleBytes
	}
	if cfg.Build.MaxExtractedBytes == 0 {
		cfg.Build.MaxExtractedBytes = defaultMaxExtractedBytes
	}

	if cfg.Artifact.Dir == "" {
		cfg.Artifact.Dir = defaultArtifactDir
	}
	if cfg.Artifact.Ext == "" {
		cfg.Artifact.Ext = defaultArtifactExt
	}

	if cfg.Rate.Window == 0 {
		cfg.Rate.Window = defaultRateWindow
	}
	if cfg.Rate.IPMax == 0 {
		cfg.Rate.IPMax = defaultRateIPMax
	}

	if cfg.Redis.Addr != "" {
		applyRedisDefaults(&cfg.Redis)
	}

	if cfg.Admission.MaxConcurrent < 1 {
		return nil, fmt.Errorf("admission.maxConcurrent must be at least 1")
	}
	if cfg.Admission.QueueCapacity < 0 {
		return nil, fmt.Errorf("admission.queueCapacity must not be negative")
	}
	if cfg.Build.Timeout < 0 {
		return nil, fmt.Errorf("build.timeout must not be negative")
	}
	if cfg.Build.MaxBundleBytes < 0 || cfg.Build.MaxExtractedBytes < 0 {
		return nil, fmt.Errorf("build byte ceilings must not be negative")
	}
	if cfg.Events.Enabled {
		if cfg.Events.Topic == "" {
			return nil, fmt.Errorf("events.topic is required when events are enabled")
		}
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("kafka brokers are required when events are enabled")
		}
	}

	return &cfg, nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
}
