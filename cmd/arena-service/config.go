package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"codearena/internal/common/cache"
	"codearena/internal/common/db"
	"codearena/internal/common/mq"
	"codearena/internal/common/storage"
	"codearena/internal/judge/coderunner"
	"codearena/internal/judge/remote"
	"codearena/internal/judge/sandbox"
	"codearena/internal/match/service"
	"codearena/internal/rating"
	"codearena/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8088"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 3 * time.Minute
	defaultSubmitLockTTL   = 2 * time.Minute
	// writeTimeoutSlack is headroom over the submit lock for encoding the response.
	writeTimeoutSlack = 30 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultProblemTTL      = 10 * time.Minute
	defaultSandboxTimeout  = 10 * time.Second
	defaultRemoteTimeout   = 30 * time.Second
	defaultArchiveBucket   = "submissions"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// KafkaConfig holds Kafka settings.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	ClientID      string        `yaml:"clientID"`
	MinBytes      int           `yaml:"minBytes"`
	MaxBytes      int           `yaml:"maxBytes"`
	MaxWait       time.Duration `yaml:"maxWait"`
	BatchSize     int           `yaml:"batchSize"`
	BatchTimeout  time.Duration `yaml:"batchTimeout"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	RequiredAcks  int           `yaml:"requiredAcks"`
	Compression   string        `yaml:"compression"`
	ConsumerGroup string        `yaml:"consumerGroup"`
	// NotifyTopic receives every room event for fan-out across instances.
	NotifyTopic string `yaml:"notifyTopic"`
}

// JudgeConfig holds the execution stack settings.
type JudgeConfig struct {
	Runner  coderunner.Config `yaml:"runner"`
	Sandbox sandbox.Config    `yaml:"sandbox"`
	Remote  remote.Config     `yaml:"remote"`
}

// ArchiveConfig holds submitted source archival settings.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
}

// AuthConfig holds JWT verification settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
	JWTIssuer string `yaml:"jwtIssuer"`
}

// ProblemConfig holds problem cache settings.
type ProblemConfig struct {
	CacheTTL time.Duration `yaml:"cacheTTL"`
	EmptyTTL time.Duration `yaml:"emptyTTL"`
}

// AppConfig holds arena-service config.
type AppConfig struct {
	Server   ServerConfig        `yaml:"server"`
	Logger   logger.Config       `yaml:"logger"`
	Kafka    KafkaConfig         `yaml:"kafka"`
	Database db.MySQLConfig      `yaml:"database"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Archive  ArchiveConfig       `yaml:"archive"`
	Judge    JudgeConfig         `yaml:"judge"`
	Problem  ProblemConfig       `yaml:"problem"`
	Match    service.Settings    `yaml:"match"`
	Rating   rating.RetryConfig  `yaml:"ratingRetry"`
	Auth     AuthConfig          `yaml:"auth"`
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

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth jwtSecret is required")
	}
	applyRedisDefaults(&cfg.Redis)
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Match.SubmitLockTTL <= 0 {
		cfg.Match.SubmitLockTTL = defaultSubmitLockTTL
	}
	// A submission may hold the request for the whole submit lock.
	if floor := cfg.Match.SubmitLockTTL + writeTimeoutSlack; cfg.Server.WriteTimeout < floor {
		cfg.Server.WriteTimeout = floor
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Problem.CacheTTL == 0 {
		cfg.Problem.CacheTTL = defaultProblemTTL
	}
	if cfg.Judge.Sandbox.Timeout == 0 {
		cfg.Judge.Sandbox.Timeout = defaultSandboxTimeout
	}
	if cfg.Judge.Remote.Timeout == 0 {
		cfg.Judge.Remote.Timeout = defaultRemoteTimeout
	}
	if cfg.Archive.Bucket == "" {
		cfg.Archive.Bucket = cfg.MinIO.Bucket
	}
	if cfg.Archive.Bucket == "" {
		cfg.Archive.Bucket = defaultArchiveBucket
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "arena-service"
	}
	if cfg.Kafka.NotifyTopic == "" {
		cfg.Kafka.NotifyTopic = "arena.room.events"
	}
	if cfg.Rating.Topic == "" {
		cfg.Rating.Topic = "arena.rating.retry"
	}
	if cfg.Rating.DeadLetter == "" {
		cfg.Rating.DeadLetter = "arena.rating.dead"
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
}

func (k KafkaConfig) enabled() bool {
	return len(k.Brokers) > 0
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
		Compression:  parseCompression(k.Compression),
	}
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}
