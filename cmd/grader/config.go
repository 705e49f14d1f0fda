package main

import (
	"fmt"
	"os"
	"time"

	"judgeflow/internal/auth"
	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/db"
	commonmw "judgeflow/internal/common/http/middleware"
	"judgeflow/internal/common/mq"
	"judgeflow/internal/common/storage"
	"judgeflow/internal/grading/judgeclient"
	"judgeflow/internal/grading/service"
	"judgeflow/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	MetricsPath  string        `yaml:"metricsPath"`
}

// TopicConfig names the event topics. An empty topic disables that event.
type TopicConfig struct {
	SubmissionGraded string `yaml:"submissionGraded"`
	UserShadowBanned string `yaml:"userShadowBanned"`
	ProjectorGroup   string `yaml:"projectorGroup"`
}

// GradingConfig holds grading pipeline settings.
type GradingConfig struct {
	MaxCodeBytes      int                   `yaml:"maxCodeBytes"`
	MinSubmitInterval time.Duration         `yaml:"minSubmitInterval"`
	CacheTimeout      time.Duration         `yaml:"cacheTimeout"`
	ProblemCacheTTL   time.Duration         `yaml:"problemCacheTTL"`
	ProblemEmptyTTL   time.Duration         `yaml:"problemEmptyTTL"`
	Timeouts          service.TimeoutConfig `yaml:"timeouts"`
	Retry             service.RetryConfig   `yaml:"retry"`
}

// AbuseConfig holds anti-abuse thresholds.
type AbuseConfig struct {
	SolveWindow     time.Duration `yaml:"solveWindow"`
	MinSolveSeconds float64       `yaml:"minSolveSeconds"`
	BanThreshold    int           `yaml:"banThreshold"`
	Timeout         time.Duration `yaml:"timeout"`
}

// AppConfig holds grader configuration.
type AppConfig struct {
	Server   ServerConfig        `yaml:"server"`
	CORS     commonmw.CORSConfig `yaml:"cors"`
	Logger   logger.Config       `yaml:"logger"`
	Database db.MySQLConfig      `yaml:"database"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	Kafka    mq.KafkaConfig      `yaml:"kafka"`
	Topics   TopicConfig         `yaml:"topics"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Judge    judgeclient.Config  `yaml:"judge"`
	Auth     auth.Config         `yaml:"auth"`
	Grading  GradingConfig       `yaml:"grading"`
	Abuse    AbuseConfig         `yaml:"abuse"`
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
	cfg := AppConfig{
		Redis: cache.DefaultRedisConfig(),
		CORS:  commonmw.DefaultCORSConfig(),
	}
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
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

	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = "judgeflow-grader"
	}
	if cfg.Topics.SubmissionGraded == "" {
		cfg.Topics.SubmissionGraded = "submission.graded"
	}
	if cfg.Topics.UserShadowBanned == "" {
		cfg.Topics.UserShadowBanned = "user.shadow_banned"
	}
	if cfg.Topics.ProjectorGroup == "" {
		cfg.Topics.ProjectorGroup = "judgeflow-shadow-ban-projector"
	}

	if cfg.Judge.Timeout == 0 {
		cfg.Judge.Timeout = 10 * time.Second
	}

	if cfg.Grading.MaxCodeBytes == 0 {
		cfg.Grading.MaxCodeBytes = 64 * 1024
	}
	if cfg.Grading.MinSubmitInterval == 0 {
		cfg.Grading.MinSubmitInterval = 3 * time.Second
	}
	if cfg.Grading.CacheTimeout == 0 {
		cfg.Grading.CacheTimeout = 500 * time.Millisecond
	}
	if cfg.Grading.ProblemCacheTTL == 0 {
		cfg.Grading.ProblemCacheTTL = 10 * time.Minute
	}
	if cfg.Grading.ProblemEmptyTTL == 0 {
		cfg.Grading.ProblemEmptyTTL = time.Minute
	}
	if cfg.Grading.Timeouts.DB == 0 {
		cfg.Grading.Timeouts.DB = 3 * time.Second
	}
	if cfg.Grading.Timeouts.Storage == 0 {
		cfg.Grading.Timeouts.Storage = 5 * time.Second
	}
	if cfg.Grading.Timeouts.MQ == 0 {
		cfg.Grading.Timeouts.MQ = 3 * time.Second
	}
	if cfg.Grading.Retry.MaxRetries == 0 {
		cfg.Grading.Retry.MaxRetries = 3
	}

	if cfg.Abuse.SolveWindow == 0 {
		cfg.Abuse.SolveWindow = 45 * time.Second
	}
	if cfg.Abuse.MinSolveSeconds == 0 {
		cfg.Abuse.MinSolveSeconds = 20
	}
	if cfg.Abuse.BanThreshold == 0 {
		cfg.Abuse.BanThreshold = 5
	}
	if cfg.Abuse.Timeout == 0 {
		cfg.Abuse.Timeout = 2 * time.Second
	}

	return &cfg, nil
}
