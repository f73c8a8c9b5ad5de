package main

import (
	"fmt"
	"os"
	"time"

	"codeassess/internal/common/cache"
	"codeassess/internal/common/mq"
	"codeassess/internal/grading"
	"codeassess/internal/grading/repository"
	"codeassess/internal/grading/service"
	"codeassess/internal/judge/client"
	"codeassess/internal/judge/semaphore"
	"codeassess/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultTaskTopic        = "grading.tasks"
	defaultRetryTopic       = "grading.tasks.retry"
	defaultResultTopic      = "grading.results"
	defaultDeadLetterTopic  = "grading.tasks.dead"
	defaultConsumerGroup    = "codeassess-grading"
	defaultShutdownTimeout  = 10 * time.Second
	defaultKafkaDialTimeout = 10 * time.Second
)

// KafkaConfig holds Kafka connection and topic settings.
type KafkaConfig struct {
	mq.KafkaConfig `yaml:",inline"`

	TaskTopic     string `yaml:"taskTopic"`
	RetryTopic    string `yaml:"retryTopic"`
	ResultTopic   string `yaml:"resultTopic"`
	DeadLetter    string `yaml:"deadLetterTopic"`
	ConsumerGroup string `yaml:"consumerGroup"`
	// TaskWeight and RetryWeight split fetches between fresh and busy-requeued tasks.
	TaskWeight  int `yaml:"taskWeight"`
	RetryWeight int `yaml:"retryWeight"`
	MaxInFlight int `yaml:"maxInFlight"`

	MaxRetries int           `yaml:"maxRetries"`
	RetryDelay time.Duration `yaml:"retryDelay"`

	BusyRetryMax      int           `yaml:"busyRetryMax"`
	BusyRetryBase     time.Duration `yaml:"busyRetryBaseDelay"`
	BusyRetryMaxDelay time.Duration `yaml:"busyRetryMaxDelay"`
}

// ServiceConfig holds consumer behaviour settings.
type ServiceConfig struct {
	GradeTimeout    time.Duration `yaml:"gradeTimeout"`
	RunAllTests     *bool         `yaml:"runAllTests"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// AppConfig holds grading-service config.
type AppConfig struct {
	Logger    logger.Config           `yaml:"logger"`
	Redis     cache.RedisConfig       `yaml:"redis"`
	Kafka     KafkaConfig             `yaml:"kafka"`
	Judge     client.Config           `yaml:"judge"`
	Semaphore semaphore.Config        `yaml:"semaphore"`
	Grading   *grading.GradingConfig  `yaml:"grading"`
	Records   repository.RecordConfig `yaml:"records"`
	Service   ServiceConfig           `yaml:"service"`
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
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Judge.Command == "" {
		return nil, fmt.Errorf("judge command is required")
	}
	applyRedisDefaults(&cfg.Redis)
	applyKafkaDefaults(&cfg.Kafka)
	cfg.Semaphore = semaphore.ConfigFromEnv(cfg.Semaphore)
	if cfg.Grading == nil {
		def := grading.DefaultGradingConfig()
		cfg.Grading = &def
	}
	if cfg.Service.RunAllTests == nil {
		runAll := true
		cfg.Service.RunAllTests = &runAll
	}
	if cfg.Service.ShutdownTimeout == 0 {
		cfg.Service.ShutdownTimeout = defaultShutdownTimeout
	}
	return &cfg, nil
}

func applyKafkaDefaults(cfg *KafkaConfig) {
	if cfg.TaskTopic == "" {
		cfg.TaskTopic = defaultTaskTopic
	}
	if cfg.RetryTopic == "" {
		cfg.RetryTopic = defaultRetryTopic
	}
	if cfg.ResultTopic == "" {
		cfg.ResultTopic = defaultResultTopic
	}
	if cfg.DeadLetter == "" {
		cfg.DeadLetter = defaultDeadLetterTopic
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = defaultConsumerGroup
	}
	if cfg.TaskWeight <= 0 {
		cfg.TaskWeight = 4
	}
	if cfg.RetryWeight <= 0 {
		cfg.RetryWeight = 1
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	if cfg.BusyRetryMax <= 0 {
		cfg.BusyRetryMax = 5
	}
	if cfg.BusyRetryBase == 0 {
		cfg.BusyRetryBase = time.Second
	}
	if cfg.BusyRetryMaxDelay == 0 {
		cfg.BusyRetryMaxDelay = 30 * time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultKafkaDialTimeout
	}
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
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

func (k KafkaConfig) topics() []mq.WeightedTopic {
	return []mq.WeightedTopic{
		{Topic: k.TaskTopic, Weight: k.TaskWeight},
		{Topic: k.RetryTopic, Weight: k.RetryWeight},
	}
}

func (k KafkaConfig) subscribeOptions() *mq.SubscribeOptions {
	return &mq.SubscribeOptions{
		ConsumerGroup:   k.ConsumerGroup,
		MaxInFlight:     k.MaxInFlight,
		MaxRetries:      k.MaxRetries,
		RetryDelay:      k.RetryDelay,
		DeadLetterTopic: k.DeadLetter,
	}
}

func (k KafkaConfig) busyRetryPolicy() service.BusyRetryPolicy {
	return service.BusyRetryPolicy{
		Topic:       k.RetryTopic,
		DeadLetter:  k.DeadLetter,
		MaxAttempts: k.BusyRetryMax,
		BaseDelay:   k.BusyRetryBase,
		MaxDelay:    k.BusyRetryMaxDelay,
	}
}
