package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
	// Mode 取值 release / debug，debug 模式下返回内部错误详情并开放调试接口
	Mode     string `mapstructure:"mode"`
	WorkerID int64  `mapstructure:"worker_id"`
}

func (c ServerConfig) IsDebug() bool {
	return c.Mode == "debug"
}

type DatabaseConfig struct {
	// Driver 取值 mysql / postgres / sqlite
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	DSN          string `mapstructure:"dsn"` // 非空时优先使用
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	Ledger string `mapstructure:"ledger"`
}

// BackendConfig 远端账户服务配置
type BackendConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
}

type BusinessConfig struct {
	MaxRetryCount     int           `mapstructure:"max_retry_count"`
	SyncLockTTL       time.Duration `mapstructure:"sync_lock_ttl"`
	StaleSyncEnabled  bool          `mapstructure:"stale_sync_enabled"`
	StaleSyncInterval time.Duration `mapstructure:"stale_sync_interval"`
	StaleSyncAge      time.Duration `mapstructure:"stale_sync_age"`
	// WebhookClaimLease 回调事件抢占后超过该时长仍未处理完，允许重新投递再次抢占
	WebhookClaimLease time.Duration `mapstructure:"webhook_claim_lease"`
}

var GlobalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("kafka.topic.ledger", "credit_ledger")
	v.SetDefault("backend.timeout", 10*time.Second)
	v.SetDefault("backend.max_attempts", 3)
	v.SetDefault("backend.retry_base_delay", 500*time.Millisecond)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.sync_lock_ttl", 30*time.Second)
	v.SetDefault("business.stale_sync_interval", 5*time.Minute)
	v.SetDefault("business.stale_sync_age", time.Hour)
	v.SetDefault("business.webhook_claim_lease", 5*time.Minute)
}

// Load 读取配置文件，环境变量 CREDITSYNC_* 可覆盖同名配置项
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("creditsync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if cfg.Backend.BaseURL == "" {
		return nil, fmt.Errorf("backend.base_url 不能为空")
	}

	return cfg, nil
}

// LoadConfig 加载配置文件，失败直接退出
func LoadConfig(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}

	GlobalConfig = cfg
	return cfg
}
