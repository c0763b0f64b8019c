package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Lock      LockConfig      `mapstructure:"lock"`
	AIGateway AIGatewayConfig `mapstructure:"ai_gateway"`
	RAG       RAGConfig       `mapstructure:"rag"`
	VCS       VCSConfig       `mapstructure:"vcs"`
	OSS       OSSConfig       `mapstructure:"oss"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type QueueConfig struct {
	AnalysisQueue string `mapstructure:"analysis_queue"`
	MaxWorkers    int    `mapstructure:"max_workers"`
}

// LockConfig 分析锁配置
type LockConfig struct {
	StaleMinutes   int `mapstructure:"stale_minutes"`   // 锁过期时间（分钟），默认 30
	AcquireRetries int `mapstructure:"acquire_retries"` // 获取锁失败后的重试次数
	RetrySeconds   int `mapstructure:"retry_seconds"`   // 重试间隔（秒）
}

// StaleAfter 返回锁被视为失效的时长
func (c LockConfig) StaleAfter() time.Duration {
	minutes := c.StaleMinutes
	if minutes <= 0 {
		minutes = 30
	}
	return time.Duration(minutes) * time.Minute
}

// RetryInterval 返回锁竞争时的重试间隔
func (c LockConfig) RetryInterval() time.Duration {
	seconds := c.RetrySeconds
	if seconds <= 0 {
		seconds = 15
	}
	return time.Duration(seconds) * time.Second
}

// AIGatewayConfig AI 网关配置
type AIGatewayConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // 0 表示不限时，大 diff 的评审可能很长
}

// RAGConfig RAG 索引服务配置
type RAGConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// VCSConfig 代码托管平台 API 配置
type VCSConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	AccessToken    string `mapstructure:"access_token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

// WebhookConfig webhook 接入配置（签名校验由上游网关完成，这里只做共享密钥比对）
type WebhookConfig struct {
	Secret string `mapstructure:"secret"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// CleanupConfig 清理任务配置
type CleanupConfig struct {
	JobRetentionDays int `mapstructure:"job_retention_days"` // 终态 job 保留天数
	MaxLogsPerJob    int `mapstructure:"max_logs_per_job"`   // 每个 job 保留的日志条数上限
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	// 检查 config.local.yaml 是否存在
	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 环境变量覆盖
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
