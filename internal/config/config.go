package config

import (
	"fmt"
	"os"
	"time"
	// 容器镜像可能没有系统时区库
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Storage   StorageConfig
	Tracing   TracingConfig `mapstructure:"tracing"`
	Redis     RedisConfig
	Quiz      QuizConfig      `mapstructure:"quiz"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	ForceMigrate bool `mapstructure:"-"`
	MigrateOnly  bool `mapstructure:"-"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

type ServerConfig struct {
	Port string
	Mode string
}

// DatabaseConfig Driver 支持 mysql / postgres / sqlite，sqlite 仅用于本地开发
type DatabaseConfig struct {
	Driver    string
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
	SSLMode   string `mapstructure:"ssl_mode"`
	Path      string
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type StorageConfig struct {
	Type          string `mapstructure:"type"`
	LocalPath     string `mapstructure:"local_path"`
	MinioEndpoint string `mapstructure:"minio_endpoint"`
	MinioAccessID string `mapstructure:"minio_access_key"`
	MinioSecret   string `mapstructure:"minio_secret_key"`
	MinioBucket   string `mapstructure:"minio_bucket"`
	MinioRegion   string `mapstructure:"minio_region"`
	MinioUseSSL   bool   `mapstructure:"minio_use_ssl"`
	// 预签名链接有效期（分钟）
	URLExpiryMinutes int `mapstructure:"url_expiry_minutes"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	// 会话完成通知的发布频道
	NotifyChannel string `mapstructure:"notify_channel"`
}

// QuizConfig 测验会话相关配置
type QuizConfig struct {
	SweepIntervalSeconds       int    `mapstructure:"sweep_interval_seconds"`
	SweepBatchSize             int    `mapstructure:"sweep_batch_size"`
	Timezone                   string `mapstructure:"timezone"`
	RecommendationTTLMinutes   int    `mapstructure:"recommendation_ttl_minutes"`
	RecommendationRecentWindow int    `mapstructure:"recommendation_recent_window"`
}

func (q QuizConfig) SweepInterval() time.Duration {
	if q.SweepIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(q.SweepIntervalSeconds) * time.Second
}

func (q QuizConfig) RecommendationTTL() time.Duration {
	if q.RecommendationTTLMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(q.RecommendationTTLMinutes) * time.Minute
}

// Location 返回统计连续学习天数时使用的参考时区
func (q QuizConfig) Location() *time.Location {
	if q.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("database.driver", "mysql")
	viper.SetDefault("database.charset", "utf8mb4")
	viper.SetDefault("database.parsetime", true)
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.path", "toothquest.db")
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local_path", "uploads")
	viper.SetDefault("storage.minio_region", "us-east-1")
	viper.SetDefault("storage.url_expiry_minutes", 60)
	viper.SetDefault("redis.notify_channel", "toothquest:session_completed")
	viper.SetDefault("quiz.sweep_interval_seconds", 60)
	viper.SetDefault("quiz.sweep_batch_size", 500)
	viper.SetDefault("quiz.timezone", "UTC")
	viper.SetDefault("quiz.recommendation_ttl_minutes", 30)
	viper.SetDefault("quiz.recommendation_recent_window", 10)
	viper.SetDefault("rate_limit.max_requests", 600)
	viper.SetDefault("rate_limit.window_minutes", 1)
}

func LoadConfig(path string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("TOOTHQUEST")
	viper.AutomaticEnv()
	setDefaults()

	// Database
	viper.BindEnv("database.driver", "DATABASE_DRIVER")
	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	viper.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	viper.BindEnv("redis.enabled", "REDIS_ENABLED")
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	viper.BindEnv("server.mode", "SERVER_MODE")
	viper.BindEnv("server.port", "SERVER_PORT")

	// Storage / MinIO
	viper.BindEnv("storage.type", "STORAGE_TYPE")
	viper.BindEnv("storage.minio_endpoint", "MINIO_ENDPOINT")
	viper.BindEnv("storage.minio_access_key", "MINIO_ACCESS_KEY")
	viper.BindEnv("storage.minio_secret_key", "MINIO_SECRET_KEY")
	viper.BindEnv("storage.minio_bucket", "MINIO_BUCKET")

	// Tracing
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	// Quiz
	viper.BindEnv("quiz.timezone", "QUIZ_TIMEZONE")
	viper.BindEnv("quiz.sweep_interval_seconds", "QUIZ_SWEEP_INTERVAL_SECONDS")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// 生产环境校验 JWT Secret 强度
	if cfg.Server.Mode == "release" && len(cfg.JWT.Secret) < 32 {
		return nil, fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(cfg.JWT.Secret))
	}

	if _, err := time.LoadLocation(cfg.Quiz.Timezone); err != nil {
		return nil, fmt.Errorf("invalid quiz.timezone %q: %w", cfg.Quiz.Timezone, err)
	}

	if cfg.Storage.Type == "local" {
		if _, err := os.Stat(cfg.Storage.LocalPath); os.IsNotExist(err) {
			os.MkdirAll(cfg.Storage.LocalPath, 0755)
		}
	}

	return &cfg, nil
}
