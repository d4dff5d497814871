package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	once   sync.Once
	config *Config
)

// Config 全局配置结构
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Registry RegistryConfig `mapstructure:"registry"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Casbin   CasbinConfig   `mapstructure:"casbin"`
	Log      LogConfig      `mapstructure:"log"`
	Sync     SyncConfig     `mapstructure:"sync"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPConfig `mapstructure:"http"`
}

// HTTPConfig HTTP服务配置
type HTTPConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`
	WriteTimeout int    `mapstructure:"writeTimeout"`
}

// Addr 获取监听地址
func (c *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Database     string `mapstructure:"database"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Charset      string `mapstructure:"charset"`
	MaxIdleConns int    `mapstructure:"maxIdleConns"`
	MaxOpenConns int    `mapstructure:"maxOpenConns"`
	LogLevel     string `mapstructure:"logLevel"`
}

// DSN 生成数据库连接字符串
func (c *DatabaseConfig) DSN() string {
	switch c.Driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
			c.Username, c.Password, c.Host, c.Port, c.Database, c.Charset)
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			c.Host, c.Port, c.Username, c.Password, c.Database)
	case "sqlite":
		// 为空时使用内存数据库
		if c.Database == "" {
			return ":memory:"
		}
		return c.Database
	default:
		return ""
	}
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"poolSize"`
	Mode     string `mapstructure:"mode"` // "standalone" 外部 Redis, "memory" 内存模式
}

// Addr 获取Redis地址
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RegistryConfig 服务注册配置
type RegistryConfig struct {
	Mode string `mapstructure:"mode"` // "memory"、"redis" 或 "mdns"
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
	Expire int64  `mapstructure:"expire"`
}

// CasbinConfig Casbin配置
type CasbinConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ModelPath string `mapstructure:"modelPath"` // 为空时使用内置模型
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAge     int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// 冲突解决策略
const (
	ConflictLastWriteWins  = "last-write-wins"
	ConflictTimestamp      = "timestamp"
	ConflictHierarchyBased = "hierarchy-based"
)

// SyncConfig 角色同步配置
type SyncConfig struct {
	EnableRealTimeSync      bool          `mapstructure:"enableRealTimeSync"`
	EnableBidirectionalSync bool          `mapstructure:"enableBidirectionalSync"`
	ConflictResolution      string        `mapstructure:"conflictResolution"`
	BatchSize               int           `mapstructure:"batchSize"`
	RetryAttempts           int           `mapstructure:"retryAttempts"`
	SyncTimeout             time.Duration `mapstructure:"syncTimeout"`
	LocalApp                string        `mapstructure:"localApp"`
	PollInterval            time.Duration `mapstructure:"pollInterval"`
	ClaimTTL                time.Duration `mapstructure:"claimTTL"`
	Channel                 string        `mapstructure:"channel"`
	QueueCapacity           int           `mapstructure:"queueCapacity"`

	// OrganizationTiers 组织ID到套餐等级，组织ID不区分大小写
	OrganizationTiers map[string]string `mapstructure:"organizationTiers"`
	// DefaultTier 未列出的组织使用的套餐，为空时按 BASIC
	DefaultTier       string            `mapstructure:"defaultTier"`
}

// TierLookupEnabled 是否配置了组织套餐，未配置时信任请求中的套餐
func (c SyncConfig) TierLookupEnabled() bool {
	return len(c.OrganizationTiers) > 0 || c.DefaultTier != ""
}

// DefaultSyncConfig 默认同步配置
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		EnableRealTimeSync:      true,
		EnableBidirectionalSync: true,
		ConflictResolution:      ConflictHierarchyBased,
		BatchSize:               10,
		RetryAttempts:           3,
		SyncTimeout:             30 * time.Second,
		LocalApp:                "appA",
		PollInterval:            5 * time.Second,
		ClaimTTL:                time.Minute,
		Channel:                 "rolesync:events",
		QueueCapacity:           1024,
	}
}

// Normalize 用默认值填充零值字段
// 布尔开关无法区分未设置与 false，由调用方自行决定
func (c SyncConfig) Normalize() SyncConfig {
	def := DefaultSyncConfig()
	if c.ConflictResolution == "" {
		c.ConflictResolution = def.ConflictResolution
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.RetryAttempts < 0 {
		c.RetryAttempts = 0
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = def.SyncTimeout
	}
	if c.LocalApp == "" {
		c.LocalApp = def.LocalApp
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = def.ClaimTTL
	}
	if c.Channel == "" {
		c.Channel = def.Channel
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = def.QueueCapacity
	}
	return c
}

// Init 初始化配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		config, err = Load(configPath)
	})
	return err
}

// Load 加载配置文件并返回新实例
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// 加载环境特定配置
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = v.GetString("app.env")
	}

	if env != "" && env != "default" {
		v.SetConfigName(fmt.Sprintf("config.%s", env))
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to merge env config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	resolveEnvVars(cfg)
	cfg.Sync = cfg.Sync.Normalize()

	return cfg, nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	def := DefaultSyncConfig()
	v.SetDefault("sync.enableRealTimeSync", def.EnableRealTimeSync)
	v.SetDefault("sync.enableBidirectionalSync", def.EnableBidirectionalSync)
	v.SetDefault("sync.conflictResolution", def.ConflictResolution)
	v.SetDefault("sync.batchSize", def.BatchSize)
	v.SetDefault("sync.retryAttempts", def.RetryAttempts)
	v.SetDefault("sync.syncTimeout", def.SyncTimeout)
	v.SetDefault("sync.localApp", def.LocalApp)
	v.SetDefault("sync.pollInterval", def.PollInterval)
	v.SetDefault("sync.claimTTL", def.ClaimTTL)
	v.SetDefault("sync.channel", def.Channel)
	v.SetDefault("sync.queueCapacity", def.QueueCapacity)
	v.SetDefault("registry.mode", "memory")
	v.SetDefault("redis.mode", "memory")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "console")
}

// resolveEnvVars 解析环境变量占位符
func resolveEnvVars(cfg *Config) {
	cfg.Database.Host = resolveEnvVar(cfg.Database.Host)
	cfg.Database.Username = resolveEnvVar(cfg.Database.Username)
	cfg.Database.Password = resolveEnvVar(cfg.Database.Password)
	cfg.Database.Database = resolveEnvVar(cfg.Database.Database)
	cfg.Redis.Host = resolveEnvVar(cfg.Redis.Host)
	cfg.Redis.Password = resolveEnvVar(cfg.Redis.Password)
	cfg.JWT.Secret = resolveEnvVar(cfg.JWT.Secret)
}

// resolveEnvVar 解析单个环境变量
func resolveEnvVar(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		envKey := strings.TrimSuffix(strings.TrimPrefix(value, "${"), "}")
		if envValue := os.Getenv(envKey); envValue != "" {
			return envValue
		}
	}
	return value
}

// Get 获取配置实例
func Get() *Config {
	if config == nil {
		panic("config not initialized, call Init first")
	}
	return config
}

// GetDatabase 获取数据库配置
func GetDatabase() *DatabaseConfig {
	return &Get().Database
}

// GetRedis 获取Redis配置
func GetRedis() *RedisConfig {
	return &Get().Redis
}

// GetLog 获取日志配置
func GetLog() *LogConfig {
	return &Get().Log
}

// GetSync 获取同步配置
func GetSync() *SyncConfig {
	return &Get().Sync
}

// IsDev 是否为开发环境
func IsDev() bool {
	return Get().App.Env == "dev" || Get().App.Env == "development"
}
