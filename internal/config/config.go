package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Router   RouterConfig   `mapstructure:"router"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // sqlite, postgres
	Path            string `mapstructure:"path"`   // sqlite 文件路径
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`      // 是否自动迁移表结构
}

// RedisConfig Redis 配置（可选，用于会话消息热缓存）
type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// AuthConfig 管理接口认证配置
type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`   // JWT 签名密钥
	AdminAPIKey string `mapstructure:"admin_api_key"` // 换取管理 Token 的 API Key
	TokenTTL    int    `mapstructure:"token_ttl"`    // Token 有效期（分钟）
}

// RouterConfig 模型路由配置
type RouterConfig struct {
	Providers       []ProviderConfig `mapstructure:"providers"`        // 提供商列表，声明顺序即跨提供商降级顺序
	Models          []ModelConfig    `mapstructure:"models"`           // 模型清单（含成本表与档位）
	Retry           RetryConfig      `mapstructure:"retry"`            // 适配器内重试退避
	AvailabilityTTL int              `mapstructure:"availability_ttl"` // 可用性缓存 TTL（秒），默认 300
	RefreshInterval int              `mapstructure:"refresh_interval"` // 后台可用性刷新间隔（秒），0 关闭
	DefaultPriority string           `mapstructure:"default_priority"` // speed, quality, cost, balanced
	FallbackEnabled bool             `mapstructure:"fallback_enabled"` // 是否允许降级
	Thresholds      ThresholdConfig  `mapstructure:"thresholds"`       // 路由阈值
	SnapshotInterval int             `mapstructure:"snapshot_interval"` // 指标快照落库间隔（秒），0 关闭
}

// ProviderConfig 提供商配置
type ProviderConfig struct {
	Name      string            `mapstructure:"name"`      // 提供商名称（唯一）
	Driver    string            `mapstructure:"driver"`    // 协议驱动: openai, anthropic, gemini, ollama（deepseek/qwen 走 openai 兼容协议）
	APIKey    string            `mapstructure:"api_key"`   // API Key，支持 APP_ 环境变量覆盖
	BaseURL   string            `mapstructure:"base_url"`  // 基础 URL
	OrgID     string            `mapstructure:"org_id"`    // 组织 ID（OpenAI）
	Timeout   int               `mapstructure:"timeout"`   // 单次请求超时（秒），默认 60
	Headers   map[string]string `mapstructure:"headers"`   // 附加请求头
	Fallbacks []string          `mapstructure:"fallbacks"` // 同提供商静态降级链（模型 ID 有序列表）
}

// ModelConfig 模型配置
type ModelConfig struct {
	ID                string  `mapstructure:"id"`
	Provider          string  `mapstructure:"provider"`
	DisplayName       string  `mapstructure:"display_name"`
	MaxTokens         int     `mapstructure:"max_tokens"`
	SupportsStreaming bool    `mapstructure:"supports_streaming"`
	InputCostPer1K    float64 `mapstructure:"input_cost_per_1k"`
	OutputCostPer1K   float64 `mapstructure:"output_cost_per_1k"`
	Tier              string  `mapstructure:"tier"` // fast, balanced, premium, expert
	Enabled           bool    `mapstructure:"enabled"`
}

// RetryConfig 重试退避配置
type RetryConfig struct {
	MaxRetries int     `mapstructure:"max_retries"` // 最大重试次数，默认 3
	BaseDelay  float64 `mapstructure:"base_delay"`  // 基础延迟（秒），默认 1.0
	MaxDelay   float64 `mapstructure:"max_delay"`   // 延迟上限（秒），默认 60.0
	JitterMin  float64 `mapstructure:"jitter_min"`  // 抖动下限，默认 0.1
	JitterMax  float64 `mapstructure:"jitter_max"`  // 抖动上限，默认 0.3
}

// ThresholdConfig 路由阈值配置
type ThresholdConfig struct {
	FallbackThreshold float64 `mapstructure:"fallback_threshold"` // 低于该可用性得分的模型不进入候选集
	QualityThreshold  float64 `mapstructure:"quality_threshold"`  // 质量告警阈值
}

var globalConfig *Config

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()

	// 设置配置文件名和路径
	if configPath == "" {
		v.SetConfigName(env) // dev.yaml, prod.yaml
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")

	// 读取环境变量（优先级高于配置文件）
	v.SetEnvPrefix("APP") // 环境变量前缀：APP_
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // 支持嵌套配置：APP_DATABASE_HOST

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Router.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// applyDefaults 填充缺省值
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/router.db"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 120
	}

	r := &c.Router
	if r.Retry.MaxRetries == 0 {
		r.Retry.MaxRetries = 3
	}
	if r.Retry.BaseDelay == 0 {
		r.Retry.BaseDelay = 1.0
	}
	if r.Retry.MaxDelay == 0 {
		r.Retry.MaxDelay = 60.0
	}
	if r.Retry.JitterMin == 0 {
		r.Retry.JitterMin = 0.1
	}
	if r.Retry.JitterMax == 0 {
		r.Retry.JitterMax = 0.3
	}
	if r.AvailabilityTTL == 0 {
		r.AvailabilityTTL = 300
	}
	if r.DefaultPriority == "" {
		r.DefaultPriority = "balanced"
	}
	if r.Thresholds.FallbackThreshold == 0 {
		r.Thresholds.FallbackThreshold = 0.3
	}
	if r.Thresholds.QualityThreshold == 0 {
		r.Thresholds.QualityThreshold = 0.5
	}
	for i := range r.Providers {
		if r.Providers[i].Timeout == 0 {
			r.Providers[i].Timeout = 60
		}
	}
}

// Validate 校验路由配置的内部一致性
func (r *RouterConfig) Validate() error {
	providers := make(map[string]bool, len(r.Providers))
	for _, p := range r.Providers {
		if p.Name == "" {
			return fmt.Errorf("提供商名称不能为空")
		}
		if providers[p.Name] {
			return fmt.Errorf("提供商重复: %s", p.Name)
		}
		providers[p.Name] = true
	}

	models := make(map[string]bool, len(r.Models))
	for _, m := range r.Models {
		if m.ID == "" {
			return fmt.Errorf("模型 ID 不能为空")
		}
		if models[m.ID] {
			return fmt.Errorf("模型重复: %s", m.ID)
		}
		if !providers[m.Provider] {
			return fmt.Errorf("模型 %s 引用了未声明的提供商: %s", m.ID, m.Provider)
		}
		models[m.ID] = true
	}

	// 降级链只允许引用已声明的模型
	for _, p := range r.Providers {
		for _, id := range p.Fallbacks {
			if !models[id] {
				return fmt.Errorf("提供商 %s 的降级链引用了未声明的模型: %s", p.Name, id)
			}
		}
	}

	if r.Retry.JitterMin > r.Retry.JitterMax {
		return fmt.Errorf("抖动下限不能大于上限")
	}
	return nil
}

// AvailabilityTTLDuration 可用性缓存 TTL
func (r *RouterConfig) AvailabilityTTLDuration() time.Duration {
	return time.Duration(r.AvailabilityTTL) * time.Second
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}
