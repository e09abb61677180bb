package config

import (
	"errors"
	"time"
)

// Config 应用配置根结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	AI        AIConfig        `mapstructure:"ai"`
	Chat      ChatConfig      `mapstructure:"chat"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AIConfig AI 服务配置
type AIConfig struct {
	Provider        string          `mapstructure:"provider"`
	APIKey          string          `mapstructure:"api_key"`
	Model           string          `mapstructure:"model"`
	BaseURL         string          `mapstructure:"base_url"`
	GenerateTimeout time.Duration   `mapstructure:"generate_timeout"` // 单次生成硬超时
	Options         AIOptionsConfig `mapstructure:"options"`
}

// AIOptionsConfig AI 模型参数
type AIOptionsConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	TopP        float64 `mapstructure:"top_p"`
}

// ChatConfig 对话引擎配置
type ChatConfig struct {
	MaxMessageLength int    `mapstructure:"max_message_length"` // 单条消息最大长度
	ContextWindow    int    `mapstructure:"context_window"`     // 上下文窗口消息条数
	DefaultTitle     string `mapstructure:"default_title"`      // 新对话默认标题
}

// RateLimitConfig 限流配置
// global 作用于所有流量（按客户端地址），per_user 作用于已认证用户，
// expensive 作用于触发 AI 生成的接口
type RateLimitConfig struct {
	Global        PolicyConfig  `mapstructure:"global"`
	PerUser       PolicyConfig  `mapstructure:"per_user"`
	Expensive     PolicyConfig  `mapstructure:"expensive"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// PolicyConfig 单个限流策略
type PolicyConfig struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

// LogConfig 日志配置 (Zerolog)
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	TimeFormat string `mapstructure:"time_format"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	MaxPoolSize uint64 `mapstructure:"max_pool_size"`
	MinPoolSize uint64 `mapstructure:"min_pool_size"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig 认证配置
type AuthConfig struct {
	JWTSecret         string        `mapstructure:"jwt_secret"`          // JWT密钥
	AccessTokenExpiry time.Duration `mapstructure:"access_token_expiry"` // Access Token过期时间
}

// Validate 验证配置有效性
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}

	validModes := map[string]bool{"debug": true, "release": true, "test": true}
	if !validModes[c.Server.Mode] {
		return errors.New("invalid server mode, must be debug/release/test")
	}

	if c.Chat.MaxMessageLength <= 0 {
		return errors.New("chat.max_message_length must be positive")
	}
	if c.Chat.ContextWindow <= 0 {
		return errors.New("chat.context_window must be positive")
	}

	for _, p := range []PolicyConfig{c.RateLimit.Global, c.RateLimit.PerUser, c.RateLimit.Expensive} {
		if p.MaxRequests <= 0 || p.Window <= 0 {
			return errors.New("rate limit policies require positive max_requests and window")
		}
	}

	return nil
}
