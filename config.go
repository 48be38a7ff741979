package quota

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"
)

// Config 服务配置
type Config struct {
	// Redis 计数存储配置
	Redis RedisConfig `yaml:"redis"`
	// Log 日志配置
	Log LogConfig `yaml:"log"`
	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics"`
	// Server HTTP服务配置
	Server ServerConfig `yaml:"server"`
	// Rules 规则表：分类 -> 名称 -> 规则
	Rules RulesConfig `yaml:"rules"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	// Addr 地址（host:port）
	Addr string `yaml:"addr"`
	// Password 密码
	Password string `yaml:"password"`
	// DB 数据库编号
	DB int `yaml:"db"`
	// Prefix 键的命名空间前缀
	Prefix string `yaml:"prefix"`
	// DialTimeout 连接超时（如：2s）
	DialTimeout string `yaml:"dial_timeout"`
	// ReadTimeout 读超时
	ReadTimeout string `yaml:"read_timeout"`
	// WriteTimeout 写超时
	WriteTimeout string `yaml:"write_timeout"`
	// Connect 连接重试配置
	Connect ConnectConfig `yaml:"connect"`
}

// ConnectConfig 连接重试配置（指数退避，有上限）
type ConnectConfig struct {
	// MaxRetries 最大尝试次数
	MaxRetries int `yaml:"max_retries"`
	// InitialInterval 首次退避间隔
	InitialInterval string `yaml:"initial_interval"`
	// MaxInterval 退避间隔上限
	MaxInterval string `yaml:"max_interval"`
}

// LogConfig 日志配置
type LogConfig struct {
	// Level 日志级别（trace/debug/info/warn/error）
	Level string `yaml:"level"`
	// JSON 是否输出JSON格式
	JSON bool `yaml:"json"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// Enabled 是否暴露 /metrics
	Enabled bool `yaml:"enabled"`
	// Namespace 指标名前缀
	Namespace string `yaml:"namespace"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	// Addr 监听地址
	Addr string `yaml:"addr"`
}

// RulesConfig 规则表配置
type RulesConfig map[Category]map[string]RuleConfig

// RuleConfig 规则配置
type RuleConfig struct {
	// Limit 窗口内允许的次数
	Limit int64 `yaml:"limit"`
	// Window 时间窗口（如：60s, 1h, 24h），必须是整秒
	Window string `yaml:"window"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	config := &Config{}
	applyDefaults(config)
	return config
}

// LoadConfig 从文件加载配置
func LoadConfig(filename string) (*Config, error) {
	// 读取文件
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析YAML
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	applyDefaults(&config)

	// 验证配置
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &config, nil
}

// applyDefaults 填充默认值
func applyDefaults(config *Config) {
	if config.Redis.Addr == "" {
		config.Redis.Addr = "127.0.0.1:6379"
	}
	if config.Redis.Prefix == "" {
		config.Redis.Prefix = "quota"
	}
	if config.Redis.DialTimeout == "" {
		config.Redis.DialTimeout = "2s"
	}
	if config.Redis.ReadTimeout == "" {
		config.Redis.ReadTimeout = "1s"
	}
	if config.Redis.WriteTimeout == "" {
		config.Redis.WriteTimeout = "1s"
	}
	if config.Redis.Connect.MaxRetries == 0 {
		config.Redis.Connect.MaxRetries = 5
	}
	if config.Redis.Connect.InitialInterval == "" {
		config.Redis.Connect.InitialInterval = "100ms"
	}
	if config.Redis.Connect.MaxInterval == "" {
		config.Redis.Connect.MaxInterval = "2s"
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Metrics.Namespace == "" {
		config.Metrics.Namespace = "quota"
	}
	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
}

// validateConfig 验证配置
func validateConfig(config *Config) error {
	durations := map[string]string{
		"redis.dial_timeout":             config.Redis.DialTimeout,
		"redis.read_timeout":             config.Redis.ReadTimeout,
		"redis.write_timeout":            config.Redis.WriteTimeout,
		"redis.connect.initial_interval": config.Redis.Connect.InitialInterval,
		"redis.connect.max_interval":     config.Redis.Connect.MaxInterval,
	}
	for field, value := range durations {
		d, err := parseDuration(value)
		if err != nil || d <= 0 {
			return fmt.Errorf("无效的时间: %s=%s", field, value)
		}
	}

	if config.Redis.Connect.MaxRetries < 0 {
		return fmt.Errorf("redis.connect.max_retries 不能小于0")
	}

	if hclog.LevelFromString(config.Log.Level) == hclog.NoLevel {
		return fmt.Errorf("无效的日志级别: %s", config.Log.Level)
	}

	// 规则表在这里完整解析一遍，启动后不会再出现缺失或非法的规则
	if _, err := NewRegistry(config.Rules); err != nil {
		return err
	}

	return nil
}

// Registry 根据配置生成规则表
func (c *Config) Registry() (*Registry, error) {
	return NewRegistry(c.Rules)
}

// Duration 解析已验证过的时间配置，无效时返回0
func Duration(s string) time.Duration {
	d, _ := parseDuration(s)
	return d
}

// parseDuration 解析时间窗口字符串
func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(strings.TrimSpace(s))
}

// ToRule 将配置规则转换为内部规则
func (rc RuleConfig) ToRule() (Rule, error) {
	if rc.Limit < 1 {
		return Rule{}, fmt.Errorf("限流阈值必须大于0")
	}

	window, err := parseDuration(rc.Window)
	if err != nil {
		return Rule{}, fmt.Errorf("无效的时间窗口: %s", rc.Window)
	}
	if window < time.Second || window%time.Second != 0 {
		return Rule{}, fmt.Errorf("时间窗口必须是不小于1秒的整秒: %s", rc.Window)
	}

	return Rule{
		Limit:         rc.Limit,
		WindowSeconds: int64(window / time.Second),
	}, nil
}

// GetConfigPath 获取配置文件路径（支持相对路径和绝对路径）
func GetConfigPath(filename string) (string, error) {
	// 如果是绝对路径，直接返回
	if filepath.IsAbs(filename) {
		return filename, nil
	}

	// 尝试从当前工作目录查找
	if _, err := os.Stat(filename); err == nil {
		return filename, nil
	}

	// 尝试从可执行文件目录查找
	execPath, err := os.Executable()
	if err == nil {
		execDir := filepath.Dir(execPath)
		configPath := filepath.Join(execDir, filename)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
	}

	return "", fmt.Errorf("配置文件不存在: %s", filename)
}
