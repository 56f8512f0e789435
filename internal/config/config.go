package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 半包放弃策略
const (
	DesyncDrop   = "drop"
	DesyncReport = "report"
)

// AppConfig 应用基础信息
type AppConfig struct {
	Name            string        `mapstructure:"name"`
	Env             string        `mapstructure:"env"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

// HCIDumpConfig 被监听的控制器与 hcidump 进程
type HCIDumpConfig struct {
	Adapter      string   `mapstructure:"adapter"` // hciN 或 MAC 地址
	Binary       string   `mapstructure:"binary"`
	Autostart    bool     `mapstructure:"autostart"`
	ExtraArgs    []string `mapstructure:"extraArgs"`
	DesyncPolicy string   `mapstructure:"desyncPolicy"` // drop | report
	LogPackets   bool     `mapstructure:"logPackets"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	WS           WSConfig      `mapstructure:"ws"`
	Auth         AuthConfig    `mapstructure:"auth"`
}

// AuthConfig /api 与 /ws 的 API Key 认证
type AuthConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	APIKeys []string `mapstructure:"apiKeys"`
}

// WSConfig 实时包流推送
type WSConfig struct {
	PingInterval time.Duration `mapstructure:"pingInterval"`
	WriteWait    time.Duration `mapstructure:"writeWait"`
	SendRate     float64       `mapstructure:"sendRate"` // 每客户端每秒最多推送条数
	SendBurst    int           `mapstructure:"sendBurst"`
	QueueSize    int           `mapstructure:"queueSize"`
}

// LumberjackConfig 日志滚动（lumberjack）配置
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig 日志级别与输出配置
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig Prometheus 指标暴露配置
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// RedisConfig 包记录发布到 Redis 频道
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	PoolSize  int    `mapstructure:"poolSize"`
	Channel   string `mapstructure:"channel"`
	QueueSize int    `mapstructure:"queueSize"` // 待发布记录缓冲，满时丢弃
}

// NATSConfig 包记录发布到 NATS 主题
type NATSConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	URL       string `mapstructure:"url"`
	Subject   string `mapstructure:"subject"`
	QueueSize int    `mapstructure:"queueSize"`
}

// NamesConfig 操作码/事件码名称表
type NamesConfig struct {
	Path string `mapstructure:"path"`
}

// Config 顶层配置结构
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	HCIDump HCIDumpConfig `mapstructure:"hcidump"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Redis   RedisConfig   `mapstructure:"redis"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Names   NamesConfig   `mapstructure:"names"`
}

// Load 从 YAML/TOML/JSON 文件与环境变量加载配置。
// 若 path 为空，则尝试从环境变量 HCIMON_CONFIG 读取；否则回退到 configs/example.yaml。
func Load(path string) (*Config, error) {
	v := viper.New()

	// 环境变量覆盖：前缀 HCIMON_，并将点号替换为下划线
	v.SetEnvPrefix("HCIMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("example")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// 首次运行允许缺少配置文件，依赖默认值与环境变量
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查取值范围
func (c *Config) Validate() error {
	switch c.HCIDump.DesyncPolicy {
	case DesyncDrop, DesyncReport:
	default:
		return fmt.Errorf("config: hcidump.desyncPolicy %q (want %s|%s)", c.HCIDump.DesyncPolicy, DesyncDrop, DesyncReport)
	}
	if c.HCIDump.Adapter == "" {
		return errors.New("config: hcidump.adapter is required")
	}
	if c.HTTP.Auth.Enabled && len(c.HTTP.Auth.APIKeys) == 0 {
		return errors.New("config: http.auth.apiKeys is required when auth is enabled")
	}
	if c.Redis.Enabled && c.Redis.Channel == "" {
		return errors.New("config: redis.channel is required when redis is enabled")
	}
	if c.NATS.Enabled && c.NATS.Subject == "" {
		return errors.New("config: nats.subject is required when nats is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "hcidump-monitor")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.shutdownTimeout", "5s")

	v.SetDefault("hcidump.adapter", "hci0")
	v.SetDefault("hcidump.binary", "hcidump")
	v.SetDefault("hcidump.autostart", true)
	v.SetDefault("hcidump.extraArgs", []string{})
	v.SetDefault("hcidump.desyncPolicy", DesyncDrop)
	v.SetDefault("hcidump.logPackets", false)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")
	v.SetDefault("http.ws.pingInterval", "30s")
	v.SetDefault("http.ws.writeWait", "10s")
	v.SetDefault("http.ws.sendRate", 200)
	v.SetDefault("http.ws.sendBurst", 50)
	v.SetDefault("http.ws.queueSize", 256)
	v.SetDefault("http.auth.enabled", false)
	v.SetDefault("http.auth.apiKeys", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.filename", "logs/hcidump-monitor.log")
	v.SetDefault("logging.file.maxSize", 100)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolSize", 10)
	v.SetDefault("redis.channel", "hcidump:packets")
	v.SetDefault("redis.queueSize", 1024)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject", "hcidump")
	v.SetDefault("nats.queueSize", 1024)

	v.SetDefault("names.path", "")
}
