package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/betbot/deribit/deribit/types"
	"github.com/betbot/deribit/pkg/ratelimit"
)

// ExchangeConfig 交易所连接配置
type ExchangeConfig struct {
	Host             string `yaml:"host" json:"host"`
	Scheme           string `yaml:"scheme" json:"scheme"`
	WSPort           string `yaml:"ws_port" json:"ws_port"`
	TimeoutSeconds   int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	ReuseConnections bool   `yaml:"reuse_connections" json:"reuse_connections"`
}

// CredentialsConfig 凭证（建议通过环境变量或加密存储提供，不写入配置文件）
type CredentialsConfig struct {
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"client_secret"`
}

// SecretStoreConfig 加密凭证存储（badger）
type SecretStoreConfig struct {
	Path string `yaml:"path" json:"path"`
	Key  string `yaml:"key" json:"key"` // 32 字节 hex/base64
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	JSON       bool   `yaml:"json" json:"json"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
}

// StreamConfig 行情订阅配置
type StreamConfig struct {
	Instruments  []string `yaml:"instruments" json:"instruments"`
	Interval     string   `yaml:"interval" json:"interval"` // raw / 100ms / agg2
	MinBackoffMs int      `yaml:"min_backoff_ms" json:"min_backoff_ms"`
	MaxBackoffMs int      `yaml:"max_backoff_ms" json:"max_backoff_ms"`
	MaxAttempts  int      `yaml:"max_attempts" json:"max_attempts"` // 0 = 不限
}

// DemoOrderConfig 启动时可选的演示订单
type DemoOrderConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Instrument string `yaml:"instrument" json:"instrument"`
	Direction  string `yaml:"direction" json:"direction"`
	Quantity   string `yaml:"quantity" json:"quantity"`
	Price      string `yaml:"price" json:"price"`
	Kind       string `yaml:"kind" json:"kind"`
	Cancel     bool   `yaml:"cancel" json:"cancel"` // 下单成功后立即撤单
}

// StartupConfig 启动流程配置
type StartupConfig struct {
	Currency  string          `yaml:"currency" json:"currency"`
	Kind      string          `yaml:"kind" json:"kind"`
	DemoOrder DemoOrderConfig `yaml:"demo_order" json:"demo_order"`
}

// Config 应用配置（同时也是 YAML/JSON 配置文件的结构）
type Config struct {
	Exchange      ExchangeConfig    `yaml:"exchange" json:"exchange"`
	Credentials   CredentialsConfig `yaml:"credentials" json:"credentials"`
	SecretStore   SecretStoreConfig `yaml:"secret_store" json:"secret_store"`
	Log           LogConfig         `yaml:"log" json:"log"`
	Stream        StreamConfig      `yaml:"stream" json:"stream"`
	RateLimit     *ratelimit.Config `yaml:"rate_limit" json:"rate_limit"` // 为空则不限流
	Startup       StartupConfig     `yaml:"startup" json:"startup"`
	MetricsListen string            `yaml:"metrics_listen" json:"metrics_listen"`
	DryRun        bool              `yaml:"dry_run" json:"dry_run"` // 为 true 时不真实下单，只打印订单
}

var globalConfig *Config
var configFilePath string

// SetConfigPath 设置配置文件路径
func SetConfigPath(path string) {
	configFilePath = path
}

// GetConfigPath 获取配置文件路径
func GetConfigPath() string {
	return configFilePath
}

// Default 默认配置（测试网）
func Default() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			Host:           "test.deribit.com",
			Scheme:         "https",
			WSPort:         "443",
			TimeoutSeconds: 15,
		},
		Log: LogConfig{
			Level:      "info",
			File:       "logs/deribit.log",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
		Stream: StreamConfig{
			Instruments:  []string{"BTC-PERPETUAL"},
			Interval:     "100ms",
			MinBackoffMs: 500,
			MaxBackoffMs: 30000,
		},
		Startup: StartupConfig{
			Currency: "BTC",
			Kind:     "future",
		},
	}
}

// Load 加载配置
func Load() (*Config, error) {
	return LoadFromFile(configFilePath)
}

// LoadFromFile 按优先级合并配置：环境变量 > 配置文件 > 默认值。
// 当前目录下的 .env 会被尽力加载（不覆盖已有环境变量）。
func LoadFromFile(filePath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if filePath != "" {
		if err := loadConfigFile(filePath, cfg); err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	globalConfig = cfg
	configFilePath = filePath
	return cfg, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON），覆盖到 cfg 上
func loadConfigFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}
	return nil
}

// applyEnv 环境变量覆盖
func applyEnv(cfg *Config) {
	cfg.Credentials.ClientID = getEnv("DERIBIT_CLIENT_ID", cfg.Credentials.ClientID)
	cfg.Credentials.ClientSecret = getEnv("DERIBIT_CLIENT_SECRET", cfg.Credentials.ClientSecret)
	cfg.Exchange.Host = getEnv("DERIBIT_HOST", cfg.Exchange.Host)
	cfg.Exchange.WSPort = getEnv("DERIBIT_WS_PORT", cfg.Exchange.WSPort)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	cfg.SecretStore.Path = getEnv("DERIBIT_SECRET_DB", cfg.SecretStore.Path)
	cfg.SecretStore.Key = getEnv("DERIBIT_SECRET_KEY", cfg.SecretStore.Key)
	cfg.MetricsListen = getEnv("METRICS_LISTEN", cfg.MetricsListen)
	cfg.DryRun = parseBoolEnv("DRY_RUN", cfg.DryRun)
	if v := getEnv("DERIBIT_INSTRUMENTS", ""); v != "" {
		cfg.Stream.Instruments = parseList(v)
	}
}

// Get 获取全局配置（如果已加载）
func Get() *Config {
	return globalConfig
}

// Validate 验证配置
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Exchange.Host) == "" {
		return fmt.Errorf("DERIBIT_HOST 未配置")
	}
	if strings.Contains(c.Exchange.Host, "/") {
		return fmt.Errorf("DERIBIT_HOST 只能是主机名: %s", c.Exchange.Host)
	}
	if c.Exchange.Scheme != "https" && c.Exchange.Scheme != "http" {
		return fmt.Errorf("exchange.scheme 只支持 https/http: %s", c.Exchange.Scheme)
	}
	if p, err := strconv.Atoi(c.Exchange.WSPort); err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("DERIBIT_WS_PORT 无效: %s", c.Exchange.WSPort)
	}
	if c.Exchange.TimeoutSeconds <= 0 {
		return fmt.Errorf("exchange.timeout_seconds 必须大于 0")
	}

	switch c.Stream.Interval {
	case "raw", "100ms", "agg2":
	default:
		return fmt.Errorf("stream.interval 只支持 raw/100ms/agg2: %s", c.Stream.Interval)
	}
	for _, inst := range c.Stream.Instruments {
		if strings.TrimSpace(inst) == "" {
			return fmt.Errorf("stream.instruments 不能包含空值")
		}
	}
	if c.Stream.MinBackoffMs <= 0 || c.Stream.MaxBackoffMs < c.Stream.MinBackoffMs {
		return fmt.Errorf("stream 退避配置无效: min=%dms max=%dms", c.Stream.MinBackoffMs, c.Stream.MaxBackoffMs)
	}
	if c.Stream.MaxAttempts < 0 {
		return fmt.Errorf("stream.max_attempts 不能为负数")
	}

	if c.RateLimit != nil {
		if c.RateLimit.MatchingRPS < 0 || c.RateLimit.NonMatchingRPS < 0 {
			return fmt.Errorf("rate_limit 速率不能为负数")
		}
	}

	if c.Startup.DemoOrder.Enabled {
		if _, err := c.Startup.DemoOrder.Order(); err != nil {
			return fmt.Errorf("startup.demo_order 无效: %w", err)
		}
	}
	return nil
}

// ClientCredentials 转换为交易凭证
func (c *Config) ClientCredentials() types.Credentials {
	return types.Credentials{
		ClientID:     c.Credentials.ClientID,
		ClientSecret: c.Credentials.ClientSecret,
	}
}

// Timeout 命令请求超时
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Exchange.TimeoutSeconds) * time.Second
}

// Order 把演示订单配置转换为下单请求（含本地校验）
func (d DemoOrderConfig) Order() (types.Order, error) {
	qty, err := decimal.NewFromString(d.Quantity)
	if err != nil {
		return types.Order{}, fmt.Errorf("quantity 无法解析: %w", err)
	}
	price := decimal.Zero
	if d.Price != "" {
		price, err = decimal.NewFromString(d.Price)
		if err != nil {
			return types.Order{}, fmt.Errorf("price 无法解析: %w", err)
		}
	}
	order := types.Order{
		Instrument: d.Instrument,
		Direction:  types.Direction(strings.ToLower(d.Direction)),
		Quantity:   qty,
		Price:      price,
		Kind:       types.OrderKind(d.Kind),
	}
	if err := order.Validate(); err != nil {
		return types.Order{}, err
	}
	return order, nil
}

// parseList 解析逗号分隔的列表
func parseList(str string) []string {
	parts := strings.Split(str, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
