package stream

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultPath Deribit WebSocket 接口路径
	DefaultPath = "/ws/api/v2"
	// DefaultPort 默认 TLS 端口
	DefaultPort = "443"
	// DefaultOrderbookInterval 订单簿推送间隔
	DefaultOrderbookInterval = "100ms"

	// SubscribeIDStart 流会话第一个订阅请求的 id
	SubscribeIDStart = 9000

	MethodSubscribe = "public/subscribe"
)

// Config 流会话配置
type Config struct {
	Path              string
	OrderbookInterval string
	DialTimeout       time.Duration // 解析 + TCP 连接
	HandshakeTimeout  time.Duration // TLS 握手、WebSocket 升级各自的超时
	WriteTimeout      time.Duration
	ReadLimit         int64 // 单帧最大字节数，0 表示不限制

	TLSConfig *tls.Config   // 为空时使用系统根证书
	Resolver  *net.Resolver // 为空时使用 net.DefaultResolver
	Logger    logrus.FieldLogger
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Path:              DefaultPath,
		OrderbookInterval: DefaultOrderbookInterval,
		DialTimeout:       10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

func (c *Config) withDefaults() Config {
	def := DefaultConfig()
	if c == nil {
		c = def
	}
	out := *c
	if out.Path == "" {
		out.Path = def.Path
	}
	if out.OrderbookInterval == "" {
		out.OrderbookInterval = def.OrderbookInterval
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = def.DialTimeout
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = def.HandshakeTimeout
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = def.WriteTimeout
	}
	if out.Resolver == nil {
		out.Resolver = net.DefaultResolver
	}
	if out.Logger == nil {
		out.Logger = logrus.WithField("component", "deribit-stream")
	}
	return out
}
