// Package client 是 Deribit 的命令通道：认证、下单、撤单和查询，均为同步调用。
package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/betbot/deribit/deribit/rpc"
	"github.com/betbot/deribit/deribit/types"
	"github.com/betbot/deribit/pkg/ratelimit"
)

// Config 命令客户端配置
type Config struct {
	Host    string        // 交易所主机名，默认 test.deribit.com
	Scheme  string        // https（测试时可用 http）
	Timeout time.Duration // 单次请求超时

	// ReuseConnections 为 false 时每次调用都建立新的 TLS 连接
	ReuseConnections bool

	// RateLimit 为 nil 时不做客户端限流
	RateLimit *ratelimit.Config

	// TokenMargin 令牌到期前提前视为过期的余量
	TokenMargin time.Duration

	Logger     logrus.FieldLogger
	Clock      func() time.Time
	HTTPClient *http.Client // 自定义底层 HTTP 客户端（测试用）
}

// DefaultConfig 返回测试网默认配置
func DefaultConfig() *Config {
	return &Config{
		Host:        "test.deribit.com",
		Scheme:      "https",
		Timeout:     15 * time.Second,
		TokenMargin: 30 * time.Second,
	}
}

// Client Deribit 命令客户端
type Client struct {
	host    string
	baseURL string
	http    *resty.Client
	ids     *rpc.IDGenerator
	limiter *ratelimit.RateLimitManager
	session *Session
	logger  logrus.FieldLogger
}

// New 创建命令客户端。凭证在首次认证时校验，公共接口不需要凭证。
func New(creds types.Credentials, cfg *Config) (*Client, error) {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	c := *cfg
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.Scheme == "" {
		c.Scheme = def.Scheme
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.TokenMargin < 0 {
		c.TokenMargin = 0
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = logrus.WithField("component", "deribit-client")
	}

	host := strings.TrimSuffix(strings.TrimSpace(c.Host), "/")
	if strings.Contains(host, "://") || strings.Contains(host, "/") {
		return nil, types.NewError(types.ErrInvalidArgument, "new_client", fmt.Errorf("host 只能是主机名[:端口]: %q", c.Host))
	}
	if c.Scheme != "https" && c.Scheme != "http" {
		return nil, types.NewError(types.ErrInvalidArgument, "new_client", fmt.Errorf("不支持的 scheme: %q", c.Scheme))
	}

	baseURL := c.Scheme + "://" + host
	cl := &Client{
		host:    host,
		baseURL: baseURL,
		http:    newRestyClient(baseURL, &c),
		ids:     rpc.NewIDGenerator(1),
		logger:  c.Logger,
	}
	if c.RateLimit != nil {
		cl.limiter = ratelimit.NewRateLimitManager(*c.RateLimit)
	}
	cl.session = newSession(creds, cl, cl.ids, c.Clock, c.TokenMargin, c.Logger)
	return cl, nil
}

// Host 获取主机地址
func (c *Client) Host() string {
	return c.host
}

// BaseURL 获取完整的基础 URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Authenticate 用 client_credentials 换取访问令牌
func (c *Client) Authenticate(ctx context.Context) error {
	return c.session.Authenticate(ctx)
}

// CurrentToken 当前访问令牌；认证成功前返回 false
func (c *Client) CurrentToken() (types.AccessToken, bool) {
	return c.session.CurrentToken()
}

// TokenState 当前令牌状态
func (c *Client) TokenState() types.TokenState {
	return c.session.TokenState()
}

// Close 释放空闲连接
func (c *Client) Close() {
	c.http.GetClient().CloseIdleConnections()
}
