package client

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/betbot/deribit/deribit/rpc"
	"github.com/betbot/deribit/deribit/types"
	"github.com/betbot/deribit/internal/metrics"
)

const maxErrorBody = 512

// newRestyClient 创建 resty 客户端。不做自动重试：是否重试由调用方决定。
func newRestyClient(baseURL string, cfg *Config) *resty.Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		}
	} else {
		cp := *hc
		hc = &cp
	}
	if hc.Transport == nil {
		hc.Transport = http.DefaultTransport
	}
	if t, ok := hc.Transport.(*http.Transport); ok {
		t = t.Clone()
		// 默认每次调用一条新连接，调用结束即关闭
		t.DisableKeepAlives = !cfg.ReuseConnections
		hc.Transport = t
	}

	return resty.NewWithClient(hc).
		SetBaseURL(baseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", "betbot-deribit").
		SetHeader("Accept", "application/json")
}

// Send 发送一个 JSON-RPC 信封并等待完整响应。
// 存在令牌时私有方法自动带上 Authorization: Bearer <token>。
// 非 2xx 但响应体是合法 JSON-RPC 时按普通 error 响应返回（交易所用 HTTP 400 返回业务错误）。
func (c *Client) Send(ctx context.Context, path string, env types.Envelope) (*types.Response, error) {
	body, err := rpc.Encode(env)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidArgument, env.Method, err)
	}
	if err := c.limiter.Wait(ctx, env.Method); err != nil {
		return nil, types.NewError(types.ErrTransport, env.Method, errors.Wrap(err, "等待限流失败"))
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if !strings.HasPrefix(env.Method, "public/") {
		if tok, ok := c.session.CurrentToken(); ok {
			req.SetAuthToken(tok.Value)
		}
	}

	metrics.CommandsSent.Add(1)
	start := time.Now()
	resp, err := req.Post(path)
	if err != nil {
		metrics.CommandErrors.Add(1)
		return nil, types.NewError(types.ErrTransport, env.Method, errors.Wrap(err, "发送请求失败"))
	}
	c.logger.WithField("method", env.Method).
		WithField("id", env.ID).
		WithField("status", resp.StatusCode()).
		WithField("elapsed", time.Since(start)).
		Debug("请求完成")

	raw := resp.Body()
	decoded, decodeErr := rpc.Decode(raw)
	if !resp.IsSuccess() {
		if decodeErr != nil {
			metrics.CommandErrors.Add(1)
			return nil, types.NewError(types.ErrTransport, env.Method,
				errors.Errorf("HTTP %d: %s", resp.StatusCode(), truncate(raw, maxErrorBody)))
		}
	} else if decodeErr != nil {
		metrics.CommandErrors.Add(1)
		return nil, decodeErr
	}
	if err := rpc.Match(env, decoded); err != nil {
		metrics.CommandErrors.Add(1)
		return nil, err
	}
	if decoded.IsError() {
		metrics.CommandErrors.Add(1)
	}
	return decoded, nil
}

// call 用下一个 id 构造信封并发送到方法对应的路径
func (c *Client) call(ctx context.Context, method string, params map[string]any) (*types.Response, error) {
	env := rpc.NewEnvelope(c.ids.Next(), method, params)
	return c.Send(ctx, PathOf(method), env)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
