package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/betbot/deribit/deribit/rpc"
	"github.com/betbot/deribit/deribit/types"
	"github.com/betbot/deribit/internal/metrics"
)

// sender 命令通道（由 Client 实现）
type sender interface {
	Send(ctx context.Context, path string, env types.Envelope) (*types.Response, error)
}

// Session 认证会话：持有凭证和当前访问令牌。
// 同一时刻最多只有一次认证请求在途，并发调用方共享结果。
type Session struct {
	creds  types.Credentials
	tr     sender
	ids    *rpc.IDGenerator
	now    func() time.Time
	margin time.Duration
	logger logrus.FieldLogger

	mu     sync.RWMutex
	token  types.AccessToken
	flight singleflight.Group
}

func newSession(creds types.Credentials, tr sender, ids *rpc.IDGenerator, now func() time.Time, margin time.Duration, logger logrus.FieldLogger) *Session {
	return &Session{
		creds:  creds,
		tr:     tr,
		ids:    ids,
		now:    now,
		margin: margin,
		logger: logger,
	}
}

// authResult public/auth 的 result
type authResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

// Authenticate 发送 public/auth（grant_type=client_credentials）。
// 成功后保存 access_token；交易所返回 error 时返回 ErrAuthenticationFailed，已有令牌保持不变。
func (s *Session) Authenticate(ctx context.Context) error {
	if err := s.creds.Validate(); err != nil {
		return err
	}
	return s.do(ctx, func(fctx context.Context) error {
		return s.authenticate(fctx)
	})
}

// CurrentToken 当前访问令牌
func (s *Session) CurrentToken() (types.AccessToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token.Value == "" {
		return types.AccessToken{}, false
	}
	return s.token, true
}

// TokenState 当前令牌状态（none / valid / expired）
func (s *Session) TokenState() types.TokenState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token.StateAt(s.now(), s.margin)
}

// do 在单飞保护下执行认证。在途请求不受单个调用方取消的影响。
func (s *Session) do(ctx context.Context, fn func(context.Context) error) error {
	ch := s.flight.DoChan("auth", func() (any, error) {
		return nil, fn(context.WithoutCancel(ctx))
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) authenticate(ctx context.Context) error {
	metrics.AuthFlights.Add(1)
	env := rpc.NewEnvelope(s.ids.Next(), MethodAuth, map[string]any{
		"grant_type":    "client_credentials",
		"client_id":     s.creds.ClientID,
		"client_secret": s.creds.ClientSecret,
	})
	resp, err := s.tr.Send(ctx, PathOf(MethodAuth), env)
	if err != nil {
		return err
	}
	if resp.IsError() {
		s.logger.WithField("code", resp.Error.Code).Warn("认证被拒绝")
		return types.NewRPCError(types.ErrAuthenticationFailed, "authenticate", resp.Error)
	}

	var res authResult
	if err := resp.UnmarshalResult(&res); err != nil {
		return types.NewError(types.ErrMalformedResponse, "authenticate", err)
	}
	if res.AccessToken == "" {
		return types.NewError(types.ErrMalformedResponse, "authenticate", fmt.Errorf("result 缺少 access_token"))
	}

	tok := types.AccessToken{
		Value:        res.AccessToken,
		RefreshToken: res.RefreshToken,
		Scope:        res.Scope,
		ExpiresIn:    time.Duration(res.ExpiresIn) * time.Second,
		ObtainedAt:   s.now(),
	}
	s.mu.Lock()
	s.token = tok
	s.mu.Unlock()

	s.logger.WithField("scope", tok.Scope).WithField("expires_in", tok.ExpiresIn).Info("认证成功")
	return nil
}

// ensureToken 令牌缺失或过期时先认证
func (s *Session) ensureToken(ctx context.Context) error {
	if s.TokenState() == types.TokenValid {
		return nil
	}
	return s.Authenticate(ctx)
}

// refresh 服务端判定令牌失效后重新认证；stale 已被其他调用方替换时直接复用新令牌
func (s *Session) refresh(ctx context.Context, stale string) error {
	if err := s.creds.Validate(); err != nil {
		return err
	}
	return s.do(ctx, func(fctx context.Context) error {
		if cur, ok := s.CurrentToken(); ok && cur.Value != stale && s.TokenState() == types.TokenValid {
			return nil
		}
		return s.authenticate(fctx)
	})
}

// callPrivate 调用私有方法：必要时先认证；收到 13009 时重新认证并重放一次
func (c *Client) callPrivate(ctx context.Context, method string, params map[string]any) (*types.Response, error) {
	if err := c.session.ensureToken(ctx); err != nil {
		return nil, err
	}
	used, _ := c.session.CurrentToken()
	resp, err := c.call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	if !resp.IsError() || resp.Error.Code != CodeUnauthorized {
		return resp, nil
	}

	c.logger.WithField("method", method).Info("令牌已失效，重新认证后重放请求")
	if err := c.session.refresh(ctx, used.Value); err != nil {
		return nil, err
	}
	return c.call(ctx, method, params)
}
