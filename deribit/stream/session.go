// Package stream 是 Deribit 的行情推送通道：显式分阶段建立 TCP、TLS、WebSocket，
// 订阅后逐帧读取原始文本，不做解析。
package stream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"iter"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/deribit/deribit/rpc"
	"github.com/betbot/deribit/deribit/types"
	"github.com/betbot/deribit/internal/metrics"
)

var errSessionClosed = errors.New("连接过程中会话被关闭")

// Session 单条 WebSocket 连接。连接失败或关闭后不可复用，需新建会话。
// 同一时刻只允许一个读者；写操作内部串行化。
type Session struct {
	cfg    Config
	ids    *rpc.IDGenerator
	logger logrus.FieldLogger

	mu       sync.Mutex
	state    State
	dialing  bool
	raw      net.Conn
	tlsConn  *tls.Conn
	conn     *websocket.Conn
	channels []string

	writeMu sync.Mutex
}

// NewSession 创建未连接的会话
func NewSession(cfg *Config) *Session {
	c := cfg.withDefaults()
	return &Session{
		cfg:    c,
		ids:    rpc.NewIDGenerator(SubscribeIDStart),
		logger: c.Logger,
		state:  StateUnconnected,
	}
}

// State 当前状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Channels 已订阅的频道
func (s *Session) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.channels...)
}

// Connect 依次完成：解析主机、TCP 连接、TLS 握手（SNI 为 host）、WebSocket 升级。
// 任一阶段失败都返回 ErrConnect，已建立的层全部关闭，会话进入 Closed。
func (s *Session) Connect(ctx context.Context, host, port string) error {
	s.mu.Lock()
	if s.state != StateUnconnected || s.dialing {
		st := s.state
		s.mu.Unlock()
		return types.NewError(types.ErrInvalidState, "connect", fmt.Errorf("会话状态为 %s，不能再次连接", st))
	}
	s.dialing = true
	s.mu.Unlock()

	if port == "" {
		port = DefaultPort
	}
	log := s.logger.WithField("host", host).WithField("port", port)

	raw, err := s.dialTCP(ctx, host, port)
	if err != nil {
		return s.connectFailed("TCP 连接", err)
	}
	if !s.advance(StateTCPConnected, func() { s.raw = raw }) {
		return s.connectFailed("TCP 连接", errSessionClosed)
	}
	log.Debug("TCP 已连接")

	tlsConn, err := s.handshakeTLS(ctx, raw, host)
	if err != nil {
		return s.connectFailed("TLS 握手", err)
	}
	if !s.advance(StateTLSEstablished, func() { s.tlsConn = tlsConn }) {
		return s.connectFailed("TLS 握手", errSessionClosed)
	}
	log.Debug("TLS 已建立")

	conn, err := s.upgrade(ctx, tlsConn, host, port)
	if err != nil {
		return s.connectFailed("WebSocket 握手", err)
	}
	if s.cfg.ReadLimit > 0 {
		conn.SetReadLimit(s.cfg.ReadLimit)
	}
	if !s.advance(StateHandshakeComplete, func() { s.conn = conn }) {
		return s.connectFailed("WebSocket 握手", errSessionClosed)
	}

	metrics.StreamConnects.Add(1)
	log.WithField("path", s.cfg.Path).Info("WebSocket 已连接")
	return nil
}

func (s *Session) dialTCP(ctx context.Context, host, port string) (net.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()

	addrs, err := s.cfg.Resolver.LookupHost(dctx, host)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "解析 %s 失败", host)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%s 没有可用地址", host)
	}

	dialer := &net.Dialer{Resolver: s.cfg.Resolver}
	var lastErr error
	for _, addr := range addrs {
		conn, err := dialer.DialContext(dctx, "tcp", net.JoinHostPort(addr, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *Session) handshakeTLS(ctx context.Context, raw net.Conn, host string) (*tls.Conn, error) {
	var cfg *tls.Config
	if s.cfg.TLSConfig != nil {
		cfg = s.cfg.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}

	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	conn := tls.Client(raw, cfg)
	if err := conn.HandshakeContext(hctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// upgrade 在已建立的 TLS 连接上完成 WebSocket 升级，gorilla 不再重复握手
func (s *Session) upgrade(ctx context.Context, tlsConn *tls.Conn, host, port string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		NetDialTLSContext: func(context.Context, string, string) (net.Conn, error) {
			return tlsConn, nil
		},
		HandshakeTimeout: s.cfg.HandshakeTimeout,
	}
	u := url.URL{Scheme: "wss", Host: net.JoinHostPort(host, port), Path: s.cfg.Path}

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, pkgerrors.Wrapf(err, "HTTP %d", resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}

// advance 记录新建立的层并推进状态；连接过程中会话被关闭时返回 false
func (s *Session) advance(next State, set func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set()
	if s.state == StateClosed {
		return false
	}
	s.state = next
	return true
}

func (s *Session) connectFailed(stage string, err error) error {
	s.teardown(false)
	metrics.StreamErrors.Add(1)
	s.logger.WithError(err).WithField("stage", stage).Warn("流连接失败")
	return types.NewError(types.ErrConnect, "connect", pkgerrors.Wrapf(err, "%s失败", stage))
}

// SubscribeOrderbook 订阅 orderbook.<instrument>.<interval>
func (s *Session) SubscribeOrderbook(instrument string) error {
	if instrument == "" {
		return types.NewError(types.ErrInvalidArgument, "subscribe", fmt.Errorf("instrument 不能为空"))
	}
	return s.Subscribe(types.OrderbookChannel(instrument, s.cfg.OrderbookInterval))
}

// Subscribe 发送 public/subscribe，不等待确认（确认帧会出现在 Read 结果中）
func (s *Session) Subscribe(channels ...string) error {
	if len(channels) == 0 {
		return types.NewError(types.ErrInvalidArgument, "subscribe", fmt.Errorf("channels 不能为空"))
	}

	s.mu.Lock()
	st, conn := s.state, s.conn
	s.mu.Unlock()
	if !st.Open() {
		return types.NewError(types.ErrInvalidState, "subscribe", fmt.Errorf("会话状态为 %s", st))
	}

	env := rpc.NewEnvelope(s.ids.Next(), MethodSubscribe, map[string]any{"channels": channels})
	payload, err := rpc.Encode(env)
	if err != nil {
		return types.NewError(types.ErrInvalidArgument, "subscribe", err)
	}

	s.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	err = conn.WriteMessage(websocket.TextMessage, payload)
	s.writeMu.Unlock()
	if err != nil {
		metrics.StreamErrors.Add(1)
		s.teardown(false)
		return types.NewError(types.ErrStream, "subscribe", err)
	}

	s.mu.Lock()
	if s.state != StateClosed {
		s.state = StateSubscribed
	}
	s.channels = append(s.channels, channels...)
	s.mu.Unlock()

	s.logger.WithField("id", env.ID).WithField("channels", channels).Info("已发送订阅请求")
	return nil
}

// Read 阻塞读取一帧完整的文本。对端正常关闭时返回 ("", nil)，会话进入 Closed。
func (s *Session) Read() (string, error) {
	return s.ReadContext(context.Background())
}

// ReadContext 同 Read；ctx 取消时关闭底层连接以解除阻塞，并返回 ctx.Err()
func (s *Session) ReadContext(ctx context.Context) (string, error) {
	frame, _, err := s.read(ctx)
	return frame, err
}

// read 返回帧内容；ok 为 false 表示对端已正常关闭
func (s *Session) read(ctx context.Context) (string, bool, error) {
	s.mu.Lock()
	st, conn := s.state, s.conn
	s.mu.Unlock()
	switch {
	case st == StateClosed:
		return "", false, types.NewError(types.ErrStream, "read", types.ErrInvalidState)
	case !st.Open():
		return "", false, types.NewError(types.ErrInvalidState, "read", fmt.Errorf("会话状态为 %s", st))
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	stop := context.AfterFunc(ctx, func() { s.teardown(false) })
	defer stop()

	_, data, err := conn.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", false, ctxErr
		}
		// 1006 是本地合成的异常断开，不是对端发来的关闭帧
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
			s.logger.WithField("code", closeErr.Code).WithField("reason", closeErr.Text).Info("对端关闭连接")
			s.teardown(false)
			return "", false, nil
		}
		metrics.StreamErrors.Add(1)
		s.teardown(false)
		return "", false, types.NewError(types.ErrStream, "read", err)
	}

	metrics.StreamFrames.Add(1)
	return string(data), true, nil
}

// Frames 逐帧迭代，遇到正常关闭、错误或 ctx 取消时结束。错误作为最后一个元素产出。
func (s *Session) Frames(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			frame, ok, err := s.read(ctx)
			if err != nil {
				yield("", err)
				return
			}
			if !ok {
				return
			}
			if !yield(frame, nil) {
				return
			}
		}
	}
}

// Close 发送正常关闭帧（尽力而为）并释放连接，可重复调用
func (s *Session) Close() error {
	s.teardown(true)
	return nil
}

// teardown 关闭所有已建立的层并进入 Closed
func (s *Session) teardown(graceful bool) {
	s.mu.Lock()
	if s.state == StateClosed && s.raw == nil && s.tlsConn == nil && s.conn == nil {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	raw, tlsConn, conn := s.raw, s.tlsConn, s.conn
	s.raw, s.tlsConn, s.conn = nil, nil, nil
	s.mu.Unlock()

	if conn != nil {
		if graceful {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}
		_ = conn.Close()
		return
	}
	if tlsConn != nil {
		_ = tlsConn.Close()
		return
	}
	if raw != nil {
		_ = raw.Close()
	}
}
