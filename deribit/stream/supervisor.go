package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"

	"github.com/betbot/deribit/deribit/types"
	"github.com/betbot/deribit/internal/metrics"
)

// FrameHandler 处理一帧原始文本，在读循环所在的 goroutine 中调用
type FrameHandler func(frame string)

// SupervisorConfig 断线重连配置
type SupervisorConfig struct {
	Session  *Config
	Channels []string

	MinBackoff time.Duration
	MaxBackoff time.Duration
	Factor     float64
	Jitter     bool

	// MaxAttempts 连续失败次数上限，0 表示不限
	MaxAttempts int

	Logger logrus.FieldLogger
}

// DefaultSupervisorConfig 返回默认配置
func DefaultSupervisorConfig() *SupervisorConfig {
	return &SupervisorConfig{
		Session:    DefaultConfig(),
		MinBackoff: 500 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
		Factor:     2,
		Jitter:     true,
	}
}

// Supervisor 维持一条订阅连接：断开后按退避间隔新建会话并重新订阅全部频道
type Supervisor struct {
	host   string
	port   string
	cfg    SupervisorConfig
	logger logrus.FieldLogger
}

// NewSupervisor 创建重连管理器
func NewSupervisor(host, port string, cfg *SupervisorConfig) *Supervisor {
	def := DefaultSupervisorConfig()
	if cfg == nil {
		cfg = def
	}
	c := *cfg
	c.Channels = append([]string(nil), cfg.Channels...)
	if c.MinBackoff <= 0 {
		c.MinBackoff = def.MinBackoff
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = def.MaxBackoff
		if c.MaxBackoff < c.MinBackoff {
			c.MaxBackoff = c.MinBackoff
		}
	}
	if c.Factor <= 1 {
		c.Factor = def.Factor
	}
	if c.Logger == nil {
		c.Logger = logrus.WithField("component", "deribit-supervisor")
	}
	if port == "" {
		port = DefaultPort
	}
	return &Supervisor{host: host, port: port, cfg: c, logger: c.Logger}
}

// Run 阻塞运行直到 ctx 结束（返回 ctx.Err()），或连续失败达到 MaxAttempts（返回最后一次错误）。
// 一个会话只要投递过帧，退避计数就会重置。
func (sv *Supervisor) Run(ctx context.Context, handler FrameHandler) error {
	b := &backoff.Backoff{
		Min:    sv.cfg.MinBackoff,
		Max:    sv.cfg.MaxBackoff,
		Factor: sv.cfg.Factor,
		Jitter: sv.cfg.Jitter,
	}
	failures := 0

	for {
		delivered, err := sv.runOnce(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delivered {
			b.Reset()
			failures = 0
		}
		failures++

		if err == nil {
			err = types.NewError(types.ErrStream, "supervisor", fmt.Errorf("连接被对端关闭"))
		}
		if sv.cfg.MaxAttempts > 0 && failures >= sv.cfg.MaxAttempts {
			sv.logger.WithError(err).WithField("attempts", failures).Error("重连次数已达上限")
			return err
		}

		wait := b.Duration()
		sv.logger.WithError(err).
			WithField("attempt", failures).
			WithField("backoff", wait).
			Warn("流连接断开，准备重连")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		metrics.StreamReconnects.Add(1)
	}
}

// runOnce 建立一个会话并持续读取，直到会话结束
func (sv *Supervisor) runOnce(ctx context.Context, handler FrameHandler) (bool, error) {
	s := NewSession(sv.cfg.Session)
	defer s.Close()

	if err := s.Connect(ctx, sv.host, sv.port); err != nil {
		return false, err
	}
	if len(sv.cfg.Channels) > 0 {
		if err := s.Subscribe(sv.cfg.Channels...); err != nil {
			return false, err
		}
	}

	delivered := false
	for frame, err := range s.Frames(ctx) {
		if err != nil {
			return delivered, err
		}
		delivered = true
		if handler != nil {
			handler(frame)
		}
	}
	return delivered, nil
}
