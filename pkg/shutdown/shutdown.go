package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/betbot/deribit/pkg/logger"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

type namedHandler struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器
type Manager struct {
	callbacks []namedHandler
	mu        sync.Mutex
	once      sync.Once
	err       error
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, namedHandler{name: name, fn: handler})
}

// Shutdown 并发执行所有关闭回调并等待完成（只执行一次）。
// ctx 应带超时；超时返回 ctx.Err()，否则返回各回调错误的合并。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.once.Do(func() {
		m.err = m.run(ctx)
	})
	return m.err
}

func (m *Manager) run(ctx context.Context) error {
	m.mu.Lock()
	callbacks := append([]namedHandler(nil), m.callbacks...)
	m.mu.Unlock()

	if len(callbacks) == 0 {
		logger.Info("没有注册的关闭回调")
		return nil
	}

	logger.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))

	var (
		wg   sync.WaitGroup
		emu  sync.Mutex
		errs []error
	)
	wg.Add(len(callbacks))
	for _, cb := range callbacks {
		go func(h namedHandler) {
			defer wg.Done()
			if err := h.fn(ctx); err != nil {
				emu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
				emu.Unlock()
			}
		}(cb)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		emu.Lock()
		defer emu.Unlock()
		if len(errs) > 0 {
			logger.Warnf("关闭回调出错: %v", errors.Join(errs...))
			return errors.Join(errs...)
		}
		logger.Info("所有关闭回调已完成")
		return nil
	case <-ctx.Done():
		logger.Warnf("关闭超时: %v", ctx.Err())
		return ctx.Err()
	}
}
