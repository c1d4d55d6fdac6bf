package ratelimit

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Category Deribit 的请求限速分类：撮合引擎请求与非撮合请求分别计数
type Category string

const (
	CategoryMatching    Category = "matching"
	CategoryNonMatching Category = "non_matching"
)

// matchingMethods 走撮合引擎的方法（前缀匹配）
var matchingMethods = []string{
	"private/buy",
	"private/sell",
	"private/edit",
	"private/cancel",
	"private/close_position",
}

// CategoryOf 根据 JSON-RPC 方法名判断分类
func CategoryOf(method string) Category {
	for _, m := range matchingMethods {
		if strings.HasPrefix(method, m) {
			return CategoryMatching
		}
	}
	return CategoryNonMatching
}

// Config 速率限制配置（每秒请求数 + 突发容量）
type Config struct {
	MatchingRPS      float64 `yaml:"matching_rps" json:"matching_rps"`
	MatchingBurst    int     `yaml:"matching_burst" json:"matching_burst"`
	NonMatchingRPS   float64 `yaml:"non_matching_rps" json:"non_matching_rps"`
	NonMatchingBurst int     `yaml:"non_matching_burst" json:"non_matching_burst"`
}

// DefaultConfig 测试网账户的默认额度
func DefaultConfig() Config {
	return Config{
		MatchingRPS:      5,
		MatchingBurst:    20,
		NonMatchingRPS:   20,
		NonMatchingBurst: 100,
	}
}

// RateLimiter 速率限制器接口
type RateLimiter interface {
	Wait(ctx context.Context) error
	Allow() bool
}

// RateLimitManager 按分类管理限速器
type RateLimitManager struct {
	limiters map[Category]RateLimiter
	mu       sync.RWMutex
}

// NewRateLimitManager 创建新的速率限制管理器；字段为 0 时使用默认值
func NewRateLimitManager(cfg Config) *RateLimitManager {
	def := DefaultConfig()
	if cfg.MatchingRPS <= 0 {
		cfg.MatchingRPS = def.MatchingRPS
	}
	if cfg.MatchingBurst <= 0 {
		cfg.MatchingBurst = def.MatchingBurst
	}
	if cfg.NonMatchingRPS <= 0 {
		cfg.NonMatchingRPS = def.NonMatchingRPS
	}
	if cfg.NonMatchingBurst <= 0 {
		cfg.NonMatchingBurst = def.NonMatchingBurst
	}

	return &RateLimitManager{
		limiters: map[Category]RateLimiter{
			CategoryMatching:    rate.NewLimiter(rate.Limit(cfg.MatchingRPS), cfg.MatchingBurst),
			CategoryNonMatching: rate.NewLimiter(rate.Limit(cfg.NonMatchingRPS), cfg.NonMatchingBurst),
		},
	}
}

// SetLimiter 替换某个分类的限速器
func (rlm *RateLimitManager) SetLimiter(c Category, l RateLimiter) {
	rlm.mu.Lock()
	defer rlm.mu.Unlock()
	rlm.limiters[c] = l
}

// GetLimiter 获取方法对应的限速器
func (rlm *RateLimitManager) GetLimiter(method string) RateLimiter {
	rlm.mu.RLock()
	defer rlm.mu.RUnlock()
	return rlm.limiters[CategoryOf(method)]
}

// Wait 等待直到允许请求（只等待，不重试）
func (rlm *RateLimitManager) Wait(ctx context.Context, method string) error {
	if rlm == nil {
		return nil
	}
	limiter := rlm.GetLimiter(method)
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

// Allow 检查是否允许请求
func (rlm *RateLimitManager) Allow(method string) bool {
	if rlm == nil {
		return true
	}
	limiter := rlm.GetLimiter(method)
	if limiter == nil {
		return true
	}
	return limiter.Allow()
}
