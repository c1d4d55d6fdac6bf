package rpc

import "sync/atomic"

// IDGenerator 单调递增的请求 id 生成器，由会话持有，并发安全。
// 响应按 id 匹配而不是按调用顺序匹配。
type IDGenerator struct {
	next atomic.Int64
}

// NewIDGenerator 创建从 start 开始的生成器
func NewIDGenerator(start int64) *IDGenerator {
	g := &IDGenerator{}
	g.next.Store(start)
	return g
}

// Next 返回下一个 id
func (g *IDGenerator) Next() int64 {
	return g.next.Add(1) - 1
}
