package types

import (
	"errors"
	"strings"
)

// 错误分类。用 errors.Is 判断类别，用 errors.As(*Error) 取出服务端 error 载荷。
var (
	// ErrInvalidArgument 调用方参数不满足前置条件（不会发送到交易所）
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrTransport 网络/TLS 失败或传输层异常
	ErrTransport = errors.New("transport error")
	// ErrConnect 流连接在任意握手阶段失败
	ErrConnect = errors.New("connect error")
	// ErrStream 流读写失败，会话已关闭
	ErrStream = errors.New("stream error")
	// ErrMalformedResponse 服务端载荷无法解码
	ErrMalformedResponse = errors.New("malformed response")
	// ErrAuthenticationFailed 认证被交易所拒绝
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrOrderRejected 下单被交易所拒绝
	ErrOrderRejected = errors.New("order rejected")
	// ErrOrderCancelFailed 撤单被交易所拒绝
	ErrOrderCancelFailed = errors.New("order cancel failed")
	// ErrRequestFailed 查询类请求收到 error 响应
	ErrRequestFailed = errors.New("request failed")
	// ErrNotAuthenticated 没有可用的访问令牌
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrInvalidState 会话当前状态不允许该操作
	ErrInvalidState = errors.New("invalid state")
)

// Error 对外暴露的错误：类别 + 操作名 + 可选的服务端载荷 + 底层错误
type Error struct {
	Kind error
	Op   string
	RPC  *RPCError
	Err  error
}

// NewError 构造错误
func NewError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NewRPCError 构造携带服务端 error 载荷的错误
func NewRPCError(kind error, op string, rpcErr *RPCError) *Error {
	return &Error{Kind: kind, Op: op, RPC: rpcErr}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("error")
	}
	if e.RPC != nil {
		b.WriteString(": ")
		if len(e.RPC.Raw) > 0 {
			b.Write(e.RPC.Raw)
		} else {
			b.WriteString(e.RPC.Error())
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap 同时暴露类别、服务端载荷和底层错误
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 3)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.RPC != nil {
		errs = append(errs, e.RPC)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// RPCErrorOf 取出错误链上的服务端 error 载荷
func RPCErrorOf(err error) (*RPCError, bool) {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}
