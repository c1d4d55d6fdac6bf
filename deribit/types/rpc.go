package types

import (
	"encoding/json"
	"fmt"
)

// JSONRPCVersion 协议版本（常量）
const JSONRPCVersion = "2.0"

// Envelope JSON-RPC 请求信封
type Envelope struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

// RPCError 交易所返回的 error 对象
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`

	// Raw 服务端返回的原始 error 对象，原样保留供调用方检查
	Raw json.RawMessage `json:"-"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (data=%s)", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Response JSON-RPC 响应：Result 与 Error 恰好只有一个存在
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	Testnet bool            `json:"testnet,omitempty"`
	UsIn    int64           `json:"usIn,omitempty"`
	UsOut   int64           `json:"usOut,omitempty"`
	UsDiff  int64           `json:"usDiff,omitempty"`
}

// IsError 是否为 error 响应
func (r *Response) IsError() bool {
	return r != nil && r.Error != nil
}

// UnmarshalResult 把 result 解析到 out
func (r *Response) UnmarshalResult(out any) error {
	if r == nil || r.Result == nil {
		return fmt.Errorf("response has no result")
	}
	return json.Unmarshal(r.Result, out)
}
