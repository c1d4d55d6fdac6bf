// Package rpc 是 JSON-RPC 2.0 信封的编解码器：纯函数，不做 I/O。
package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/betbot/deribit/deribit/types"
)

// NewEnvelope 构造请求信封
func NewEnvelope(id int64, method string, params map[string]any) types.Envelope {
	if params == nil {
		params = map[string]any{}
	}
	return types.Envelope{
		JSONRPC: types.JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// Encode 把信封序列化为 JSON。map 键按字典序输出，结果确定。
// 不校验 method/params 语义；只有参数值无法序列化时才返回错误。
func Encode(env types.Envelope) ([]byte, error) {
	env.JSONRPC = types.JSONRPCVersion
	if env.Params == nil {
		env.Params = map[string]any{}
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("序列化请求信封失败: %w", err)
	}
	return b, nil
}

// Decode 解析响应。非 JSON 对象、result/error 都不存在或同时存在、error 不是对象时
// 返回 ErrMalformedResponse。result 与 error 的原始字节原样保留。
func Decode(data []byte) (*types.Response, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, malformed(fmt.Errorf("响应不是 JSON 对象: %w", err))
	}
	if fields == nil {
		return nil, malformed(fmt.Errorf("响应为 null"))
	}

	result, hasResult := fields["result"]
	errRaw, hasError := fields["error"]
	switch {
	case !hasResult && !hasError:
		return nil, malformed(fmt.Errorf("响应既没有 result 也没有 error"))
	case hasResult && hasError:
		return nil, malformed(fmt.Errorf("响应同时包含 result 和 error"))
	}

	resp := &types.Response{}
	if v, ok := fields["jsonrpc"]; ok {
		if err := json.Unmarshal(v, &resp.JSONRPC); err != nil {
			return nil, malformed(fmt.Errorf("jsonrpc 字段无法解析: %w", err))
		}
	}
	if v, ok := fields["id"]; ok && !isNull(v) {
		var id int64
		if err := json.Unmarshal(v, &id); err != nil {
			return nil, malformed(fmt.Errorf("响应 id 无法解析: %w", err))
		}
		resp.ID = &id
	}
	if v, ok := fields["testnet"]; ok {
		if err := json.Unmarshal(v, &resp.Testnet); err != nil {
			return nil, malformed(fmt.Errorf("testnet 字段无法解析: %w", err))
		}
	}
	for key, dst := range map[string]*int64{"usIn": &resp.UsIn, "usOut": &resp.UsOut, "usDiff": &resp.UsDiff} {
		if v, ok := fields[key]; ok {
			if err := json.Unmarshal(v, dst); err != nil {
				return nil, malformed(fmt.Errorf("%s 字段无法解析: %w", key, err))
			}
		}
	}

	if hasResult {
		resp.Result = result
		return resp, nil
	}

	if !bytes.HasPrefix(bytes.TrimSpace(errRaw), []byte("{")) {
		return nil, malformed(fmt.Errorf("error 字段不是对象: %s", string(errRaw)))
	}
	rpcErr := &types.RPCError{}
	if err := json.Unmarshal(errRaw, rpcErr); err != nil {
		return nil, malformed(fmt.Errorf("error 对象无法解析: %w", err))
	}
	rpcErr.Raw = errRaw
	resp.Error = rpcErr
	return resp, nil
}

// Match 校验响应 id 与请求 id 一致；服务端未回传 id 时不做校验
func Match(env types.Envelope, resp *types.Response) error {
	if resp == nil || resp.ID == nil {
		return nil
	}
	if *resp.ID != env.ID {
		return malformed(fmt.Errorf("响应 id %d 与请求 id %d 不匹配", *resp.ID, env.ID))
	}
	return nil
}

func isNull(b json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(b), []byte("null"))
}

func malformed(err error) error {
	return types.NewError(types.ErrMalformedResponse, "decode", err)
}
