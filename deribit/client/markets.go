package client

import (
	"context"
	"encoding/json"

	"github.com/betbot/deribit/deribit/types"
)

// GetInstruments 查询合约列表（公共接口，不需要令牌）。
// 三个参数原样发送，由交易所校验；每个元素的 Raw 保留交易所返回的原始对象。
func (c *Client) GetInstruments(ctx context.Context, currency, kind string, includeExpired bool) ([]types.Instrument, error) {
	params := map[string]any{
		"currency": currency,
		"kind":     kind,
		"expired":  includeExpired,
	}

	resp, err := c.call(ctx, MethodGetInstruments, params)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, types.NewRPCError(types.ErrRequestFailed, "get_instruments", resp.Error)
	}

	var items []json.RawMessage
	if err := resp.UnmarshalResult(&items); err != nil {
		return nil, types.NewError(types.ErrMalformedResponse, "get_instruments", err)
	}
	out := make([]types.Instrument, 0, len(items))
	for _, item := range items {
		var inst types.Instrument
		if err := json.Unmarshal(item, &inst); err != nil {
			return nil, types.NewError(types.ErrMalformedResponse, "get_instruments", err)
		}
		inst.Raw = item
		out = append(out, inst)
	}
	return out, nil
}
