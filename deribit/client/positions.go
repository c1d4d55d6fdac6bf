package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/betbot/deribit/deribit/types"
)

// GetPositions 查询持仓（私有接口）
func (c *Client) GetPositions(ctx context.Context, currency, kind string) ([]types.Position, error) {
	if strings.TrimSpace(currency) == "" {
		return nil, types.NewError(types.ErrInvalidArgument, "get_positions", fmt.Errorf("currency 不能为空"))
	}
	params := map[string]any{"currency": currency}
	if kind != "" {
		params["kind"] = kind
	}

	resp, err := c.callPrivate(ctx, MethodGetPositions, params)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, types.NewRPCError(types.ErrRequestFailed, "get_positions", resp.Error)
	}

	var items []json.RawMessage
	if err := resp.UnmarshalResult(&items); err != nil {
		return nil, types.NewError(types.ErrMalformedResponse, "get_positions", err)
	}
	out := make([]types.Position, 0, len(items))
	for _, item := range items {
		var p types.Position
		if err := json.Unmarshal(item, &p); err != nil {
			return nil, types.NewError(types.ErrMalformedResponse, "get_positions", err)
		}
		p.Raw = item
		out = append(out, p)
	}
	return out, nil
}
