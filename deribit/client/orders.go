package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/betbot/deribit/deribit/types"
)

// PlaceOrder 下单。参数先在本地校验，不合法时不会发出请求。
// 方法由方向决定：private/buy 或 private/sell。
func (c *Client) PlaceOrder(ctx context.Context, order types.Order) (*types.OrderResult, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}

	method := MethodBuy
	if order.Direction == types.DirectionSell {
		method = MethodSell
	}
	resp, err := c.callPrivate(ctx, method, orderParams(order))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, types.NewRPCError(types.ErrOrderRejected, "place_order", resp.Error)
	}

	var res types.OrderResult
	if err := resp.UnmarshalResult(&res); err != nil {
		return nil, types.NewError(types.ErrMalformedResponse, "place_order", err)
	}
	res.Raw = resp.Result

	c.logger.WithField("order_id", res.Order.OrderID).
		WithField("instrument", order.Instrument).
		WithField("direction", order.Direction).
		WithField("amount", order.Amount()).
		Info("下单成功")
	return &res, nil
}

// orderParams 构造下单参数。amount 为整数，price 以 JSON 数字发送，市价类订单不带价格。
func orderParams(order types.Order) map[string]any {
	kind := order.EffectiveKind()
	label := order.Label
	if label == "" {
		label = NewOrderLabel()
	}

	params := map[string]any{
		"instrument_name": order.Instrument,
		"amount":          order.Amount(),
		"type":            string(kind),
		"label":           label,
	}
	if kind.RequiresPrice() {
		params["price"] = json.Number(order.Price.String())
	}
	if order.PostOnly {
		params["post_only"] = true
	}
	if order.ReduceOnly {
		params["reduce_only"] = true
	}
	return params
}

// NewOrderLabel 生成默认订单标签
func NewOrderLabel() string {
	return "betbot-" + uuid.NewString()
}

// CancelOrder 撤单
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return types.NewError(types.ErrInvalidArgument, "cancel_order", fmt.Errorf("order_id 不能为空"))
	}

	resp, err := c.callPrivate(ctx, MethodCancel, map[string]any{"order_id": orderID})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return types.NewRPCError(types.ErrOrderCancelFailed, "cancel_order", resp.Error)
	}
	c.logger.WithField("order_id", orderID).Info("撤单成功")
	return nil
}
