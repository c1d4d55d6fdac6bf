package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// OrderKind 订单类型
type OrderKind string

const (
	OrderKindLimit        OrderKind = "limit"
	OrderKindMarket       OrderKind = "market"
	OrderKindStopLimit    OrderKind = "stop_limit"
	OrderKindStopMarket   OrderKind = "stop_market"
	OrderKindTakeLimit    OrderKind = "take_limit"
	OrderKindTakeMarket   OrderKind = "take_market"
	OrderKindMarketLimit  OrderKind = "market_limit"
	OrderKindTrailingStop OrderKind = "trailing_stop"
)

// RequiresPrice 该类型是否必须携带限价
func (k OrderKind) RequiresPrice() bool {
	switch k {
	case OrderKindLimit, OrderKindStopLimit, OrderKindTakeLimit:
		return true
	default:
		return false
	}
}

// Order 下单请求（由调用方构造，提交后核心不再持有）
type Order struct {
	Instrument string
	Direction  Direction
	Quantity   decimal.Decimal // 合约张数，必须是正整数
	Price      decimal.Decimal
	Kind       OrderKind // 为空时按 limit 处理
	Label      string    // 为空时自动生成
	PostOnly   bool
	ReduceOnly bool
}

// EffectiveKind 返回实际使用的订单类型
func (o Order) EffectiveKind() OrderKind {
	if o.Kind == "" {
		return OrderKindLimit
	}
	return o.Kind
}

// Amount 合约张数（校验通过后调用）
func (o Order) Amount() int64 {
	return o.Quantity.IntPart()
}

// Validate 发送前校验
func (o Order) Validate() error {
	if strings.TrimSpace(o.Instrument) == "" {
		return NewError(ErrInvalidArgument, "place_order", fmt.Errorf("instrument 不能为空"))
	}
	if !o.Direction.Valid() {
		return NewError(ErrInvalidArgument, "place_order", fmt.Errorf("未知的方向: %q", o.Direction))
	}
	if !o.Quantity.IsPositive() || !o.Quantity.IsInteger() {
		return NewError(ErrInvalidArgument, "place_order", fmt.Errorf("quantity must be a positive integer, got %s", o.Quantity.String()))
	}
	if !o.Quantity.BigInt().IsInt64() {
		return NewError(ErrInvalidArgument, "place_order", fmt.Errorf("quantity 超出范围: %s", o.Quantity.String()))
	}
	if o.EffectiveKind().RequiresPrice() && !o.Price.IsPositive() {
		return NewError(ErrInvalidArgument, "place_order", fmt.Errorf("%s 订单价格必须大于 0, got %s", o.EffectiveKind(), o.Price.String()))
	}
	return nil
}

// Price 订单价格；市价单时交易所返回字符串 "market_price"
type Price struct {
	decimal.Decimal
	Market bool
}

func (p *Price) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte(`"market_price"`)) {
		p.Market = true
		p.Decimal = decimal.Zero
		return nil
	}
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	return p.Decimal.UnmarshalJSON(b)
}

func (p Price) MarshalJSON() ([]byte, error) {
	if p.Market {
		return []byte(`"market_price"`), nil
	}
	return []byte(p.Decimal.String()), nil
}

// OrderState 交易所返回的订单对象
type OrderState struct {
	OrderID             string          `json:"order_id"`
	OrderState          string          `json:"order_state"`
	OrderType           string          `json:"order_type"`
	Direction           Direction       `json:"direction"`
	InstrumentName      string          `json:"instrument_name"`
	Amount              decimal.Decimal `json:"amount"`
	FilledAmount        decimal.Decimal `json:"filled_amount"`
	Price               Price           `json:"price"`
	AveragePrice        decimal.Decimal `json:"average_price"`
	Label               string          `json:"label"`
	PostOnly            bool            `json:"post_only"`
	ReduceOnly          bool            `json:"reduce_only"`
	CreationTimestamp   int64           `json:"creation_timestamp"`
	LastUpdateTimestamp int64           `json:"last_update_timestamp"`
}

// OrderResult 下单结果；Raw 为 result 原文，所有权交给调用方
type OrderResult struct {
	Order  OrderState        `json:"order"`
	Trades []json.RawMessage `json:"trades"`
	Raw    json.RawMessage   `json:"-"`
}
