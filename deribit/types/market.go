package types

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Instrument 合约信息；Raw 保留交易所返回的原始对象
type Instrument struct {
	InstrumentName      string          `json:"instrument_name"`
	Kind                string          `json:"kind"`
	BaseCurrency        string          `json:"base_currency"`
	QuoteCurrency       string          `json:"quote_currency"`
	SettlementPeriod    string          `json:"settlement_period"`
	TickSize            decimal.Decimal `json:"tick_size"`
	ContractSize        decimal.Decimal `json:"contract_size"`
	MinTradeAmount      decimal.Decimal `json:"min_trade_amount"`
	IsActive            bool            `json:"is_active"`
	ExpirationTimestamp int64           `json:"expiration_timestamp"`
	CreationTimestamp   int64           `json:"creation_timestamp"`

	Raw json.RawMessage `json:"-"`
}

// Position 持仓
type Position struct {
	InstrumentName     string          `json:"instrument_name"`
	Direction          string          `json:"direction"` // buy / sell / zero
	Kind               string          `json:"kind"`
	Size               decimal.Decimal `json:"size"`
	AveragePrice       decimal.Decimal `json:"average_price"`
	MarkPrice          decimal.Decimal `json:"mark_price"`
	FloatingProfitLoss decimal.Decimal `json:"floating_profit_loss"`

	Raw json.RawMessage `json:"-"`
}
