package exchange

import "github.com/shopspring/decimal"

// OrderStatus 表示交易所侧订单状态。
type OrderStatus string

const (
	StatusOpen     OrderStatus = "open"
	StatusClosed   OrderStatus = "closed"
	StatusCanceled OrderStatus = "canceled"
	StatusExpired  OrderStatus = "expired"
	StatusPending  OrderStatus = "pending"
	StatusUnknown  OrderStatus = "unknown"
)

// Terminal 判断状态是否为终态：终态订单不会再发生变化。
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusClosed, StatusCanceled, StatusExpired:
		return true
	default:
		return false
	}
}

// Pair 为交易对元数据，一次运行中只拉取一次。
// Base/Quote 是交易所内部资产码（如 XXBT/ZEUR），
// BaseSymbol/QuoteSymbol 是 wsname 拆出的可读符号（如 XBT/EUR）。
type Pair struct {
	ID            string
	Base          string
	Quote         string
	BaseSymbol    string
	QuoteSymbol   string
	PriceDecimals int32
}

// PriceQuote 为一次行情快照，全部以计价资产（通常为法币）为单位。
type PriceQuote struct {
	Ask  decimal.Decimal
	Bid  decimal.Decimal
	Last decimal.Decimal
}

// Order 为轮询观测到的订单视图，仅由交易所变更。
type Order struct {
	ID             string
	Status         OrderStatus
	Volume         decimal.Decimal
	VolumeExecuted decimal.Decimal
	Cost           decimal.Decimal
	Fee            decimal.Decimal
	Price          decimal.Decimal
	Partial        bool
}

// ExecutionSummary 为订单执行情况的只读概览。
type ExecutionSummary struct {
	Status         OrderStatus
	VolumeExecuted decimal.Decimal
	Cost           decimal.Decimal
	Fee            decimal.Decimal
	Total          decimal.Decimal
	Partial        bool
}

// ExecutionSummary 由订单推导执行概览，Total = Cost + Fee。
func (o Order) ExecutionSummary() ExecutionSummary {
	return ExecutionSummary{
		Status:         o.Status,
		VolumeExecuted: o.VolumeExecuted,
		Cost:           o.Cost,
		Fee:            o.Fee,
		Total:          o.Cost.Add(o.Fee),
		Partial:        o.Partial,
	}
}

// Strategy 为交易所提供的收益策略条目。
type Strategy struct {
	ID    string
	Asset string
}
