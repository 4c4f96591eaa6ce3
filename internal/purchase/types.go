package purchase

import (
	"fmt"

	"github.com/shopspring/decimal"

	"kraken-dca/internal/exchange"
)

// Outcome 表示一次购买流程的最终走向。
type Outcome string

const (
	// OutcomeFilled 订单完全结束于 closed，随后进入质押。
	OutcomeFilled Outcome = "filled"
	// OutcomeTimedOut 轮询超时，订单被主动撤销，流程正常结束但不质押。
	OutcomeTimedOut Outcome = "timed_out"
	// OutcomeNotFilled 订单在非超时路径下结束于 canceled/expired，跳过质押。
	OutcomeNotFilled Outcome = "not_filled"
)

// StakingResult 记录质押环节的结局，除致命网关错误外均不影响整体运行结果。
type StakingResult string

const (
	StakingAllocated         StakingResult = "allocated"
	StakingSkippedNotFilled  StakingResult = "skipped_not_filled"
	StakingSkippedNoBalance  StakingResult = "skipped_no_balance"
	StakingSkippedNoStrategy StakingResult = "skipped_no_strategy"
	StakingFailed            StakingResult = "failed"
)

// Report 记录流程中每一步的观测值，构成完整的执行轨迹。
type Report struct {
	Pair        exchange.Pair
	Quote       exchange.PriceQuote
	LimitPrice  decimal.Decimal
	FiatToSpend decimal.Decimal

	// Volume 为提交订单使用的未舍入数量，VolumeDisplay 按展示精度格式化。
	Volume        decimal.Decimal
	VolumeDisplay string

	QuoteBalance decimal.Decimal
	OrderID      string

	FinalStatus exchange.OrderStatus
	Outcome     Outcome
	Summary     exchange.ExecutionSummary
	CancelCount int64

	Staking      StakingResult
	StrategyID   string
	StakedAmount decimal.Decimal
}

// InsufficientBalanceError 表示余额门槛校验失败，订单从未提交。
type InsufficientBalanceError struct {
	Asset     string
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("purchase: %s 余额不足：可用 %s，需要 %s",
		e.Asset, e.Available.String(), e.Required.String())
}
