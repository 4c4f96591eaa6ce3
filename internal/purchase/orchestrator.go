package purchase

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kraken-dca/internal/exchange"
)

// Gateway 定义状态机所需的交易所能力，由 exchange.Gateway 满足，
// 测试中以脚本化的假实现替代。
type Gateway interface {
	GetPrice(ctx context.Context, pair string) (exchange.PriceQuote, error)
	GetBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	GetPairDetails(ctx context.Context, pair string) (exchange.Pair, error)
	PlaceLimitOrder(ctx context.Context, pair string, volume, price decimal.Decimal) (string, error)
	GetOrderInfo(ctx context.Context, txid string) (exchange.Order, error)
	CancelOrder(ctx context.Context, txid string) (int64, error)
	ListEarnStrategies(ctx context.Context, asset string) ([]exchange.Strategy, error)
	AllocateEarn(ctx context.Context, asset string, amount decimal.Decimal, strategyID string) error
}

// Options 控制订单生命周期的节奏。
type Options struct {
	SettleDelay  time.Duration
	PollInterval time.Duration
	OrderTimeout time.Duration
}

// 展示精度：数量固定 5 位小数，法币余额 2 位。
const (
	volumeDisplayDecimals  = 5
	balanceDisplayDecimals = 2
)

// Orchestrator 执行一次完整的购买与质押流程。
// 单一顺序执行者，不存在并发订单，也不共享可变状态。
type Orchestrator struct {
	gateway Gateway
	clock   Clock
	opts    Options
	logger  *zap.Logger
}

// NewOrchestrator 创建编排器。
func NewOrchestrator(gateway Gateway, clock Clock, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = NewRealClock()
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.OrderTimeout <= 0 {
		opts.OrderTimeout = 5 * time.Minute
	}

	return &Orchestrator{
		gateway: gateway,
		clock:   clock,
		opts:    opts,
		logger:  logger,
	}
}

// Execute 将指定法币金额买入目标资产并把所得划入收益策略。
// 订单超时撤销属于正常结局，返回的 Report 会标记 OutcomeTimedOut 且 error 为 nil。
func (o *Orchestrator) Execute(ctx context.Context, pairID string, fiatToSpend decimal.Decimal) (*Report, error) {
	if fiatToSpend.Sign() <= 0 {
		return nil, fmt.Errorf("purchase: 投入金额必须大于0，当前为 %s", fiatToSpend.String())
	}

	pair, err := o.gateway.GetPairDetails(ctx, pairID)
	if err != nil {
		return nil, fmt.Errorf("获取交易对元数据失败: %w", err)
	}

	report := &Report{
		Pair:        pair,
		FiatToSpend: fiatToSpend,
	}

	o.logger.Info("开始定投购买",
		zap.String("pair", pair.ID),
		zap.String("invest", fiatToSpend.String()+" "+pair.QuoteSymbol),
		zap.String("target", pair.BaseSymbol),
	)

	quote, err := o.gateway.GetPrice(ctx, pairID)
	if err != nil {
		return nil, fmt.Errorf("获取行情失败: %w", err)
	}
	report.Quote = quote

	o.logger.Info("当前行情",
		zap.String("ask", quote.Ask.String()+" "+pair.QuoteSymbol),
		zap.String("bid", quote.Bid.String()+" "+pair.QuoteSymbol),
		zap.String("last", quote.Last.String()+" "+pair.QuoteSymbol),
	)

	// 限价取卖一价：偏向确定成交而非最优价格。
	limitPrice := quote.Ask
	report.LimitPrice = limitPrice
	o.logger.Info("限价设定为卖一价", zap.String("price", limitPrice.String()+" "+pair.QuoteSymbol))

	volume := fiatToSpend.Div(limitPrice)
	report.Volume = volume
	report.VolumeDisplay = volume.StringFixed(volumeDisplayDecimals)
	o.logger.Info("计算买入数量",
		zap.String("volume", report.VolumeDisplay+" "+pair.BaseSymbol),
	)

	// 余额校验必须先于下单，失败时不会提交任何订单。
	quoteBalance, err := o.gateway.GetBalance(ctx, pair.Quote)
	if err != nil {
		return nil, fmt.Errorf("查询法币余额失败: %w", err)
	}
	report.QuoteBalance = quoteBalance
	o.logger.Info("可用法币余额",
		zap.String("balance", quoteBalance.StringFixed(balanceDisplayDecimals)+" "+pair.QuoteSymbol),
	)
	if quoteBalance.LessThan(fiatToSpend) {
		return nil, &InsufficientBalanceError{
			Asset:     pair.QuoteSymbol,
			Available: quoteBalance,
			Required:  fiatToSpend,
		}
	}

	txid, err := o.gateway.PlaceLimitOrder(ctx, pairID, volume, limitPrice)
	if err != nil {
		return nil, fmt.Errorf("提交限价单失败: %w", err)
	}
	report.OrderID = txid
	o.logger.Info("限价单已提交", zap.String("txid", txid))

	// 短暂等待，避免订单尚未被交易所索引导致首次查询落空。
	if err := o.clock.Sleep(ctx, o.opts.SettleDelay); err != nil {
		return report, err
	}

	o.logger.Info("等待订单结束",
		zap.String("txid", txid),
		zap.Duration("timeout", o.opts.OrderTimeout),
	)

	final, timedOut, err := o.waitForTerminal(ctx, txid)
	if err != nil {
		return report, err
	}

	if timedOut {
		o.cancelAfterTimeout(ctx, txid, report)
		return report, nil
	}

	report.FinalStatus = final.Status
	report.Summary = final.ExecutionSummary()
	o.logSummary(txid, report.Summary)

	if final.Status != exchange.StatusClosed {
		// 非超时路径下的 canceled/expired 不算成交，质押环节跳过。
		report.Outcome = OutcomeNotFilled
		report.Staking = StakingSkippedNotFilled
		o.logger.Warn("订单未成交即结束，跳过质押",
			zap.String("txid", txid),
			zap.String("status", string(final.Status)),
		)
		return report, nil
	}

	report.Outcome = OutcomeFilled

	if err := o.stake(ctx, pair, report); err != nil {
		return report, err
	}

	return report, nil
}

// waitForTerminal 轮询订单直至终态或超时。
// 订单号在查询响应中缺失视为订单引用失效，立即失败且不再轮询。
func (o *Orchestrator) waitForTerminal(ctx context.Context, txid string) (exchange.Order, bool, error) {
	deadline := o.clock.Now().Add(o.opts.OrderTimeout)

	for {
		order, err := o.gateway.GetOrderInfo(ctx, txid)
		if err != nil {
			return exchange.Order{}, false, fmt.Errorf("查询订单状态失败: %w", err)
		}

		if order.Status.Terminal() {
			return order, false, nil
		}

		if o.clock.Now().After(deadline) {
			o.logger.Warn("等待订单结束超时", zap.String("txid", txid))
			return order, true, nil
		}

		if err := o.clock.Sleep(ctx, o.opts.PollInterval); err != nil {
			return exchange.Order{}, false, err
		}
	}
}

// cancelAfterTimeout 超时后尽力撤单并无条件补取执行概览：
// 撤销前订单可能已经部分成交。撤单失败只记录，不改变最终结局。
func (o *Orchestrator) cancelAfterTimeout(ctx context.Context, txid string, report *Report) {
	report.Outcome = OutcomeTimedOut
	report.Staking = StakingSkippedNotFilled

	count, err := o.gateway.CancelOrder(ctx, txid)
	if err != nil {
		o.logger.Warn("撤销超时订单失败", zap.String("txid", txid), zap.Error(err))
	} else {
		report.CancelCount = count
		if count == 1 {
			o.logger.Info("超时订单已撤销", zap.String("txid", txid))
		} else {
			o.logger.Warn("撤单请求未生效",
				zap.String("txid", txid),
				zap.Int64("count", count),
			)
		}
	}

	order, err := o.gateway.GetOrderInfo(ctx, txid)
	if err != nil {
		o.logger.Warn("获取超时订单执行概览失败", zap.String("txid", txid), zap.Error(err))
		return
	}

	report.FinalStatus = order.Status
	report.Summary = order.ExecutionSummary()
	o.logSummary(txid, report.Summary)
}

// stake 查找基础资产的收益策略并划入全部可用余额。
// 余额为零或划转失败都只是信息性结局，不影响整体运行结果。
func (o *Orchestrator) stake(ctx context.Context, pair exchange.Pair, report *Report) error {
	strategies, err := o.gateway.ListEarnStrategies(ctx, pair.Base)
	if err != nil {
		return fmt.Errorf("获取收益策略失败: %w", err)
	}
	if len(strategies) == 0 {
		report.Staking = StakingSkippedNoStrategy
		o.logger.Warn("该资产没有可用收益策略", zap.String("asset", pair.Base))
		return nil
	}

	// 不做排序偏好，取响应中的第一个策略。
	strategyID := strategies[0].ID
	report.StrategyID = strategyID

	baseBalance, err := o.gateway.GetBalance(ctx, pair.Base)
	if err != nil {
		return fmt.Errorf("查询基础资产余额失败: %w", err)
	}

	o.logger.Info("可用于质押的余额",
		zap.String("asset", pair.Base),
		zap.String("balance", baseBalance.String()),
		zap.String("strategy_id", strategyID),
	)

	if baseBalance.Sign() <= 0 {
		report.Staking = StakingSkippedNoBalance
		o.logger.Warn("余额不足，跳过质押", zap.String("asset", pair.Base))
		return nil
	}

	if err := o.gateway.AllocateEarn(ctx, pair.Base, baseBalance, strategyID); err != nil {
		report.Staking = StakingFailed
		o.logger.Warn("收益策略划转失败",
			zap.String("asset", pair.Base),
			zap.String("strategy_id", strategyID),
			zap.Error(err),
		)
		return nil
	}

	report.Staking = StakingAllocated
	report.StakedAmount = baseBalance
	return nil
}

func (o *Orchestrator) logSummary(txid string, summary exchange.ExecutionSummary) {
	o.logger.Info("订单执行概览",
		zap.String("txid", txid),
		zap.String("status", string(summary.Status)),
		zap.String("vol_exec", summary.VolumeExecuted.String()),
		zap.Bool("partial", summary.Partial),
		zap.String("cost", summary.Cost.String()),
		zap.String("fee", summary.Fee.String()),
		zap.String("total", summary.Total.String()),
	)
}
