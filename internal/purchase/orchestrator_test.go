package purchase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kraken-dca/internal/exchange"
)

func TestExecute_VolumeSizing(t *testing.T) {
	gw := newFakeGateway()
	gw.statusSeq = []exchange.OrderStatus{exchange.StatusClosed}

	report, err := runExecute(t, gw, "70")
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if len(gw.placed) != 1 {
		t.Fatalf("expected exactly one order, got %d", len(gw.placed))
	}
	placed := gw.placed[0]

	if !placed.price.Equal(dec(t, "50000.0")) {
		t.Errorf("expected limit price 50000.0 (ask), got %s", placed.price)
	}
	if !placed.volume.Equal(dec(t, "0.0014")) {
		t.Errorf("expected volume 0.0014, got %s", placed.volume)
	}
	// 数量乘回限价应在精度容差内还原投入金额
	if !placed.volume.Mul(placed.price).Equal(dec(t, "70")) {
		t.Errorf("volume*price does not recover fiat: %s", placed.volume.Mul(placed.price))
	}
	if report.VolumeDisplay != "0.00140" {
		t.Errorf("unexpected display volume %q", report.VolumeDisplay)
	}
}

func TestExecute_InsufficientBalance_NeverSubmits(t *testing.T) {
	gw := newFakeGateway()
	gw.balances["ZEUR"] = dec(t, "69.99")

	_, err := runExecute(t, gw, "70")
	if err == nil {
		t.Fatal("expected insufficient balance error")
	}

	var balanceErr *InsufficientBalanceError
	if !errors.As(err, &balanceErr) {
		t.Fatalf("expected *InsufficientBalanceError, got %v", err)
	}
	if !balanceErr.Required.Equal(dec(t, "70")) {
		t.Errorf("unexpected required amount %s", balanceErr.Required)
	}
	if len(gw.placed) != 0 {
		t.Errorf("order must never be submitted, got %d submissions", len(gw.placed))
	}
}

func TestExecute_StopsPollingAtClosed(t *testing.T) {
	gw := newFakeGateway()
	gw.statusSeq = []exchange.OrderStatus{exchange.StatusOpen, exchange.StatusOpen, exchange.StatusClosed}

	report, err := runExecute(t, gw, "70")
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if gw.polls != 3 {
		t.Errorf("expected exactly 3 polls, got %d", gw.polls)
	}
	if report.Outcome != OutcomeFilled {
		t.Errorf("expected outcome filled, got %s", report.Outcome)
	}
	if report.FinalStatus != exchange.StatusClosed {
		t.Errorf("expected final status closed, got %s", report.FinalStatus)
	}
	if report.Staking != StakingAllocated {
		t.Errorf("expected staking allocated, got %s", report.Staking)
	}
	if len(gw.allocations) != 1 {
		t.Fatalf("expected one allocation, got %d", len(gw.allocations))
	}
	if gw.allocations[0].strategyID != "ESRFIAO-STRAT-1" {
		t.Errorf("expected first strategy id, got %s", gw.allocations[0].strategyID)
	}
	if !gw.allocations[0].amount.Equal(dec(t, "0.0014")) {
		t.Errorf("expected full base balance allocated, got %s", gw.allocations[0].amount)
	}
}

func TestExecute_TimeoutCancelsOnceAndSkipsStaking(t *testing.T) {
	gw := newFakeGateway()
	gw.statusSeq = []exchange.OrderStatus{exchange.StatusOpen}

	clock := newFakeClock()
	opts := Options{
		SettleDelay:  5 * time.Second,
		PollInterval: 5 * time.Second,
		OrderTimeout: 5 * time.Minute,
	}
	orch := NewOrchestrator(gw, clock, opts, nil)

	start := clock.Now()
	report, err := orch.Execute(context.Background(), "XXBTZEUR", dec(t, "70"))
	if err != nil {
		t.Fatalf("timeout must end the run successfully, got %v", err)
	}

	if report.Outcome != OutcomeTimedOut {
		t.Errorf("expected outcome timed_out, got %s", report.Outcome)
	}
	if gw.cancels != 1 {
		t.Errorf("expected exactly one cancel, got %d", gw.cancels)
	}
	if len(gw.allocations) != 0 {
		t.Errorf("staking must not run after timeout, got %d allocations", len(gw.allocations))
	}
	if gw.strategyCalls != 0 {
		t.Errorf("strategy lookup must not run after timeout, got %d calls", gw.strategyCalls)
	}
	// 轮询必须在 timeout+interval 的墙钟范围内结束（外加一次落地延迟）
	elapsed := clock.Now().Sub(start)
	limit := opts.OrderTimeout + opts.PollInterval + opts.SettleDelay
	if elapsed > limit {
		t.Errorf("poll loop ran too long: %s > %s", elapsed, limit)
	}
	// 撤单后仍然补取执行概览，部分成交信息不能丢
	if report.FinalStatus != exchange.StatusOpen {
		t.Errorf("expected last observed status open, got %s", report.FinalStatus)
	}
}

func TestExecute_OrderNotFound_FailsWithoutRetry(t *testing.T) {
	gw := newFakeGateway()
	gw.orderInfoErr = fmt.Errorf("订单 %q: %w", "TX-1", exchange.ErrOrderNotFound)

	clock := newFakeClock()
	orch := NewOrchestrator(gw, clock, defaultTestOptions(), nil)

	_, err := orch.Execute(context.Background(), "XXBTZEUR", dec(t, "70"))
	if !errors.Is(err, exchange.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	if gw.polls != 1 {
		t.Errorf("expected a single poll, got %d", gw.polls)
	}
	// 仅允许下单后的落地延迟，不允许任何轮询间隔等待
	if len(clock.sleeps) != 1 {
		t.Errorf("expected only the settle sleep, got %v", clock.sleeps)
	}
}

func TestExecute_CanceledWithoutTimeout_SkipsStaking(t *testing.T) {
	gw := newFakeGateway()
	gw.statusSeq = []exchange.OrderStatus{exchange.StatusCanceled}

	report, err := runExecute(t, gw, "70")
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if report.Outcome != OutcomeNotFilled {
		t.Errorf("expected outcome not_filled, got %s", report.Outcome)
	}
	if report.Staking != StakingSkippedNotFilled {
		t.Errorf("expected staking skipped, got %s", report.Staking)
	}
	if gw.cancels != 0 {
		t.Errorf("no cancel expected without timeout, got %d", gw.cancels)
	}
	if gw.strategyCalls != 0 {
		t.Errorf("strategy lookup must not run, got %d calls", gw.strategyCalls)
	}
}

func TestExecute_ZeroBaseBalance_SkipsAllocation(t *testing.T) {
	gw := newFakeGateway()
	gw.statusSeq = []exchange.OrderStatus{exchange.StatusClosed}
	gw.balances["XXBT"] = decimal.Zero

	report, err := runExecute(t, gw, "70")
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if report.Staking != StakingSkippedNoBalance {
		t.Errorf("expected staking skipped_no_balance, got %s", report.Staking)
	}
	if len(gw.allocations) != 0 {
		t.Errorf("allocation must be skipped, got %d", len(gw.allocations))
	}
}

func TestExecute_AllocateFailureIsNonFatal(t *testing.T) {
	gw := newFakeGateway()
	gw.statusSeq = []exchange.OrderStatus{exchange.StatusClosed}
	gw.allocateErr = errors.New("kraken Earn/Allocate: EEarn:Below min")

	report, err := runExecute(t, gw, "70")
	if err != nil {
		t.Fatalf("allocate failure must not fail the run, got %v", err)
	}
	if report.Staking != StakingFailed {
		t.Errorf("expected staking failed, got %s", report.Staking)
	}
	if report.Outcome != OutcomeFilled {
		t.Errorf("expected outcome filled, got %s", report.Outcome)
	}
}

func TestExecute_UnknownPairIsFatal(t *testing.T) {
	gw := newFakeGateway()
	gw.pairErr = fmt.Errorf("交易对 %q: %w", "XXXXZEUR", exchange.ErrPairNotFound)

	_, err := runExecute(t, gw, "70")
	if !errors.Is(err, exchange.ErrPairNotFound) {
		t.Fatalf("expected ErrPairNotFound, got %v", err)
	}
	if len(gw.placed) != 0 {
		t.Errorf("no order expected for unknown pair")
	}
}

func runExecute(t *testing.T, gw *fakeGateway, fiat string) (*Report, error) {
	t.Helper()
	orch := NewOrchestrator(gw, newFakeClock(), defaultTestOptions(), nil)
	return orch.Execute(context.Background(), "XXBTZEUR", dec(t, fiat))
}

func defaultTestOptions() Options {
	return Options{
		SettleDelay:  5 * time.Second,
		PollInterval: 5 * time.Second,
		OrderTimeout: 5 * time.Minute,
	}
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("invalid decimal %q: %v", s, err)
	}
	return d
}

// fakeClock 以虚拟时间推进流程，Sleep 立即返回并累加当前时刻。
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

type placedOrder struct {
	pair   string
	volume decimal.Decimal
	price  decimal.Decimal
}

type allocation struct {
	asset      string
	amount     decimal.Decimal
	strategyID string
}

// fakeGateway 按脚本化的状态序列回放订单生命周期。
type fakeGateway struct {
	pair    exchange.Pair
	pairErr error
	quote   exchange.PriceQuote

	balances map[string]decimal.Decimal

	statusSeq    []exchange.OrderStatus
	orderInfoErr error
	polls        int

	placed  []placedOrder
	cancels int

	strategies    []exchange.Strategy
	strategyCalls int
	allocations   []allocation
	allocateErr   error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		pair: exchange.Pair{
			ID:            "XXBTZEUR",
			Base:          "XXBT",
			Quote:         "ZEUR",
			BaseSymbol:    "XBT",
			QuoteSymbol:   "EUR",
			PriceDecimals: 1,
		},
		quote: exchange.PriceQuote{
			Ask:  decimal.RequireFromString("50000.0"),
			Bid:  decimal.RequireFromString("49999.1"),
			Last: decimal.RequireFromString("49999.5"),
		},
		balances: map[string]decimal.Decimal{
			"ZEUR": decimal.RequireFromString("100.00"),
			"XXBT": decimal.RequireFromString("0.0014"),
		},
		statusSeq: []exchange.OrderStatus{exchange.StatusClosed},
		strategies: []exchange.Strategy{
			{ID: "ESRFIAO-STRAT-1", Asset: "XXBT"},
			{ID: "ESRFIAO-STRAT-2", Asset: "XXBT"},
		},
	}
}

func (g *fakeGateway) GetPairDetails(_ context.Context, pair string) (exchange.Pair, error) {
	if g.pairErr != nil {
		return exchange.Pair{}, g.pairErr
	}
	return g.pair, nil
}

func (g *fakeGateway) GetPrice(_ context.Context, pair string) (exchange.PriceQuote, error) {
	return g.quote, nil
}

func (g *fakeGateway) GetBalance(_ context.Context, asset string) (decimal.Decimal, error) {
	balance, ok := g.balances[asset]
	if !ok {
		return decimal.Zero, nil
	}
	return balance, nil
}

func (g *fakeGateway) PlaceLimitOrder(_ context.Context, pair string, volume, price decimal.Decimal) (string, error) {
	g.placed = append(g.placed, placedOrder{pair: pair, volume: volume, price: price})
	return "TX-1", nil
}

func (g *fakeGateway) GetOrderInfo(_ context.Context, txid string) (exchange.Order, error) {
	g.polls++
	if g.orderInfoErr != nil {
		return exchange.Order{}, g.orderInfoErr
	}

	idx := g.polls - 1
	if idx >= len(g.statusSeq) {
		idx = len(g.statusSeq) - 1
	}

	return exchange.Order{
		ID:             txid,
		Status:         g.statusSeq[idx],
		Volume:         decimal.RequireFromString("0.0014"),
		VolumeExecuted: decimal.RequireFromString("0.0014"),
		Cost:           decimal.RequireFromString("70.0"),
		Fee:            decimal.RequireFromString("0.18"),
		Price:          decimal.RequireFromString("50000.0"),
	}, nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, txid string) (int64, error) {
	g.cancels++
	return 1, nil
}

func (g *fakeGateway) ListEarnStrategies(_ context.Context, asset string) ([]exchange.Strategy, error) {
	g.strategyCalls++
	return g.strategies, nil
}

func (g *fakeGateway) AllocateEarn(_ context.Context, asset string, amount decimal.Decimal, strategyID string) error {
	if g.allocateErr != nil {
		return g.allocateErr
	}
	g.allocations = append(g.allocations, allocation{asset: asset, amount: amount, strategyID: strategyID})
	return nil
}
