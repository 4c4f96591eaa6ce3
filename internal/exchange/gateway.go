package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// transport 抽象底层 REST 客户端，方便在测试中注入固定响应。
type transport interface {
	Public(ctx context.Context, method string, params map[string]string) (json.RawMessage, error)
	Private(ctx context.Context, method string, params url.Values) (json.RawMessage, error)
}

// Gateway 将 Kraken 各接口归一化为带类型的网关能力。
// 所有金额均解析为精确十进制，不经过二进制浮点。
type Gateway struct {
	transport transport
	logger    *zap.Logger
}

// NewGateway 创建交易所网关。
func NewGateway(t transport, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		transport: t,
		logger:    logger,
	}
}

// GetPrice 获取交易对当前的卖一、买一与最新成交价。
func (g *Gateway) GetPrice(ctx context.Context, pair string) (PriceQuote, error) {
	raw, err := g.transport.Public(ctx, "Ticker", map[string]string{"pair": pair})
	if err != nil {
		return PriceQuote{}, err
	}

	var result map[string]struct {
		Ask  []string `json:"a"`
		Bid  []string `json:"b"`
		Last []string `json:"c"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return PriceQuote{}, fmt.Errorf("解析 Ticker 响应失败: %w", err)
	}

	entry, ok := result[pair]
	if !ok {
		return PriceQuote{}, fmt.Errorf("ticker 响应缺少交易对 %q: %w", pair, ErrPairNotFound)
	}
	if len(entry.Ask) == 0 || len(entry.Bid) == 0 || len(entry.Last) == 0 {
		return PriceQuote{}, fmt.Errorf("ticker 响应中 %q 的报价数组为空", pair)
	}

	ask, err := parseDecimal(entry.Ask[0], "ask")
	if err != nil {
		return PriceQuote{}, err
	}
	bid, err := parseDecimal(entry.Bid[0], "bid")
	if err != nil {
		return PriceQuote{}, err
	}
	last, err := parseDecimal(entry.Last[0], "last")
	if err != nil {
		return PriceQuote{}, err
	}

	return PriceQuote{Ask: ask, Bid: bid, Last: last}, nil
}

// GetBalance 获取指定资产的账户余额，账户中不存在该资产时返回零。
// 余额每次实时查询，运行期间从不缓存。
func (g *Gateway) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	raw, err := g.transport.Private(ctx, "Balance", nil)
	if err != nil {
		return decimal.Zero, err
	}

	var result map[string]string
	if err := json.Unmarshal(raw, &result); err != nil {
		return decimal.Zero, fmt.Errorf("解析 Balance 响应失败: %w", err)
	}

	value, ok := result[asset]
	if !ok {
		return decimal.Zero, nil
	}

	return parseDecimal(value, "balance")
}

// GetPairDetails 获取交易对元数据。
func (g *Gateway) GetPairDetails(ctx context.Context, pair string) (Pair, error) {
	raw, err := g.transport.Public(ctx, "AssetPairs", map[string]string{"pair": pair})
	if err != nil {
		return Pair{}, err
	}

	var result map[string]struct {
		Base          string `json:"base"`
		Quote         string `json:"quote"`
		PairDecimals  int32  `json:"pair_decimals"`
		WebsocketName string `json:"wsname"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return Pair{}, fmt.Errorf("解析 AssetPairs 响应失败: %w", err)
	}

	entry, ok := result[pair]
	if !ok {
		return Pair{}, fmt.Errorf("交易对 %q: %w", pair, ErrPairNotFound)
	}

	baseSymbol, quoteSymbol := entry.Base, entry.Quote
	if parts := strings.SplitN(entry.WebsocketName, "/", 2); len(parts) == 2 {
		baseSymbol, quoteSymbol = parts[0], parts[1]
	}

	return Pair{
		ID:            pair,
		Base:          entry.Base,
		Quote:         entry.Quote,
		BaseSymbol:    baseSymbol,
		QuoteSymbol:   quoteSymbol,
		PriceDecimals: entry.PairDecimals,
	}, nil
}

// PlaceLimitOrder 提交限价买单并返回交易所分配的订单号。
func (g *Gateway) PlaceLimitOrder(ctx context.Context, pair string, volume, price decimal.Decimal) (string, error) {
	params := url.Values{}
	params.Set("pair", pair)
	params.Set("type", "buy")
	params.Set("ordertype", "limit")
	params.Set("price", price.String())
	params.Set("volume", volume.String())

	raw, err := g.transport.Private(ctx, "AddOrder", params)
	if err != nil {
		return "", err
	}

	var result struct {
		TxIDs       []string `json:"txid"`
		Description struct {
			Order string `json:"order"`
		} `json:"descr"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("解析 AddOrder 响应失败: %w", err)
	}
	if len(result.TxIDs) == 0 {
		return "", fmt.Errorf("AddOrder 响应未返回订单号")
	}

	g.logger.Info("交易所已受理订单",
		zap.String("txid", result.TxIDs[0]),
		zap.String("descr", result.Description.Order),
	)

	return result.TxIDs[0], nil
}

// GetOrderInfo 查询指定订单的最新状态，响应缺少该订单号时返回 ErrOrderNotFound。
func (g *Gateway) GetOrderInfo(ctx context.Context, txid string) (Order, error) {
	params := url.Values{}
	params.Set("txid", txid)

	raw, err := g.transport.Private(ctx, "QueryOrders", params)
	if err != nil {
		return Order{}, err
	}

	var result map[string]struct {
		Status         string `json:"status"`
		Volume         string `json:"vol"`
		VolumeExecuted string `json:"vol_exec"`
		Cost           string `json:"cost"`
		Fee            string `json:"fee"`
		Price          string `json:"price"`
		Misc           string `json:"misc"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return Order{}, fmt.Errorf("解析 QueryOrders 响应失败: %w", err)
	}

	entry, ok := result[txid]
	if !ok {
		return Order{}, fmt.Errorf("订单 %q: %w", txid, ErrOrderNotFound)
	}

	order := Order{
		ID:      txid,
		Status:  normalizeStatus(entry.Status),
		Partial: strings.Contains(entry.Misc, "partial"),
	}
	fields := []struct {
		name  string
		value string
		dst   *decimal.Decimal
	}{
		{"vol", entry.Volume, &order.Volume},
		{"vol_exec", entry.VolumeExecuted, &order.VolumeExecuted},
		{"cost", entry.Cost, &order.Cost},
		{"fee", entry.Fee, &order.Fee},
		{"price", entry.Price, &order.Price},
	}
	for _, f := range fields {
		v, err := parseDecimal(f.value, f.name)
		if err != nil {
			return Order{}, err
		}
		*f.dst = v
	}

	return order, nil
}

// CancelOrder 撤销指定订单，返回交易所报告的撤单数量。
func (g *Gateway) CancelOrder(ctx context.Context, txid string) (int64, error) {
	params := url.Values{}
	params.Set("txid", txid)

	raw, err := g.transport.Private(ctx, "CancelOrder", params)
	if err != nil {
		return 0, err
	}

	var result struct {
		Count int64 `json:"count"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("解析 CancelOrder 响应失败: %w", err)
	}

	return result.Count, nil
}

// ListEarnStrategies 按交易所返回顺序列出某资产可用的收益策略。
func (g *Gateway) ListEarnStrategies(ctx context.Context, asset string) ([]Strategy, error) {
	params := url.Values{}
	params.Set("asset", asset)

	raw, err := g.transport.Private(ctx, "Earn/Strategies", params)
	if err != nil {
		return nil, err
	}

	var result struct {
		Items []struct {
			ID    string `json:"id"`
			Asset string `json:"asset"`
		} `json:"items"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("解析 Earn/Strategies 响应失败: %w", err)
	}

	strategies := make([]Strategy, 0, len(result.Items))
	for _, item := range result.Items {
		strategies = append(strategies, Strategy{ID: item.ID, Asset: item.Asset})
	}

	return strategies, nil
}

// AllocateEarn 将指定数量的资产划入收益策略。
func (g *Gateway) AllocateEarn(ctx context.Context, asset string, amount decimal.Decimal, strategyID string) error {
	params := url.Values{}
	params.Set("amount", amount.String())
	params.Set("strategy_id", strategyID)

	if _, err := g.transport.Private(ctx, "Earn/Allocate", params); err != nil {
		return err
	}

	g.logger.Info("已提交收益策略划转",
		zap.String("asset", asset),
		zap.String("amount", amount.String()),
		zap.String("strategy_id", strategyID),
	)

	return nil
}

func normalizeStatus(status string) OrderStatus {
	switch OrderStatus(status) {
	case StatusOpen, StatusClosed, StatusCanceled, StatusExpired, StatusPending:
		return OrderStatus(status)
	default:
		return StatusUnknown
	}
}

func parseDecimal(value, field string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("解析 %s 数值 %q 失败: %w", field, value, err)
	}
	return d, nil
}
