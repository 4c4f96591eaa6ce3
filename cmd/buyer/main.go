package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kraken-dca/internal/config"
	"kraken-dca/internal/exchange"
	"kraken-dca/internal/kraken"
	"kraken-dca/internal/log"
	"kraken-dca/internal/purchase"
)

// 示例：buyer -pair XXBTZEUR -fiat 70
//       buyer -pair XETHZEUR -fiat 30
func main() {
	var (
		configPath string
		pairID     string
		fiatArg    string
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.StringVar(&pairID, "pair", "", "交易对，例如 XXBTZEUR（BTC/EUR）或 XETHZEUR（ETH/EUR）")
	flag.StringVar(&fiatArg, "fiat", "", "投入的法币金额")
	flag.Parse()

	if pairID == "" || fiatArg == "" {
		fmt.Fprintln(os.Stderr, "用法: buyer -pair XXBTZEUR -fiat 70")
		os.Exit(1)
	}

	fiatToSpend, err := decimal.NewFromString(fiatArg)
	if err != nil || fiatToSpend.Sign() <= 0 {
		fmt.Fprintf(os.Stderr, "无效的法币金额 %q\n", fiatArg)
		os.Exit(1)
	}

	// 本地 .env 仅作为开发环境的凭证来源，文件不存在时忽略。
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	client, err := kraken.NewClient(cfg.Kraken, logger)
	if err != nil {
		logger.Error("初始化交易所客户端失败", zap.Error(err))
		os.Exit(1)
	}

	gateway := exchange.NewGateway(client, logger)
	orch := purchase.NewOrchestrator(gateway, purchase.NewRealClock(), purchase.Options{
		SettleDelay:  cfg.Purchase.SettleDelay,
		PollInterval: cfg.Purchase.PollInterval,
		OrderTimeout: cfg.Purchase.OrderTimeout,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := orch.Execute(ctx, pairID, fiatToSpend)
	if err != nil {
		var balanceErr *purchase.InsufficientBalanceError
		if errors.As(err, &balanceErr) {
			logger.Error("余额不足，购买中止", zap.Error(err))
		} else {
			logger.Error("购买流程失败", zap.Error(err))
		}
		os.Exit(1)
	}

	logger.Info("购买流程结束",
		zap.String("outcome", string(report.Outcome)),
		zap.String("txid", report.OrderID),
		zap.String("status", string(report.FinalStatus)),
		zap.String("staking", string(report.Staking)),
	)
}
