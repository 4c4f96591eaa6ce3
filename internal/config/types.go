package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Kraken   KrakenConfig   `mapstructure:"kraken"`
	Purchase PurchaseConfig `mapstructure:"purchase"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// KrakenConfig 描述交易所连接与鉴权信息。
// KeyFile 指向两行格式的密钥文件（第一行 key，第二行 secret），
// 文件不存在时回退到 APIKey/APISecret（通常由环境变量 KRAKEN_API_KEY / KRAKEN_API_SECRET 注入）。
type KrakenConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	KeyFile   string        `mapstructure:"key_file"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Retry     RetryConfig   `mapstructure:"retry"`
}

// RetryConfig 统一控制传输层重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// PurchaseConfig 控制订单生命周期的节奏。
type PurchaseConfig struct {
	SettleDelay  time.Duration `mapstructure:"settle_delay"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	OrderTimeout time.Duration `mapstructure:"order_timeout"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Kraken.BaseURL == "" {
		err = multierr.Append(err, errors.New("kraken.base_url 不能为空"))
	}
	if c.Kraken.Timeout <= 0 {
		err = multierr.Append(err, errors.New("kraken.timeout 必须大于0"))
	}
	if c.Kraken.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("kraken.retry.max_attempts 必须大于0"))
	}
	if c.Kraken.Retry.MinDelay <= 0 || c.Kraken.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("kraken.retry.delay 必须为正"))
	}
	if c.Kraken.Retry.MinDelay > c.Kraken.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("kraken.retry.min_delay 不能大于 max_delay"))
	}
	if c.Purchase.SettleDelay < 0 {
		err = multierr.Append(err, errors.New("purchase.settle_delay 不能为负"))
	}
	if c.Purchase.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("purchase.poll_interval 必须大于0"))
	}
	if c.Purchase.OrderTimeout <= 0 {
		err = multierr.Append(err, errors.New("purchase.order_timeout 必须大于0"))
	}
	if c.Purchase.OrderTimeout < c.Purchase.PollInterval {
		err = multierr.Append(err, errors.New("purchase.order_timeout 不应小于 poll_interval"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
