package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"kraken-dca/internal/config"
)

// envelope 为 Kraken REST 响应信封：error 列表为空即成功。
type envelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// Client 负责与 Kraken REST API 交互并实现传输层重试机制。
// 公有与私有两类端点共用同一信封格式，私有端点额外携带 nonce 与 HMAC 签名。
type Client struct {
	cfg    config.KrakenConfig
	http   *resty.Client
	logger *zap.Logger

	key    string
	secret string

	nonceMu   sync.Mutex
	lastNonce int64
}

// NewClient 构造 Kraken 客户端并解析鉴权凭证。
// 优先读取配置指定的密钥文件，文件不存在时回退到配置/环境变量注入的 key 与 secret。
func NewClient(cfg config.KrakenConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	key, secret := cfg.APIKey, cfg.APISecret
	if cfg.KeyFile != "" {
		if _, err := os.Stat(cfg.KeyFile); err == nil {
			fileKey, fileSecret, err := LoadKeyFile(cfg.KeyFile)
			if err != nil {
				return nil, err
			}
			key, secret = fileKey, fileSecret
			logger.Info("已从密钥文件加载凭证", zap.String("path", cfg.KeyFile))
		}
	}
	if key == "" || secret == "" {
		return nil, fmt.Errorf("未配置 Kraken API 凭证：需要密钥文件 %q 或 KRAKEN_API_KEY/KRAKEN_API_SECRET", cfg.KeyFile)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", "kraken-dca/1.0")

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger,
		key:    key,
		secret: secret,
	}, nil
}

// Public 调用公有端点 /0/public/<method>。
func (c *Client) Public(ctx context.Context, method string, params map[string]string) (json.RawMessage, error) {
	var result json.RawMessage

	err := c.callWithRetry(ctx, "public_"+method, func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			Get("/0/public/" + method)
		if err != nil {
			return err
		}
		return c.decodeEnvelope(method, resp, &result)
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Private 调用私有端点 /0/private/<method>。
// nonce 与签名在每次尝试时重新生成，重试不会复用过期 nonce。
func (c *Client) Private(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	path := "/0/private/" + method
	var result json.RawMessage

	err := c.callWithRetry(ctx, "private_"+method, func() error {
		form := url.Values{}
		for k, vs := range params {
			for _, v := range vs {
				form.Add(k, v)
			}
		}
		nonce := strconv.FormatInt(c.nextNonce(), 10)
		form.Set("nonce", nonce)
		body := form.Encode()

		sig, err := signRequest(c.secret, path, nonce, body)
		if err != nil {
			return err
		}

		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("API-Key", c.key).
			SetHeader("API-Sign", sig).
			SetHeader("Content-Type", "application/x-www-form-urlencoded").
			SetBody(body).
			Post(path)
		if err != nil {
			return err
		}
		return c.decodeEnvelope(method, resp, &result)
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (c *Client) decodeEnvelope(method string, resp *resty.Response, out *json.RawMessage) error {
	if resp.StatusCode() >= 400 {
		return &statusError{code: resp.StatusCode(), status: resp.Status()}
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("解析响应信封失败: %w", err)
	}
	if len(env.Error) > 0 {
		return &APIError{Method: method, Messages: env.Error}
	}

	*out = env.Result
	return nil
}

// nextNonce 返回严格递增的毫秒级 nonce。
func (c *Client) nextNonce() int64 {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	nonce := time.Now().UnixMilli()
	if nonce <= c.lastNonce {
		nonce = c.lastNonce + 1
	}
	c.lastNonce = nonce
	return nonce
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		if !IsRetryable(err) || attempt >= maxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(err),
			)
			return err
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
