package kraken

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// APIError 表示响应信封中 error 列表非空的应用层错误。
// 一次调用的所有错误消息合并为单个失败返回给上层。
type APIError struct {
	Method   string
	Messages []string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kraken %s: %s", e.Method, strings.Join(e.Messages, ", "))
}

// statusError 表示 HTTP 层非 2xx 响应。
type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("kraken http %d: %s", e.code, e.status)
}

// IsRetryable 判断错误是否可在传输层重试。
// 应用层错误（信封 error 列表非空）永远不重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}

	var stErr *statusError
	if errors.As(err, &stErr) {
		return stErr.code >= 500 || stErr.code == 429
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}
