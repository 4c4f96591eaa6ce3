package exchange

import "errors"

var (
	// ErrPairNotFound 表示元数据响应中不包含请求的交易对。
	ErrPairNotFound = errors.New("exchange: pair not found")
	// ErrOrderNotFound 表示查询响应中不包含请求的订单号。
	ErrOrderNotFound = errors.New("exchange: order not found")
)
