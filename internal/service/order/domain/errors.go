// internal/service/order/domain/errors.go
package domain

import "errors"

// 业务规则失败。应用层把它们转换成 ERR 结果，不会作为故障向外抛出。
var (
	ErrProductNotFound       = errors.New("product not found")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrInsufficientCommitted = errors.New("insufficient committed quantity")
	ErrOrderNotFound         = errors.New("order not found")
	ErrInvalidOrder          = errors.New("invalid order")
)
