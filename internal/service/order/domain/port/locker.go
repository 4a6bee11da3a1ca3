// internal/service/order/domain/port/locker.go
package port

import "context"

// Locker 提供按 key 互斥的锁，用于保证同一订单的取消流程串行执行。
type Locker interface {
	// Lock 阻塞直到拿到锁或 ctx 结束，返回的 unlock 必须被调用。
	Lock(ctx context.Context, key string) (unlock func() error, err error)
}
