// internal/service/order/domain/port/notifier.go
package port

import (
	"context"

	"fulfillment/internal/service/order/domain"
)

// Notifier 订单提交后的尽力而为通知。失败只会被记录，不影响下单结果。
type Notifier interface {
	Name() string
	NotifyOrderPlaced(ctx context.Context, event *domain.OrderPlaced) error
}
