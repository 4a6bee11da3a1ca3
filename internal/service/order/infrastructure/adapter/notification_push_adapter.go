// internal/service/order/infrastructure/adapter/notification_push_adapter.go
package adapter

import (
	"context"
	"encoding/json"

	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/pkg/push"
	"fulfillment/internal/service/order/domain"

	"github.com/pkg/errors"
)

// pushMessage 是推送给浏览器的消息格式
type pushMessage struct {
	Type  string              `json:"type"`
	Order *domain.OrderPlaced `json:"order"`
}

// NotificationPushAdapter 通过 WebSocket Hub 把下单成功的消息推给在线用户。
type NotificationPushAdapter struct {
	hub *push.Hub
}

func NewNotificationPushAdapter(hub *push.Hub) *NotificationPushAdapter {
	return &NotificationPushAdapter{hub: hub}
}

func (a *NotificationPushAdapter) Name() string { return "push" }

// NotifyOrderPlaced 用户不在线不算失败。
func (a *NotificationPushAdapter) NotifyOrderPlaced(ctx context.Context, event *domain.OrderPlaced) error {
	payload, err := json.Marshal(pushMessage{Type: "order_placed", Order: event})
	if err != nil {
		return errors.Wrap(err, "failed to marshal push message")
	}
	err = a.hub.SendToUser(event.UserID, payload)
	if errors.Is(err, push.ErrUserOffline) {
		logger.Ctx(ctx).Debug().Str("user", event.UserID).Msg("user offline, push skipped")
		return nil
	}
	return err
}
