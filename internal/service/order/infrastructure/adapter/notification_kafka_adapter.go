// internal/service/order/infrastructure/adapter/notification_kafka_adapter.go
package adapter

import (
	"context"
	"encoding/json"

	"fulfillment/internal/pkg/mq"
	"fulfillment/internal/service/order/domain"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// NotificationKafkaAdapter 实现了 port.Notifier 接口，把 OrderPlaced 事件写入 Kafka。
type NotificationKafkaAdapter struct {
	writer *kafka.Writer
}

// NewNotificationKafkaAdapter 创建一个新的通知生产者适配器。
func NewNotificationKafkaAdapter(writer *kafka.Writer) *NotificationKafkaAdapter {
	return &NotificationKafkaAdapter{writer: writer}
}

func (a *NotificationKafkaAdapter) Name() string { return "kafka" }

// NotifyOrderPlaced 以用户 ID 作为消息 key，保证同一用户的通知有序。
func (a *NotificationKafkaAdapter) NotifyOrderPlaced(ctx context.Context, event *domain.OrderPlaced) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal order placed event")
	}
	// 调用通用的 mq.ProduceMessage，它会自动处理追踪上下文注入
	if err := mq.ProduceMessage(ctx, a.writer, []byte(event.UserID), eventBytes); err != nil {
		return errors.Wrapf(err, "failed to publish order %s to %s", event.OrderID, a.writer.Topic)
	}
	return nil
}

// Close 关闭底层的Kafka writer。
func (a *NotificationKafkaAdapter) Close() error {
	return a.writer.Close()
}
