// internal/service/order/interfaces/cancellation_consumer.go
package interfaces

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/pkg/mq"
	"fulfillment/internal/service/order/application"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// messageReader 是 *kafka.Reader 中被用到的部分
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type orderCanceller interface {
	CancelOrder(ctx context.Context, req *application.CancelOrderRequest) (*application.Result, error)
}

// CancellationMessage 是取消请求主题上的消息体（例如支付超时后由上游发出）。
type CancellationMessage struct {
	OrderID    string                         `json:"orderId"`
	OrderItems []application.OrderItemRequest `json:"orderItems,omitempty"`
}

// CancellationConsumer 是一个驱动适配器，它监听Kafka消息并驱动取消流程。
// 存储故障会被转发到死信主题，业务失败 (ERR) 只记录日志。
type CancellationConsumer struct {
	reader    messageReader
	canceller orderCanceller
	dlq       *kafka.Writer // 可为 nil
	wg        sync.WaitGroup
}

func NewCancellationConsumer(reader *kafka.Reader, canceller orderCanceller, dlq *kafka.Writer) *CancellationConsumer {
	return &CancellationConsumer{reader: reader, canceller: canceller, dlq: dlq}
}

// Start 开始监听，直到 ctx 结束。
func (c *CancellationConsumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		logger.Ctx(ctx).Info().Msg("Cancellation consumer started.")
		for {
			// 我们使用FetchMessage而不是ReadMessage，以便更好地控制退出逻辑
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("Cancellation consumer shutting down.")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("could not read message, retrying")
				select { // 避免快速失败循环
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}

			msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
			if err := c.handleMessage(msgCtx, msg); err != nil {
				c.deadLetter(msgCtx, msg, err)
			}

			// 无论成功或失败（已移交死信），都提交Offset
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("Failed to commit messages")
			}
		}
	}()
}

// Stop 等待消费循环退出，调用前应先取消 Start 的 ctx。
func (c *CancellationConsumer) Stop() error {
	err := c.reader.Close()
	c.wg.Wait()
	return err
}

func (c *CancellationConsumer) handleMessage(ctx context.Context, msg kafka.Message) error {
	var m CancellationMessage
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		return errors.Wrap(err, "decode cancellation message")
	}
	if m.OrderID == "" {
		return errors.New("cancellation message without orderId")
	}

	res, err := c.canceller.CancelOrder(ctx, &application.CancelOrderRequest{OrderID: m.OrderID, OrderItems: m.OrderItems})
	if err != nil {
		return err
	}
	if res.Status != application.StatusOK {
		logger.Ctx(ctx).Warn().Str("order", m.OrderID).Msgf("cancellation rejected: %s", res.Message)
		return nil
	}
	logger.Ctx(ctx).Info().Str("order", m.OrderID).Msg("order cancelled from queue")
	return nil
}

func (c *CancellationConsumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) {
	logger.Ctx(ctx).Error().Err(cause).Int64("offset", msg.Offset).Msg("cancellation message failed")
	if c.dlq == nil {
		return
	}
	headers := append([]kafka.Header{}, msg.Headers...)
	headers = append(headers, kafka.Header{Key: "x-error", Value: []byte(cause.Error())})
	dlqMsg := kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers}
	if err := c.dlq.WriteMessages(ctx, dlqMsg); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to forward message to dead letter topic")
	}
}
