package interfaces

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fulfillment/internal/service/order/application"

	"github.com/segmentio/kafka-go"
)

type stubCanceller struct {
	got *application.CancelOrderRequest
	res *application.Result
	err error
}

func (s *stubCanceller) CancelOrder(ctx context.Context, req *application.CancelOrderRequest) (*application.Result, error) {
	s.got = req
	return s.res, s.err
}

func TestCancellationConsumer_HandleMessage(t *testing.T) {
	ok := &application.Result{Status: application.StatusOK, Message: application.MsgCancelled}
	notDefined := &application.Result{Status: application.StatusERR, Message: application.MsgOrderNotDefined}

	cases := []struct {
		name    string
		value   string
		stub    *stubCanceller
		wantErr bool
	}{
		{"cancelled", `{"orderId":"o-1","orderItems":[{"productId":"A","amount":2}]}`, &stubCanceller{res: ok}, false},
		{"business failure is not retried", `{"orderId":"o-2"}`, &stubCanceller{res: notDefined}, false},
		{"storage fault", `{"orderId":"o-3"}`, &stubCanceller{err: errors.New("db down")}, true},
		{"malformed", `{"orderId":`, &stubCanceller{res: ok}, true},
		{"missing order id", `{}`, &stubCanceller{res: ok}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &CancellationConsumer{canceller: tc.stub}
			err := c.handleMessage(context.Background(), kafka.Message{Value: []byte(tc.value)})
			if (err != nil) != tc.wantErr {
				t.Fatalf("Expected error=%v, got: %v", tc.wantErr, err)
			}
		})
	}
}

func TestCancellationConsumer_PassesItems(t *testing.T) {
	stub := &stubCanceller{res: &application.Result{Status: application.StatusOK}}
	c := &CancellationConsumer{canceller: stub}
	msg := kafka.Message{Value: []byte(`{"orderId":"o-9","orderItems":[{"productId":"B","amount":3}]}`)}
	if err := c.handleMessage(context.Background(), msg); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if stub.got.OrderID != "o-9" || len(stub.got.OrderItems) != 1 || stub.got.OrderItems[0].Amount != 3 {
		t.Errorf("Unexpected request: %+v", stub.got)
	}
}

// brokenReader 每次读取都失败，模拟 broker 不可用。
type brokenReader struct {
	once    sync.Once
	fetched chan struct{}
}

func (r *brokenReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.once.Do(func() { close(r.fetched) })
	return kafka.Message{}, errors.New("broker unavailable")
}

func (r *brokenReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error { return nil }

func (r *brokenReader) Close() error { return nil }

func TestCancellationConsumer_StopsDuringRetryBackoff(t *testing.T) {
	reader := &brokenReader{fetched: make(chan struct{})}
	c := &CancellationConsumer{reader: reader, canceller: &stubCanceller{}}

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	<-reader.fetched

	start := time.Now()
	cancel()
	if err := c.Stop(); err != nil {
		t.Fatalf("Expected clean stop, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Expected stop without waiting out the retry delay, took %v", elapsed)
	}
}
