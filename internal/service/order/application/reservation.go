// internal/service/order/application/reservation.go
package application

import (
	"context"
	"errors"
	"time"

	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/pkg/metrics"
	"fulfillment/internal/pkg/tracing"
	"fulfillment/internal/service/order/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	opReserve = "ledger.TryReserve"
	opRelease = "ledger.TryRelease"
)

type ledgerOp func(ctx context.Context, productID string, amount int) (*domain.StockEntry, error)

// itemOutcome 是单个行项目在一轮扇出中的结果，只在本轮内存在。
type itemOutcome struct {
	item  domain.OrderItem
	entry *domain.StockEntry
	err   error
}

// roundSummary 汇总一轮扇出：成功的行项目、业务失败、以及存储故障。
type roundSummary struct {
	succeeded []domain.OrderItem
	failures  []ItemFailure
	fault     error
}

func (r roundSummary) clean() bool {
	return r.fault == nil && len(r.failures) == 0
}

func (r roundSummary) failedIDs() []string {
	ids := make([]string, 0, len(r.failures))
	for _, f := range r.failures {
		ids = append(ids, f.ProductID)
	}
	return ids
}

// fanOut 对每个行项目并发调用 op，并发数受 fanoutLimit 限制。
// 不会因为某一项失败而提前取消其他项，等待全部完成后按输入顺序返回。
func (s *OrderApplicationService) fanOut(ctx context.Context, op string, items []domain.OrderItem, call ledgerOp) []itemOutcome {
	outcomes := make([]itemOutcome, len(items))

	var g errgroup.Group
	g.SetLimit(s.fanoutLimit)
	for i, item := range items {
		g.Go(func() error {
			itemCtx, span := s.tracer.Start(ctx, op, trace.WithAttributes(
				attribute.String("product.id", item.ProductID),
				attribute.Int("item.amount", item.Amount),
			))
			defer span.End()

			start := time.Now()
			entry, err := call(itemCtx, item.ProductID, item.Amount)
			metrics.LedgerLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

			if err != nil {
				span.RecordError(err)
				if !isBusinessFailure(err) {
					span.SetStatus(codes.Error, "ledger fault")
				}
			}
			outcomes[i] = itemOutcome{item: item, entry: entry, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func summarize(outcomes []itemOutcome) roundSummary {
	var sum roundSummary
	var faults []error
	for _, o := range outcomes {
		switch {
		case o.err == nil:
			sum.succeeded = append(sum.succeeded, o.item)
		case isBusinessFailure(o.err):
			sum.failures = append(sum.failures, ItemFailure{ProductID: o.item.ProductID, Reason: failureReason(o.err)})
		default:
			faults = append(faults, o.err)
		}
	}
	sum.fault = errors.Join(faults...)
	return sum
}

func isBusinessFailure(err error) bool {
	return errors.Is(err, domain.ErrProductNotFound) ||
		errors.Is(err, domain.ErrInsufficientStock) ||
		errors.Is(err, domain.ErrInsufficientCommitted)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrProductNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrInsufficientCommitted):
		return "insufficient_committed"
	default:
		return "fault"
	}
}

// compensationContext 补偿操作不能因为调用方断开而中途放弃。
func (s *OrderApplicationService) compensationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(tracing.Detach(ctx), s.compensationTimeout)
}

// releaseReserved 把本轮已预留的行项目放回库存，用于整轮回滚。
func (s *OrderApplicationService) releaseReserved(ctx context.Context, orderID string, items []domain.OrderItem) {
	if len(items) == 0 {
		return
	}
	ctx, cancel := s.compensationContext(ctx)
	defer cancel()

	for _, o := range s.fanOut(ctx, opRelease, items, s.ledger.TryRelease) {
		if o.err != nil {
			logger.Ctx(ctx).Error().Err(o.err).
				Bool("critical", true).
				Str("order", orderID).
				Str("product", o.item.ProductID).
				Int("amount", o.item.Amount).
				Msg("failed to release stock of aborted reservation round")
			continue
		}
		metrics.StockReleases.WithLabelValues("abort").Inc()
	}
}

// reReserve 在取消失败时把已经释放的行项目重新预留回去，让订单与库存保持一致。
func (s *OrderApplicationService) reReserve(ctx context.Context, orderID string, items []domain.OrderItem) {
	if len(items) == 0 {
		return
	}
	ctx, cancel := s.compensationContext(ctx)
	defer cancel()

	for _, o := range s.fanOut(ctx, opReserve, items, s.ledger.TryReserve) {
		if o.err != nil {
			logger.Ctx(ctx).Error().Err(o.err).
				Bool("critical", true).
				Str("order", orderID).
				Str("product", o.item.ProductID).
				Int("amount", o.item.Amount).
				Msg("failed to restore committed stock after aborted cancellation")
		}
	}
}
