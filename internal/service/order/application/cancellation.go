// internal/service/order/application/cancellation.go
package application

import (
	"context"
	"errors"
	"strings"

	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/pkg/metrics"
	"fulfillment/internal/service/order/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const reasonNotInOrder = "not_in_order"

// CancelOrder 释放订单占用的库存并删除订单记录。
//
// 流程：持有订单级锁；订单不存在直接返回 ERR，不碰库存；
// 并发释放所有行项目；任一失败则把已释放的行项目重新预留回去并保留订单；
// 全部成功后只删除一次订单。
func (s *OrderApplicationService) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "app.CancelOrder", trace.WithAttributes(attribute.String("order.id", req.OrderID)))
	defer span.End()

	items := toDomainItems(req.OrderItems)
	if err := domain.ValidateItems(items); err != nil {
		return fail(err.Error(), nil), nil
	}

	unlock, err := s.locker.Lock(ctx, "order-"+req.OrderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to acquire order lock")
		return nil, err
	}
	defer func() {
		if err := unlock(); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("order", req.OrderID).Msg("failed to release order lock")
		}
	}()

	// 1. 订单必须存在，避免对已取消的订单重复释放库存
	order, err := s.orders.FindByID(ctx, req.OrderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		metrics.Cancellations.WithLabelValues("not_found").Inc()
		logger.Ctx(ctx).Warn().Str("order", req.OrderID).Msg(MsgOrderNotDefined)
		return fail(MsgOrderNotDefined, nil), nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load order")
		return nil, err
	}
	if len(items) == 0 {
		items = order.Items
	} else if excess := exceedingItems(items, order.Items); len(excess) > 0 {
		ids := make([]string, 0, len(excess))
		for _, f := range excess {
			ids = append(ids, f.ProductID)
		}
		metrics.Cancellations.WithLabelValues("failed").Inc()
		logger.Ctx(ctx).Warn().Str("order", order.ID).Strs("products", ids).Msg("cancellation asks for more than the order holds")
		return fail(msgOutOfStockPrefix+strings.Join(ids, ",")+" are not part of the order", excess), nil
	}

	// 2. 扇出释放
	round := summarize(s.fanOut(ctx, opRelease, items, s.ledger.TryRelease))
	if !round.clean() {
		s.reReserve(ctx, order.ID, round.succeeded)
		span.AddEvent("Released items were reserved again; order kept.")
		metrics.Cancellations.WithLabelValues("failed").Inc()

		if round.fault != nil {
			span.RecordError(round.fault)
			span.SetStatus(codes.Error, "ledger fault during release")
			logger.Ctx(ctx).Error().Err(round.fault).Str("order", order.ID).Msg("release round hit a storage fault")
			return nil, round.fault
		}
		msg := msgOutOfStockPrefix + strings.Join(round.failedIDs(), ",") + " could not be released"
		logger.Ctx(ctx).Warn().Str("order", order.ID).Strs("products", round.failedIDs()).Msg("cancellation failed")
		return fail(msg, round.failures), nil
	}
	for range round.succeeded {
		metrics.StockReleases.WithLabelValues("cancel").Inc()
	}

	// 3. 全部释放成功后删除一次
	if err := s.orders.DeleteByID(ctx, order.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete order")
		logger.Ctx(ctx).Error().Err(err).Str("order", order.ID).Msg("failed to delete order after releasing stock")
		s.reReserve(ctx, order.ID, round.succeeded)
		metrics.Cancellations.WithLabelValues("failed").Inc()
		return nil, err
	}

	if err := order.MarkCancelled(s.now()); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order", order.ID).Msg("unexpected order state on cancel")
	}
	metrics.Cancellations.WithLabelValues("cancelled").Inc()
	logger.Ctx(ctx).Info().Str("order", order.ID).Msg("order cancelled")
	return ok(MsgCancelled, NewOrderResponse(order)), nil
}

// exceedingItems 找出请求释放数量超过订单记录数量的商品，按请求顺序返回，每个商品只出现一次。
func exceedingItems(requested, recorded []domain.OrderItem) []ItemFailure {
	held := make(map[string]int, len(recorded))
	for _, it := range recorded {
		held[it.ProductID] += it.Amount
	}
	asked := make(map[string]int, len(requested))
	for _, it := range requested {
		asked[it.ProductID] += it.Amount
	}

	var failures []ItemFailure
	seen := make(map[string]bool)
	for _, it := range requested {
		if seen[it.ProductID] || asked[it.ProductID] <= held[it.ProductID] {
			continue
		}
		seen[it.ProductID] = true
		failures = append(failures, ItemFailure{ProductID: it.ProductID, Reason: reasonNotInOrder})
	}
	return failures
}
