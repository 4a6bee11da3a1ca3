// internal/service/order/application/service.go
package application

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/pkg/metrics"
	"fulfillment/internal/pkg/tracing"
	"fulfillment/internal/service/order/domain"
	"fulfillment/internal/service/order/domain/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	MsgOrderPlaced      = "Order placed successfully"
	MsgOrderNotDefined  = "The order is not defined"
	MsgProductNotFound  = "The product is not defined"
	MsgFound            = "SUCCESS"
	MsgListedAll        = "Success"
	MsgCancelled        = "success"
	MsgAdmissionDenied  = "Order rejected by admission policy"
	MsgStockSeeded      = "Stock updated"
	msgOutOfStockPrefix = "Products with ID: "
)

// PartialFailurePolicy 决定一轮预留部分失败时，已成功的行项目如何处理。
type PartialFailurePolicy string

const (
	// PolicyRelease 整轮视为一个单元：失败时释放本轮已预留的行项目。
	PolicyRelease PartialFailurePolicy = "release"
	// PolicyRetain 保留已预留的行项目，由调用方负责补偿。
	PolicyRetain PartialFailurePolicy = "retain"
)

// OrderApplicationService 编排库存账本与订单存储，本身不持有业务状态。
type OrderApplicationService struct {
	ledger domain.StockLedger
	orders domain.OrderRepository
	tracer trace.Tracer

	policy              PartialFailurePolicy
	fanoutLimit         int
	notificationTimeout time.Duration
	compensationTimeout time.Duration
	admission           port.AdmissionPolicy
	notifiers           []port.Notifier
	locker              port.Locker
	now                 func() time.Time
	newID               func() string

	inflight sync.WaitGroup
}

type Option func(*OrderApplicationService)

func WithPartialFailurePolicy(p PartialFailurePolicy) Option {
	return func(s *OrderApplicationService) { s.policy = p }
}

func WithFanoutLimit(n int) Option {
	return func(s *OrderApplicationService) {
		if n > 0 {
			s.fanoutLimit = n
		}
	}
}

func WithNotificationTimeout(d time.Duration) Option {
	return func(s *OrderApplicationService) { s.notificationTimeout = d }
}

func WithAdmissionPolicy(p port.AdmissionPolicy) Option {
	return func(s *OrderApplicationService) { s.admission = p }
}

func WithNotifiers(n ...port.Notifier) Option {
	return func(s *OrderApplicationService) { s.notifiers = append(s.notifiers, n...) }
}

func WithLocker(l port.Locker) Option {
	return func(s *OrderApplicationService) { s.locker = l }
}

// WithClock 和 WithIDGenerator 主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(s *OrderApplicationService) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *OrderApplicationService) { s.newID = newID }
}

func NewOrderApplicationService(ledger domain.StockLedger, orders domain.OrderRepository, tracer trace.Tracer, opts ...Option) *OrderApplicationService {
	s := &OrderApplicationService{
		ledger:              ledger,
		orders:              orders,
		tracer:              tracer,
		policy:              PolicyRelease,
		fanoutLimit:         16,
		notificationTimeout: 5 * time.Second,
		compensationTimeout: 10 * time.Second,
		locker:              noopLocker{},
		now:                 time.Now,
		newID:               func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder 为每个行项目并发预留库存，全部成功后才持久化订单。
func (s *OrderApplicationService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "app.CreateOrder")
	defer span.End()

	order := req.ToOrder(s.newID())
	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("user.id", order.UserID),
		attribute.Int("order.items", len(order.Items)),
		attribute.String("order.partial_failure_policy", string(s.policy)),
	)

	if err := order.Validate(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order", order.ID).Msg("rejecting invalid order")
		return fail(err.Error(), nil), nil
	}

	// 1. 准入策略在任何预留之前执行
	if s.admission != nil {
		admitted, err := s.admission.Admit(ctx, order)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "admission policy evaluation failed")
			return nil, err
		}
		if !admitted {
			span.AddEvent("Order rejected by admission policy.")
			logger.Ctx(ctx).Warn().Str("order", order.ID).Str("user", order.UserID).Msg(MsgAdmissionDenied)
			return fail(MsgAdmissionDenied, nil), nil
		}
	}

	// 2. 扇出预留，等待全部完成
	round := summarize(s.fanOut(ctx, opReserve, order.Items, s.ledger.TryReserve))
	for _, f := range round.failures {
		metrics.ReservationFailures.WithLabelValues(f.Reason).Inc()
	}

	if !round.clean() {
		if s.policy == PolicyRelease {
			s.releaseReserved(ctx, order.ID, round.succeeded)
			span.AddEvent("Reserved items of the failed round were released.")
		}
		if round.fault != nil {
			span.RecordError(round.fault)
			span.SetStatus(codes.Error, "ledger fault during reservation")
			logger.Ctx(ctx).Error().Err(round.fault).Str("order", order.ID).Msg("reservation round hit a storage fault")
			return nil, round.fault
		}
		msg := msgOutOfStockPrefix + strings.Join(round.failedIDs(), ",") + " are out of stock"
		span.SetAttributes(attribute.StringSlice("order.failed_products", round.failedIDs()))
		logger.Ctx(ctx).Warn().Str("order", order.ID).Strs("products", round.failedIDs()).Msg("reservation round failed")
		return fail(msg, round.failures), nil
	}
	span.AddEvent("All line items reserved.")

	// 3. 提交订单
	if err := order.MarkCommitted(s.now()); err != nil {
		return nil, err
	}
	if err := s.orders.Create(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist order")
		logger.Ctx(ctx).Error().Err(err).Str("order", order.ID).Msg("failed to persist order after reservation")
		if s.policy == PolicyRelease {
			s.releaseReserved(ctx, order.ID, order.Items)
		}
		return nil, err
	}

	metrics.OrdersCreated.Inc()
	logger.Ctx(ctx).Info().Str("order", order.ID).Str("user", order.UserID).Msg("order committed")

	// 4. 尽力而为的通知，不影响下单结果
	s.notifyAsync(ctx, domain.NewOrderPlaced(order, req.Email))

	return ok(MsgOrderPlaced, NewOrderResponse(order)), nil
}

// GetOrder 按 ID 查询，不存在时返回 ERR 而不是故障。
func (s *OrderApplicationService) GetOrder(ctx context.Context, orderID string) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	order, err := s.orders.FindByID(ctx, orderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		logger.Ctx(ctx).Warn().Str("order", orderID).Msg(MsgOrderNotDefined)
		return fail(MsgOrderNotDefined, nil), nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load order")
		return nil, err
	}
	return ok(MsgFound, NewOrderResponse(order)), nil
}

// GetOrdersByUser 返回某个用户的全部订单，按创建时间倒序。
func (s *OrderApplicationService) GetOrdersByUser(ctx context.Context, userID string) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetOrdersByUser", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	orders, err := s.orders.FindByUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list orders by user")
		return nil, err
	}
	return ok(MsgFound, newOrderResponses(orders)), nil
}

// GetAllOrders 返回全部订单，顺序与 GetOrdersByUser 相同。
func (s *OrderApplicationService) GetAllOrders(ctx context.Context) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetAllOrders")
	defer span.End()

	orders, err := s.orders.FindAll(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list orders")
		return nil, err
	}
	return ok(MsgListedAll, newOrderResponses(orders)), nil
}

// SeedStock 直接写入库存计数，只用于初始化。
func (s *OrderApplicationService) SeedStock(ctx context.Context, req *StockRequest) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "app.SeedStock", trace.WithAttributes(attribute.String("product.id", req.ProductID)))
	defer span.End()

	if req.ProductID == "" || req.CountInStock < 0 || req.Selled < 0 {
		return fail("productId is required and counts must be non-negative", nil), nil
	}
	entry := domain.StockEntry{ProductID: req.ProductID, CountInStock: req.CountInStock, Selled: req.Selled}
	if err := s.ledger.SeedStock(ctx, entry); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to seed stock")
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("product", entry.ProductID).Int("countInStock", entry.CountInStock).Int("selled", entry.Selled).Msg("stock seeded")
	return ok(MsgStockSeeded, entry), nil
}

// GetStock 读取某个商品当前的计数。
func (s *OrderApplicationService) GetStock(ctx context.Context, productID string) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetStock", trace.WithAttributes(attribute.String("product.id", productID)))
	defer span.End()

	entry, err := s.ledger.GetStock(ctx, productID)
	if errors.Is(err, domain.ErrProductNotFound) {
		return fail(MsgProductNotFound, nil), nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read stock")
		return nil, err
	}
	return ok(MsgFound, entry), nil
}

// notifyAsync 在提交之后于后台发送通知。
// 使用脱离请求生命周期、但保留链路信息的 context，并受 notificationTimeout 约束。
func (s *OrderApplicationService) notifyAsync(ctx context.Context, event *domain.OrderPlaced) {
	if len(s.notifiers) == 0 {
		return
	}
	bgCtx := tracing.Detach(ctx)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		notifyCtx, cancel := context.WithTimeout(bgCtx, s.notificationTimeout)
		defer cancel()
		notifyCtx, span := s.tracer.Start(notifyCtx, "app.NotifyOrderPlaced", trace.WithAttributes(attribute.String("order.id", event.OrderID)))
		defer span.End()

		for _, n := range s.notifiers {
			if err := n.NotifyOrderPlaced(notifyCtx, event); err != nil {
				metrics.NotificationFailures.Inc()
				span.RecordError(err, trace.WithAttributes(attribute.String("notifier", n.Name())))
				logger.Ctx(notifyCtx).Error().Err(err).
					Str("order", event.OrderID).
					Str("notifier", n.Name()).
					Msg("WARN: failed to publish order notification")
			}
		}
	}()
}

// Wait 等待所有进行中的后台通知结束，服务关停时调用。
func (s *OrderApplicationService) Wait() {
	s.inflight.Wait()
}

type noopLocker struct{}

func (noopLocker) Lock(context.Context, string) (func() error, error) {
	return func() error { return nil }, nil
}
