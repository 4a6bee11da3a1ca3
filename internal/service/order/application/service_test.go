package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fulfillment/internal/service/order/domain"
	"fulfillment/internal/service/order/infrastructure"
	"fulfillment/internal/service/order/infrastructure/adapter"

	"go.opentelemetry.io/otel/trace/noop"
)

var errConnReset = errors.New("connection reset by peer")

// faultyLedger 对指定商品的预留返回存储故障
type faultyLedger struct {
	*infrastructure.MemoryStockLedger
	faultOn string
}

func (l *faultyLedger) TryReserve(ctx context.Context, productID string, amount int) (*domain.StockEntry, error) {
	if productID == l.faultOn {
		return nil, errConnReset
	}
	return l.MemoryStockLedger.TryReserve(ctx, productID, amount)
}

// countingRepository 记录删除次数，并可以让 Create 失败
type countingRepository struct {
	*infrastructure.MemoryOrderRepository
	deletes    atomic.Int32
	failCreate bool
}

func (r *countingRepository) Create(ctx context.Context, order *domain.Order) error {
	if r.failCreate {
		return errConnReset
	}
	return r.MemoryOrderRepository.Create(ctx, order)
}

func (r *countingRepository) DeleteByID(ctx context.Context, id string) error {
	r.deletes.Add(1)
	return r.MemoryOrderRepository.DeleteByID(ctx, id)
}

type fixture struct {
	svc    *OrderApplicationService
	ledger *infrastructure.MemoryStockLedger
	repo   *countingRepository
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ledger := infrastructure.NewMemoryStockLedger()
	repo := &countingRepository{MemoryOrderRepository: infrastructure.NewMemoryOrderRepository()}
	return newFixtureWith(t, ledger, ledger, repo, opts...)
}

func newFixtureWith(t *testing.T, mem *infrastructure.MemoryStockLedger, ledger domain.StockLedger, repo *countingRepository, opts ...Option) *fixture {
	t.Helper()
	opts = append([]Option{WithLocker(adapter.NewMemoryLocker()), WithClock(steppingClock())}, opts...)
	svc := NewOrderApplicationService(ledger, repo, noop.NewTracerProvider().Tracer("test"), opts...)
	return &fixture{svc: svc, ledger: mem, repo: repo}
}

// steppingClock 每次调用前进一秒，保证创建时间严格递增。
func steppingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func (f *fixture) seed(t *testing.T, productID string, count, selled int) {
	t.Helper()
	if err := f.ledger.SeedStock(context.Background(), domain.StockEntry{ProductID: productID, CountInStock: count, Selled: selled}); err != nil {
		t.Fatalf("seed %s: %v", productID, err)
	}
}

func (f *fixture) stock(t *testing.T, productID string) *domain.StockEntry {
	t.Helper()
	entry, err := f.ledger.GetStock(context.Background(), productID)
	if err != nil {
		t.Fatalf("get stock %s: %v", productID, err)
	}
	return entry
}

func newRequest(user string, items ...OrderItemRequest) *CreateOrderRequest {
	return &CreateOrderRequest{
		OrderItems:    items,
		PaymentMethod: "later_money",
		ItemsPrice:    100,
		ShippingPrice: 10,
		TotalPrice:    110,
		FullName:      "Nguyen Van A",
		Address:       "12 Le Loi",
		City:          "Da Nang",
		Phone:         "0901234567",
		User:          user,
		Email:         "a@example.com",
	}
}

func item(productID string, amount int) OrderItemRequest {
	return OrderItemRequest{ProductID: productID, Amount: amount}
}

func mustCreate(t *testing.T, f *fixture, req *CreateOrderRequest) *OrderResponse {
	t.Helper()
	res, err := f.svc.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateOrder returned fault: %v", err)
	}
	if res.Status != StatusOK {
		t.Fatalf("Expected OK, got %s: %s", res.Status, res.Message)
	}
	return res.Data.(*OrderResponse)
}

func TestCreateAndCancel_EndToEnd(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "A", 10, 0)
	ctx := context.Background()

	order := mustCreate(t, f, newRequest("u1", item("A", 4)))
	if s := f.stock(t, "A"); s.CountInStock != 6 || s.Selled != 4 {
		t.Fatalf("Expected A at 6/4 after create, got %d/%d", s.CountInStock, s.Selled)
	}
	if order.State != domain.StateCommitted {
		t.Errorf("Expected committed order, got %s", order.State)
	}

	res, err := f.svc.CancelOrder(ctx, &CancelOrderRequest{OrderID: order.ID, OrderItems: []OrderItemRequest{item("A", 4)}})
	if err != nil {
		t.Fatalf("CancelOrder returned fault: %v", err)
	}
	if res.Status != StatusOK || res.Message != MsgCancelled {
		t.Fatalf("Expected OK/%q, got %s/%q", MsgCancelled, res.Status, res.Message)
	}
	if s := f.stock(t, "A"); s.CountInStock != 10 || s.Selled != 0 {
		t.Errorf("Expected A back at 10/0, got %d/%d", s.CountInStock, s.Selled)
	}

	got, _ := f.svc.GetOrder(ctx, order.ID)
	if got.Status != StatusERR || got.Message != MsgOrderNotDefined {
		t.Errorf("Expected cancelled order to be gone, got %s/%q", got.Status, got.Message)
	}
	if n := f.repo.deletes.Load(); n != 1 {
		t.Errorf("Expected exactly one delete, got %d", n)
	}
}

func TestCreateOrder_RetainPolicyLeavesTrialReservation(t *testing.T) {
	f := newFixture(t, WithPartialFailurePolicy(PolicyRetain))
	f.seed(t, "P1", 2, 0)
	f.seed(t, "P2", 10, 0)

	res, err := f.svc.CreateOrder(context.Background(), newRequest("u1", item("P1", 5), item("P2", 3)))
	if err != nil {
		t.Fatalf("Expected no fault, got: %v", err)
	}
	if res.Status != StatusERR {
		t.Fatalf("Expected ERR, got %s", res.Status)
	}
	if want := "Products with ID: P1 are out of stock"; res.Message != want {
		t.Errorf("Expected message %q, got %q", want, res.Message)
	}
	failures := res.Data.([]ItemFailure)
	if len(failures) != 1 || failures[0].ProductID != "P1" || failures[0].Reason != "insufficient_stock" {
		t.Errorf("Expected only P1 to fail, got %+v", failures)
	}

	if s := f.stock(t, "P1"); s.CountInStock != 2 || s.Selled != 0 {
		t.Errorf("Expected P1 untouched, got %d/%d", s.CountInStock, s.Selled)
	}
	if s := f.stock(t, "P2"); s.CountInStock != 7 || s.Selled != 3 {
		t.Errorf("Expected P2 left decremented at 7/3, got %d/%d", s.CountInStock, s.Selled)
	}
	all, _ := f.repo.FindAll(context.Background())
	if len(all) != 0 {
		t.Errorf("Expected no order to be persisted, got %d", len(all))
	}
}

func TestCreateOrder_ReleasePolicyRollsBackRound(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "P1", 2, 0)
	f.seed(t, "P2", 10, 0)

	res, err := f.svc.CreateOrder(context.Background(), newRequest("u1", item("P1", 5), item("P2", 3), item("P3", 1)))
	if err != nil {
		t.Fatalf("Expected no fault, got: %v", err)
	}
	if res.Status != StatusERR {
		t.Fatalf("Expected ERR, got %s", res.Status)
	}
	if want := "Products with ID: P1,P3 are out of stock"; res.Message != want {
		t.Errorf("Expected message %q, got %q", want, res.Message)
	}
	if s := f.stock(t, "P2"); s.CountInStock != 10 || s.Selled != 0 {
		t.Errorf("Expected P2 released back to 10/0, got %d/%d", s.CountInStock, s.Selled)
	}
}

func TestCreateOrder_StorageFaultPropagates(t *testing.T) {
	mem := infrastructure.NewMemoryStockLedger()
	repo := &countingRepository{MemoryOrderRepository: infrastructure.NewMemoryOrderRepository()}
	f := newFixtureWith(t, mem, &faultyLedger{MemoryStockLedger: mem, faultOn: "B"}, repo)
	f.seed(t, "A", 5, 0)
	f.seed(t, "B", 5, 0)

	res, err := f.svc.CreateOrder(context.Background(), newRequest("u1", item("A", 1), item("B", 1)))
	if !errors.Is(err, errConnReset) {
		t.Fatalf("Expected storage fault, got res=%+v err=%v", res, err)
	}
	if res != nil {
		t.Errorf("Expected nil result alongside fault, got %+v", res)
	}
	if s := f.stock(t, "A"); s.CountInStock != 5 || s.Selled != 0 {
		t.Errorf("Expected A released after fault, got %d/%d", s.CountInStock, s.Selled)
	}
}

func TestCreateOrder_PersistFailureReleasesStock(t *testing.T) {
	f := newFixture(t)
	f.repo.failCreate = true
	f.seed(t, "A", 5, 0)

	if _, err := f.svc.CreateOrder(context.Background(), newRequest("u1", item("A", 2))); !errors.Is(err, errConnReset) {
		t.Fatalf("Expected persist fault, got: %v", err)
	}
	if s := f.stock(t, "A"); s.CountInStock != 5 || s.Selled != 0 {
		t.Errorf("Expected A released after persist failure, got %d/%d", s.CountInStock, s.Selled)
	}
}

func TestCreateOrder_InvalidRequest(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "A", 5, 0)

	cases := map[string]*CreateOrderRequest{
		"no items":        newRequest("u1"),
		"zero amount":     newRequest("u1", item("A", 0)),
		"negative amount": newRequest("u1", item("A", -3)),
	}
	missingCity := newRequest("u1", item("A", 1))
	missingCity.City = ""
	cases["missing city"] = missingCity

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := f.svc.CreateOrder(context.Background(), req)
			if err != nil {
				t.Fatalf("Expected no fault, got: %v", err)
			}
			if res.Status != StatusERR {
				t.Errorf("Expected ERR, got %s", res.Status)
			}
		})
	}
	if s := f.stock(t, "A"); s.CountInStock != 5 {
		t.Errorf("Expected stock untouched, got %d", s.CountInStock)
	}
}

func TestCreateOrder_ConcurrentOrdersNeverOversell(t *testing.T) {
	f := newFixture(t, WithFanoutLimit(4))
	f.seed(t, "A", 30, 0)
	f.seed(t, "B", 40, 0)

	var (
		wg      sync.WaitGroup
		success atomic.Int32
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.CreateOrder(context.Background(), newRequest(fmt.Sprintf("u%d", i), item("A", 1), item("B", 2)))
			if err != nil {
				t.Errorf("unexpected fault: %v", err)
				return
			}
			if res.Status == StatusOK {
				success.Add(1)
			}
		}(i)
	}
	wg.Wait()

	n := int(success.Load())
	a, b := f.stock(t, "A"), f.stock(t, "B")
	if a.CountInStock < 0 || b.CountInStock < 0 {
		t.Fatalf("stock went negative: A=%d B=%d", a.CountInStock, b.CountInStock)
	}
	if a.Selled != n || b.Selled != 2*n {
		t.Errorf("Expected selled to match %d committed orders, got A=%d B=%d", n, a.Selled, b.Selled)
	}
	if a.CountInStock+a.Selled != 30 || b.CountInStock+b.Selled != 40 {
		t.Errorf("Expected totals preserved, got A=%d+%d B=%d+%d", a.CountInStock, a.Selled, b.CountInStock, b.Selled)
	}
	all, _ := f.repo.FindAll(context.Background())
	if len(all) != n {
		t.Errorf("Expected %d persisted orders, got %d", n, len(all))
	}
}

func TestGetOrder_NotDefined(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.GetOrder(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Expected no fault, got: %v", err)
	}
	if res.Status != StatusERR || res.Message != MsgOrderNotDefined || res.Data != nil {
		t.Errorf("Unexpected result: %+v", res)
	}
}

func TestListings_OrderedByRecency(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "A", 100, 0)

	first := mustCreate(t, f, newRequest("u1", item("A", 1)))
	second := mustCreate(t, f, newRequest("u2", item("A", 1)))
	third := mustCreate(t, f, newRequest("u1", item("A", 1)))

	res, err := f.svc.GetAllOrders(context.Background())
	if err != nil || res.Message != MsgListedAll {
		t.Fatalf("Unexpected result: %+v, %v", res, err)
	}
	all := res.Data.([]*OrderResponse)
	if len(all) != 3 || all[0].ID != third.ID || all[1].ID != second.ID || all[2].ID != first.ID {
		t.Errorf("Expected newest first, got %v", ids(all))
	}

	res, _ = f.svc.GetOrdersByUser(context.Background(), "u1")
	mine := res.Data.([]*OrderResponse)
	if res.Message != MsgFound || len(mine) != 2 || mine[0].ID != third.ID || mine[1].ID != first.ID {
		t.Errorf("Unexpected user listing: %v", ids(mine))
	}
}

func ids(orders []*OrderResponse) []string {
	out := make([]string, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.ID)
	}
	return out
}

func TestCancelOrder_NotDefinedTouchesNoStock(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "A", 6, 4)

	res, err := f.svc.CancelOrder(context.Background(), &CancelOrderRequest{OrderID: "missing", OrderItems: []OrderItemRequest{item("A", 4)}})
	if err != nil {
		t.Fatalf("Expected no fault, got: %v", err)
	}
	if res.Status != StatusERR || res.Message != MsgOrderNotDefined {
		t.Errorf("Unexpected result: %+v", res)
	}
	if s := f.stock(t, "A"); s.CountInStock != 6 || s.Selled != 4 {
		t.Errorf("Expected A untouched at 6/4, got %d/%d", s.CountInStock, s.Selled)
	}
}

func TestCancelOrder_TwiceReleasesOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "A", 10, 0)
	order := mustCreate(t, f, newRequest("u1", item("A", 4)))
	req := &CancelOrderRequest{OrderID: order.ID, OrderItems: []OrderItemRequest{item("A", 4)}}

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = f.svc.CancelOrder(context.Background(), req)
		}(i)
	}
	wg.Wait()

	okCount := 0
	for _, r := range results {
		if r != nil && r.Status == StatusOK {
			okCount++
		}
	}
	if okCount != 1 {
		t.Errorf("Expected exactly one successful cancellation, got %d", okCount)
	}
	if s := f.stock(t, "A"); s.CountInStock != 10 || s.Selled != 0 {
		t.Errorf("Expected A at 10/0, got %d/%d", s.CountInStock, s.Selled)
	}
}

func TestCancelOrder_PartialReleaseKeepsOrder(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "A", 10, 0)
	f.seed(t, "B", 10, 0)
	order := mustCreate(t, f, newRequest("u1", item("A", 2), item("B", 3)))

	// B 的已售数量被外部改小，释放 3 个会失败
	f.seed(t, "B", 10, 1)

	res, err := f.svc.CancelOrder(context.Background(), &CancelOrderRequest{OrderID: order.ID})
	if err != nil {
		t.Fatalf("Expected no fault, got: %v", err)
	}
	if res.Status != StatusERR {
		t.Fatalf("Expected ERR, got %s", res.Status)
	}
	if want := "Products with ID: B could not be released"; res.Message != want {
		t.Errorf("Expected message %q, got %q", want, res.Message)
	}
	if s := f.stock(t, "A"); s.CountInStock != 8 || s.Selled != 2 {
		t.Errorf("Expected A re-reserved at 8/2, got %d/%d", s.CountInStock, s.Selled)
	}
	if got, _ := f.svc.GetOrder(context.Background(), order.ID); got.Status != StatusOK {
		t.Error("Expected order to be kept after failed cancellation")
	}
	if n := f.repo.deletes.Load(); n != 0 {
		t.Errorf("Expected no delete, got %d", n)
	}
}

func TestCancelOrder_DefaultsToStoredItems(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "A", 10, 0)
	order := mustCreate(t, f, newRequest("u1", item("A", 3)))

	res, err := f.svc.CancelOrder(context.Background(), &CancelOrderRequest{OrderID: order.ID})
	if err != nil || res.Status != StatusOK {
		t.Fatalf("Expected OK, got %+v, %v", res, err)
	}
	if data := res.Data.(*OrderResponse); data.State != domain.StateCancelled {
		t.Errorf("Expected cancelled state in response, got %s", data.State)
	}
	if s := f.stock(t, "A"); s.CountInStock != 10 || s.Selled != 0 {
		t.Errorf("Expected A at 10/0, got %d/%d", s.CountInStock, s.Selled)
	}
}

func TestCancelOrder_RejectsItemsBeyondOrder(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "A", 10, 0)
	f.seed(t, "B", 10, 0)
	mine := mustCreate(t, f, newRequest("u1", item("A", 2)))
	mustCreate(t, f, newRequest("u2", item("A", 5), item("B", 4)))

	req := &CancelOrderRequest{OrderID: mine.ID, OrderItems: []OrderItemRequest{item("A", 1), item("B", 4), item("A", 2)}}
	res, err := f.svc.CancelOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("Expected no fault, got: %v", err)
	}
	if want := "Products with ID: A,B are not part of the order"; res.Status != StatusERR || res.Message != want {
		t.Fatalf("Expected ERR %q, got %s/%q", want, res.Status, res.Message)
	}
	failures := res.Data.([]ItemFailure)
	if len(failures) != 2 || failures[0].Reason != reasonNotInOrder {
		t.Errorf("Unexpected failures: %+v", failures)
	}
	if s := f.stock(t, "A"); s.CountInStock != 3 || s.Selled != 7 {
		t.Errorf("Expected A untouched at 3/7, got %d/%d", s.CountInStock, s.Selled)
	}
	if s := f.stock(t, "B"); s.CountInStock != 6 || s.Selled != 4 {
		t.Errorf("Expected B untouched at 6/4, got %d/%d", s.CountInStock, s.Selled)
	}
	if got, _ := f.svc.GetOrder(context.Background(), mine.ID); got.Status != StatusOK {
		t.Error("Expected order to be kept")
	}
}

func TestCreateOrder_AdmissionPolicy(t *testing.T) {
	policy, err := adapter.NewCELAdmissionPolicy(`order.totalPrice <= 50.0`)
	if err != nil {
		t.Fatalf("compile policy: %v", err)
	}
	f := newFixture(t, WithAdmissionPolicy(policy))
	f.seed(t, "A", 10, 0)

	res, err := f.svc.CreateOrder(context.Background(), newRequest("u1", item("A", 1)))
	if err != nil {
		t.Fatalf("Expected no fault, got: %v", err)
	}
	if res.Status != StatusERR || res.Message != MsgAdmissionDenied {
		t.Errorf("Expected admission rejection, got %+v", res)
	}
	if s := f.stock(t, "A"); s.CountInStock != 10 {
		t.Errorf("Expected no reservation before admission, got %d", s.CountInStock)
	}

	cheap := newRequest("u1", item("A", 1))
	cheap.TotalPrice = 20
	mustCreate(t, f, cheap)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []*domain.OrderPlaced
}

func (n *recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) NotifyOrderPlaced(ctx context.Context, event *domain.OrderPlaced) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

type failingNotifier struct{}

func (failingNotifier) Name() string { return "failing" }

func (failingNotifier) NotifyOrderPlaced(ctx context.Context, event *domain.OrderPlaced) error {
	return errors.New("broker unavailable")
}

type blockingNotifier struct{}

func (blockingNotifier) Name() string { return "blocking" }

func (blockingNotifier) NotifyOrderPlaced(ctx context.Context, event *domain.OrderPlaced) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestCreateOrder_NotificationFailureIsIsolated(t *testing.T) {
	rec := &recordingNotifier{}
	f := newFixture(t,
		WithNotifiers(failingNotifier{}, blockingNotifier{}, rec),
		WithNotificationTimeout(20*time.Millisecond),
	)
	f.seed(t, "A", 10, 0)

	ctx, cancel := context.WithCancel(context.Background())
	res, err := f.svc.CreateOrder(ctx, newRequest("u1", item("A", 1)))
	cancel()
	if err != nil || res.Status != StatusOK {
		t.Fatalf("Expected OK despite notifier failures, got %+v, %v", res, err)
	}

	f.svc.Wait()
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 1 {
		t.Fatalf("Expected one notification, got %d", len(rec.events))
	}
	if ev := rec.events[0]; ev.Email != "a@example.com" || ev.OrderID != res.Data.(*OrderResponse).ID {
		t.Errorf("Unexpected event: %+v", ev)
	}
}

func TestStockAdministration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.GetStock(ctx, "A")
	if err != nil || res.Status != StatusERR {
		t.Fatalf("Expected ERR for unknown product, got %+v, %v", res, err)
	}
	if res, _ := f.svc.SeedStock(ctx, &StockRequest{ProductID: "A", CountInStock: -1}); res.Status != StatusERR {
		t.Error("Expected negative seed to be rejected")
	}
	if res, err := f.svc.SeedStock(ctx, &StockRequest{ProductID: "A", CountInStock: 7}); err != nil || res.Status != StatusOK {
		t.Fatalf("Expected seed OK, got %+v, %v", res, err)
	}
	res, _ = f.svc.GetStock(ctx, "A")
	if entry := res.Data.(*domain.StockEntry); entry.CountInStock != 7 {
		t.Errorf("Expected 7 in stock, got %d", entry.CountInStock)
	}
}
