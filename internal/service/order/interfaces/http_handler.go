// internal/service/order/interfaces/http_handler.go
package interfaces

import (
	"context"
	"encoding/json"
	"net/http"

	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/pkg/push"
	"fulfillment/internal/service/order/application"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const maxBodyBytes = 1 << 20

// OrderHandler 是引擎之上的一层薄 JSON 适配器
type OrderHandler struct {
	service *application.OrderApplicationService
	hub     *push.Hub
}

// NewOrderHandler 创建一个新的 HTTP 处理器实例，hub 为 nil 时不注册 /ws。
func NewOrderHandler(service *application.OrderApplicationService, hub *push.Hub) *OrderHandler {
	return &OrderHandler{service: service, hub: hub}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /order/create", h.traced(h.createOrder))
	mux.HandleFunc("GET /order/get-details-order/{id}", h.traced(h.getOrder))
	mux.HandleFunc("GET /order/get-all-order/{userId}", h.traced(h.getOrdersByUser))
	mux.HandleFunc("GET /order/get-all-order", h.traced(h.getAllOrders))
	mux.HandleFunc("DELETE /order/cancel-order/{id}", h.traced(h.cancelOrder))

	mux.HandleFunc("POST /stock", h.traced(h.seedStock))
	mux.HandleFunc("GET /stock", h.traced(h.getStock))

	if h.hub != nil {
		mux.HandleFunc("GET /ws", h.hub.ServeWs)
	}
}

// traced 从请求头中恢复上游的追踪上下文，并把带 trace_id 的日志器放进 context。
func (h *OrderHandler) traced(next func(ctx context.Context, w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		next(logger.WithContext(ctx), w, r)
	}
}

func (h *OrderHandler) createOrder(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var req application.CreateOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.service.CreateOrder(ctx, &req)
	writeResult(ctx, w, res, err)
}

func (h *OrderHandler) getOrder(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	res, err := h.service.GetOrder(ctx, r.PathValue("id"))
	writeResult(ctx, w, res, err)
}

func (h *OrderHandler) getOrdersByUser(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	res, err := h.service.GetOrdersByUser(ctx, r.PathValue("userId"))
	writeResult(ctx, w, res, err)
}

func (h *OrderHandler) getAllOrders(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	res, err := h.service.GetAllOrders(ctx)
	writeResult(ctx, w, res, err)
}

// cancelOrder 的请求体可以为空，此时释放订单自身的全部行项目。
func (h *OrderHandler) cancelOrder(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	req := application.CancelOrderRequest{OrderID: r.PathValue("id")}
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	res, err := h.service.CancelOrder(ctx, &req)
	writeResult(ctx, w, res, err)
}

func (h *OrderHandler) seedStock(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var req application.StockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.service.SeedStock(ctx, &req)
	writeResult(ctx, w, res, err)
}

func (h *OrderHandler) getStock(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	res, err := h.service.GetStock(ctx, r.URL.Query().Get("id"))
	writeResult(ctx, w, res, err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, &application.Result{Status: application.StatusERR, Message: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// writeResult 业务失败 (ERR) 仍然是 200，只有存储故障返回 500。
func writeResult(ctx context.Context, w http.ResponseWriter, res *application.Result, err error) {
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("request failed with storage fault")
		writeJSON(w, http.StatusInternalServerError, &application.Result{Status: application.StatusERR, Message: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
