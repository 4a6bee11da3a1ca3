// internal/service/order/application/dto.go
package application

import (
	"time"

	"fulfillment/internal/service/order/domain"
)

// Status 是结果信封中的状态。
type Status string

const (
	StatusOK  Status = "OK"
	StatusERR Status = "ERR"
)

// Result 是所有引擎操作统一的返回信封。
// 业务失败（库存不足、不存在）以 ERR 返回；存储故障走 error 返回值。
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func ok(message string, data any) *Result {
	return &Result{Status: StatusOK, Message: message, Data: data}
}

func fail(message string, data any) *Result {
	return &Result{Status: StatusERR, Message: message, Data: data}
}

// OrderItemRequest 是下单/取消请求中的一个行项目。
type OrderItemRequest struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name,omitempty"`
	Amount    int     `json:"amount"`
	Price     float64 `json:"price,omitempty"`
	Image     string  `json:"image,omitempty"`
}

// CreateOrderRequest 是创建订单用例的输入数据
type CreateOrderRequest struct {
	OrderItems    []OrderItemRequest `json:"orderItems"`
	PaymentMethod string             `json:"paymentMethod"`
	ItemsPrice    float64            `json:"itemsPrice"`
	ShippingPrice float64            `json:"shippingPrice"`
	TotalPrice    float64            `json:"totalPrice"`
	FullName      string             `json:"fullName"`
	Address       string             `json:"address"`
	City          string             `json:"city"`
	Phone         string             `json:"phone"`
	User          string             `json:"user"`
	IsPaid        bool               `json:"isPaid"`
	PaidAt        *time.Time         `json:"paidAt,omitempty"`
	Email         string             `json:"email,omitempty"`
}

// CancelOrderRequest 是取消订单用例的输入，行项目为空时使用订单自身的行项目。
type CancelOrderRequest struct {
	OrderID    string             `json:"-"`
	OrderItems []OrderItemRequest `json:"orderItems"`
}

// ItemFailure 描述一个未能预留（或释放）的行项目。
type ItemFailure struct {
	ProductID string `json:"productId"`
	Reason    string `json:"reason"`
}

// StockRequest 用于初始化库存。
type StockRequest struct {
	ProductID    string `json:"productId"`
	CountInStock int    `json:"countInStock"`
	Selled       int    `json:"selled"`
}

// ToOrder 把请求 DTO 转换为处于 PENDING_RESERVATION 状态的领域实体。
func (req *CreateOrderRequest) ToOrder(id string) *domain.Order {
	return &domain.Order{
		ID:            id,
		Items:         toDomainItems(req.OrderItems),
		PaymentMethod: req.PaymentMethod,
		ItemsPrice:    req.ItemsPrice,
		ShippingPrice: req.ShippingPrice,
		TotalPrice:    req.TotalPrice,
		ShippingAddress: domain.ShippingAddress{
			FullName: req.FullName,
			Address:  req.Address,
			City:     req.City,
			Phone:    req.Phone,
		},
		UserID: req.User,
		IsPaid: req.IsPaid,
		PaidAt: req.PaidAt,
		State:  domain.StatePendingReservation,
	}
}

func toDomainItems(items []OrderItemRequest) []domain.OrderItem {
	out := make([]domain.OrderItem, 0, len(items))
	for _, it := range items {
		out = append(out, domain.OrderItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Amount:    it.Amount,
			Price:     it.Price,
			Image:     it.Image,
		})
	}
	return out
}

// OrderResponse 是订单对外的 JSON 视图。
type OrderResponse struct {
	ID              string             `json:"_id"`
	OrderItems      []OrderItemRequest `json:"orderItems"`
	ShippingAddress ShippingAddressDTO `json:"shippingAddress"`
	PaymentMethod   string             `json:"paymentMethod"`
	ItemsPrice      float64            `json:"itemsPrice"`
	ShippingPrice   float64            `json:"shippingPrice"`
	TotalPrice      float64            `json:"totalPrice"`
	User            string             `json:"user"`
	IsPaid          bool               `json:"isPaid"`
	PaidAt          *time.Time         `json:"paidAt,omitempty"`
	State           domain.State       `json:"state"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

type ShippingAddressDTO struct {
	FullName string `json:"fullName"`
	Address  string `json:"address"`
	City     string `json:"city"`
	Phone    string `json:"phone"`
}

// NewOrderResponse 从领域实体构造响应 DTO
func NewOrderResponse(order *domain.Order) *OrderResponse {
	items := make([]OrderItemRequest, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, OrderItemRequest{
			ProductID: it.ProductID,
			Name:      it.Name,
			Amount:    it.Amount,
			Price:     it.Price,
			Image:     it.Image,
		})
	}
	return &OrderResponse{
		ID:         order.ID,
		OrderItems: items,
		ShippingAddress: ShippingAddressDTO{
			FullName: order.ShippingAddress.FullName,
			Address:  order.ShippingAddress.Address,
			City:     order.ShippingAddress.City,
			Phone:    order.ShippingAddress.Phone,
		},
		PaymentMethod: order.PaymentMethod,
		ItemsPrice:    order.ItemsPrice,
		ShippingPrice: order.ShippingPrice,
		TotalPrice:    order.TotalPrice,
		User:          order.UserID,
		IsPaid:        order.IsPaid,
		PaidAt:        order.PaidAt,
		State:         order.State,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
}

func newOrderResponses(orders []*domain.Order) []*OrderResponse {
	out := make([]*OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, NewOrderResponse(o))
	}
	return out
}
