// internal/service/order/domain/event.go
package domain

import "time"

// OrderPlaced 是订单提交成功后发出的通知事件。
// Email 只随事件传递，不会持久化到订单记录中。
type OrderPlaced struct {
	OrderID    string            `json:"orderId"`
	UserID     string            `json:"userId"`
	Email      string            `json:"email,omitempty"`
	TotalPrice float64           `json:"totalPrice"`
	Items      []OrderPlacedItem `json:"items"`
	PlacedAt   time.Time         `json:"placedAt"`
}

type OrderPlacedItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name,omitempty"`
	Amount    int    `json:"amount"`
}

// NewOrderPlaced 从已提交的订单构造通知事件。
func NewOrderPlaced(order *Order, email string) *OrderPlaced {
	items := make([]OrderPlacedItem, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, OrderPlacedItem{ProductID: it.ProductID, Name: it.Name, Amount: it.Amount})
	}
	return &OrderPlaced{
		OrderID:    order.ID,
		UserID:     order.UserID,
		Email:      email,
		TotalPrice: order.TotalPrice,
		Items:      items,
		PlacedAt:   order.CreatedAt,
	}
}
