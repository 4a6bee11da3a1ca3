// internal/service/order/infrastructure/mongo_document.go
package infrastructure

import (
	"time"

	"fulfillment/internal/service/order/domain"
)

type stockDocument struct {
	ID           string `bson:"_id"`
	CountInStock int    `bson:"countInStock"`
	Selled       int    `bson:"selled"`
}

type orderItemDocument struct {
	ProductID string  `bson:"product"`
	Name      string  `bson:"name"`
	Amount    int     `bson:"amount"`
	Price     float64 `bson:"price"`
	Image     string  `bson:"image"`
}

type shippingAddressDocument struct {
	FullName string `bson:"fullName"`
	Address  string `bson:"address"`
	City     string `bson:"city"`
	Phone    string `bson:"phone"`
}

type orderDocument struct {
	ID              string                  `bson:"_id"`
	OrderItems      []orderItemDocument     `bson:"orderItems"`
	ShippingAddress shippingAddressDocument `bson:"shippingAddress"`
	PaymentMethod   string                  `bson:"paymentMethod"`
	ItemsPrice      float64                 `bson:"itemsPrice"`
	ShippingPrice   float64                 `bson:"shippingPrice"`
	TotalPrice      float64                 `bson:"totalPrice"`
	User            string                  `bson:"user"`
	IsPaid          bool                    `bson:"isPaid"`
	PaidAt          *time.Time              `bson:"paidAt,omitempty"`
	State           string                  `bson:"state"`
	CreatedAt       time.Time               `bson:"createdAt"`
	UpdatedAt       time.Time               `bson:"updatedAt"`
}

func (d *stockDocument) toDomain() *domain.StockEntry {
	return &domain.StockEntry{ProductID: d.ID, CountInStock: d.CountInStock, Selled: d.Selled}
}

func newOrderDocument(o *domain.Order) *orderDocument {
	items := make([]orderItemDocument, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemDocument(it))
	}
	return &orderDocument{
		ID:              o.ID,
		OrderItems:      items,
		ShippingAddress: shippingAddressDocument(o.ShippingAddress),
		PaymentMethod:   o.PaymentMethod,
		ItemsPrice:      o.ItemsPrice,
		ShippingPrice:   o.ShippingPrice,
		TotalPrice:      o.TotalPrice,
		User:            o.UserID,
		IsPaid:          o.IsPaid,
		PaidAt:          o.PaidAt,
		State:           string(o.State),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func (d *orderDocument) toDomain() *domain.Order {
	items := make([]domain.OrderItem, 0, len(d.OrderItems))
	for _, it := range d.OrderItems {
		items = append(items, domain.OrderItem(it))
	}
	return &domain.Order{
		ID:              d.ID,
		Items:           items,
		PaymentMethod:   d.PaymentMethod,
		ItemsPrice:      d.ItemsPrice,
		ShippingPrice:   d.ShippingPrice,
		TotalPrice:      d.TotalPrice,
		ShippingAddress: domain.ShippingAddress(d.ShippingAddress),
		UserID:          d.User,
		IsPaid:          d.IsPaid,
		PaidAt:          d.PaidAt,
		State:           domain.State(d.State),
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}
