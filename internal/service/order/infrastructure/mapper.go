// internal/service/order/infrastructure/mapper.go
package infrastructure

import (
	"database/sql"

	"fulfillment/internal/service/order/domain"
)

// ToDomainOrder 将数据库模型转换为领域模型
func ToDomainOrder(model *OrderModel) *domain.Order {
	if model == nil {
		return nil
	}
	items := make([]domain.OrderItem, 0, len(model.Items))
	for _, it := range model.Items {
		items = append(items, domain.OrderItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Amount:    it.Amount,
			Price:     it.Price,
			Image:     it.Image,
		})
	}
	order := &domain.Order{
		ID:            model.ID,
		Items:         items,
		PaymentMethod: model.PaymentMethod,
		ItemsPrice:    model.ItemsPrice,
		ShippingPrice: model.ShippingPrice,
		TotalPrice:    model.TotalPrice,
		ShippingAddress: domain.ShippingAddress{
			FullName: model.FullName,
			Address:  model.Address,
			City:     model.City,
			Phone:    model.Phone,
		},
		UserID:    model.UserID,
		IsPaid:    model.IsPaid,
		State:     domain.State(model.State),
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
	if model.PaidAt.Valid {
		t := model.PaidAt.Time
		order.PaidAt = &t
	}
	return order
}

// FromDomainOrder 将领域模型转换为数据库模型 (用于插入)
func FromDomainOrder(order *domain.Order) *OrderModel {
	if order == nil {
		return nil
	}
	items := make([]OrderItemRecord, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, OrderItemRecord{
			ProductID: it.ProductID,
			Name:      it.Name,
			Amount:    it.Amount,
			Price:     it.Price,
			Image:     it.Image,
		})
	}
	model := &OrderModel{
		ID:            order.ID,
		UserID:        order.UserID,
		Items:         items,
		PaymentMethod: order.PaymentMethod,
		ItemsPrice:    order.ItemsPrice,
		ShippingPrice: order.ShippingPrice,
		TotalPrice:    order.TotalPrice,
		FullName:      order.ShippingAddress.FullName,
		Address:       order.ShippingAddress.Address,
		City:          order.ShippingAddress.City,
		Phone:         order.ShippingAddress.Phone,
		IsPaid:        order.IsPaid,
		State:         string(order.State),
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
	if order.PaidAt != nil {
		model.PaidAt = sql.NullTime{Time: *order.PaidAt, Valid: true}
	}
	return model
}

// ToDomainStock 将库存模型转换为领域模型
func ToDomainStock(model *ProductStockModel) *domain.StockEntry {
	return &domain.StockEntry{
		ProductID:    model.ID,
		CountInStock: model.CountInStock,
		Selled:       model.Selled,
	}
}
