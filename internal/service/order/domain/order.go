// internal/service/order/domain/order.go
package domain

import (
	"sort"
	"time"

	"github.com/pkg/errors"
)

// OrderItem 是订单中的一个行项目：商品 ID + 数量，其余字段只做展示。
type OrderItem struct {
	ProductID string
	Name      string
	Amount    int
	Price     float64
	Image     string
}

// ShippingAddress 收货信息，四个字段都是必填。
type ShippingAddress struct {
	FullName string
	Address  string
	City     string
	Phone    string
}

// Order 是订单聚合的根实体
type Order struct {
	ID              string
	Items           []OrderItem
	PaymentMethod   string
	ItemsPrice      float64
	ShippingPrice   float64
	TotalPrice      float64
	ShippingAddress ShippingAddress
	UserID          string
	IsPaid          bool
	PaidAt          *time.Time
	State           State
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Validate 检查订单能否进入库存预留流程。
func (o *Order) Validate() error {
	if len(o.Items) == 0 {
		return errors.Wrap(ErrInvalidOrder, "order has no items")
	}
	if err := ValidateItems(o.Items); err != nil {
		return err
	}
	if o.ItemsPrice < 0 || o.ShippingPrice < 0 || o.TotalPrice < 0 {
		return errors.Wrap(ErrInvalidOrder, "prices must be non-negative")
	}
	a := o.ShippingAddress
	if a.FullName == "" || a.Address == "" || a.City == "" || a.Phone == "" {
		return errors.Wrap(ErrInvalidOrder, "shipping address is incomplete")
	}
	return nil
}

// ValidateItems 行项目必须带商品 ID，数量必须为正。
func ValidateItems(items []OrderItem) error {
	for _, item := range items {
		if item.ProductID == "" {
			return errors.Wrap(ErrInvalidOrder, "item without product id")
		}
		if item.Amount <= 0 {
			return errors.Wrapf(ErrInvalidOrder, "item %s has non-positive amount %d", item.ProductID, item.Amount)
		}
	}
	return nil
}

// MarkCommitted 所有行项目预留成功后调用。
func (o *Order) MarkCommitted(now time.Time) error {
	if o.State != StatePendingReservation {
		return errors.Errorf("order %s cannot be committed from state %s", o.ID, o.State)
	}
	o.State = StateCommitted
	o.CreatedAt = now
	o.UpdatedAt = now
	return nil
}

// MarkCancelled 所有补偿释放成功、记录删除后调用。CANCELLED 是终态。
func (o *Order) MarkCancelled(now time.Time) error {
	if o.State != StateCommitted {
		return errors.Errorf("order %s cannot be cancelled from state %s", o.ID, o.State)
	}
	o.State = StateCancelled
	o.UpdatedAt = now
	return nil
}

// SortByRecency 按创建时间倒序排列，创建时间相同时按更新时间倒序。
func SortByRecency(orders []*Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].UpdatedAt.After(orders[j].UpdatedAt)
	})
}
