// internal/service/order/infrastructure/gorm_model.go
package infrastructure

import (
	"database/sql"
	"time"
)

// ProductStockModel 对应数据库中的 product_stock 表
type ProductStockModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	CountInStock int    `gorm:"not null;default:0"`
	Selled       int    `gorm:"not null;default:0"`
	UpdatedAt    time.Time
}

// TableName 指定 GORM 应该使用的表名
func (ProductStockModel) TableName() string {
	return "product_stock"
}

// OrderItemRecord 以 JSON 形式存放在 orders.items 列中
type OrderItemRecord struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Amount    int     `json:"amount"`
	Price     float64 `json:"price"`
	Image     string  `json:"image"`
}

// OrderModel 对应数据库中的 orders 表
type OrderModel struct {
	ID            string            `gorm:"primaryKey;size:64"`
	UserID        string            `gorm:"size:64;index:idx_orders_user_recency,priority:1"`
	Items         []OrderItemRecord `gorm:"serializer:json;type:json"`
	PaymentMethod string            `gorm:"size:64"`
	ItemsPrice    float64           `gorm:"type:decimal(12,2)"`
	ShippingPrice float64           `gorm:"type:decimal(12,2)"`
	TotalPrice    float64           `gorm:"type:decimal(12,2)"`
	FullName      string
	Address       string
	City          string
	Phone         string `gorm:"size:32"`
	IsPaid        bool
	PaidAt        sql.NullTime
	State         string    `gorm:"size:32"`
	CreatedAt     time.Time `gorm:"index:idx_orders_user_recency,priority:2"`
	UpdatedAt     time.Time
}

// TableName 指定 GORM 应该使用的表名
func (OrderModel) TableName() string {
	return "orders"
}
