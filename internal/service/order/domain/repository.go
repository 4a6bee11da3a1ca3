// internal/service/order/domain/repository.go
package domain

import "context"

// StockLedger 是库存计数的唯一所有者。
// TryReserve/TryRelease 必须是针对单个商品的原子“检查并修改”，调用方不能先读后写。
type StockLedger interface {
	// TryReserve 当 countInStock >= amount 时扣减可售、增加已售，返回更新后的条目。
	// 失败时不做任何修改，返回 ErrProductNotFound 或 ErrInsufficientStock。
	TryReserve(ctx context.Context, productID string, amount int) (*StockEntry, error)

	// TryRelease 当 selled >= amount 时反向操作。
	// 失败时返回 ErrProductNotFound 或 ErrInsufficientCommitted。
	TryRelease(ctx context.Context, productID string, amount int) (*StockEntry, error)

	// SeedStock 直接写入（覆盖）某个商品的计数，只用于初始化和运维。
	SeedStock(ctx context.Context, entry StockEntry) error

	// GetStock 读取当前计数，不存在时返回 ErrProductNotFound。
	GetStock(ctx context.Context, productID string) (*StockEntry, error)
}

// OrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。
type OrderRepository interface {
	Create(ctx context.Context, order *Order) error

	// FindByID 不存在时返回 ErrOrderNotFound，与存储故障区分开。
	FindByID(ctx context.Context, id string) (*Order, error)

	// FindByUser 与 FindAll 都按 SortByRecency 的顺序返回。
	FindByUser(ctx context.Context, userID string) ([]*Order, error)
	FindAll(ctx context.Context) ([]*Order, error)

	DeleteByID(ctx context.Context, id string) error
}
