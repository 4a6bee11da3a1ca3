// internal/service/order/domain/stock.go
package domain

// StockEntry 单个商品的库存计数。
// CountInStock 是可售数量，Selled 是累计已提交数量，两者都不能为负。
type StockEntry struct {
	ProductID    string
	CountInStock int
	Selled       int
}
