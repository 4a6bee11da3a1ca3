// internal/service/order/infrastructure/gorm_stock_ledger.go
package infrastructure

import (
	"context"

	"fulfillment/internal/service/order/domain"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStockLedger 用带条件的单条 UPDATE 实现原子的“检查并修改”：
//
//	UPDATE product_stock SET count_in_stock = count_in_stock - ?, selled = selled + ?
//	WHERE id = ? AND count_in_stock >= ?
type GormStockLedger struct {
	db *gorm.DB
}

func NewGormStockLedger(db *gorm.DB) *GormStockLedger {
	return &GormStockLedger{db: db}
}

func (l *GormStockLedger) TryReserve(ctx context.Context, productID string, amount int) (*domain.StockEntry, error) {
	return l.conditionalUpdate(ctx, productID, "count_in_stock >= ?", amount, -amount, domain.ErrInsufficientStock)
}

func (l *GormStockLedger) TryRelease(ctx context.Context, productID string, amount int) (*domain.StockEntry, error) {
	return l.conditionalUpdate(ctx, productID, "selled >= ?", amount, amount, domain.ErrInsufficientCommitted)
}

// conditionalUpdate 中 delta 作用于 count_in_stock，selled 反向变化。
// 影响行数为 0 时再查一次是否存在，只用来区分失败原因。
func (l *GormStockLedger) conditionalUpdate(ctx context.Context, productID, guard string, amount, delta int, insufficient error) (*domain.StockEntry, error) {
	var model ProductStockModel
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ProductStockModel{}).
			Where("id = ? AND "+guard, productID, amount).
			Updates(map[string]interface{}{
				"count_in_stock": gorm.Expr("count_in_stock + ?", delta),
				"selled":         gorm.Expr("selled - ?", delta),
			})
		if res.Error != nil {
			return errors.Wrapf(res.Error, "conditional stock update for %s", productID)
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&ProductStockModel{}).Where("id = ?", productID).Count(&n).Error; err != nil {
				return errors.Wrapf(err, "stock existence check for %s", productID)
			}
			if n == 0 {
				return domain.ErrProductNotFound
			}
			return insufficient
		}
		if err := tx.Where("id = ?", productID).First(&model).Error; err != nil {
			return errors.Wrapf(err, "reload stock %s", productID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ToDomainStock(&model), nil
}

func (l *GormStockLedger) SeedStock(ctx context.Context, entry domain.StockEntry) error {
	model := ProductStockModel{ID: entry.ProductID, CountInStock: entry.CountInStock, Selled: entry.Selled}
	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&model).Error
	return errors.Wrapf(err, "seed stock %s", entry.ProductID)
}

func (l *GormStockLedger) GetStock(ctx context.Context, productID string) (*domain.StockEntry, error) {
	var model ProductStockModel
	err := l.db.WithContext(ctx).Where("id = ?", productID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProductNotFound
		}
		return nil, errors.Wrapf(err, "get stock %s", productID)
	}
	return ToDomainStock(&model), nil
}
