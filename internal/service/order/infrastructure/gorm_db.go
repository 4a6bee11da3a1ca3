// internal/service/order/infrastructure/gorm_db.go
package infrastructure

import (
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenMySQL 打开 GORM 连接并迁移库存表与订单表。
func OpenMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	if err := db.AutoMigrate(&ProductStockModel{}, &OrderModel{}); err != nil {
		return nil, errors.Wrap(err, "auto migrate")
	}
	return db, nil
}
