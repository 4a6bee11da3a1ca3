// internal/service/order/infrastructure/gorm_order_repository.go
package infrastructure

import (
	"context"

	"fulfillment/internal/service/order/domain"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const recencyOrder = "created_at DESC, updated_at DESC"

// GormOrderRepository 是 OrderRepository 的 GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	err := r.db.WithContext(ctx).Create(FromDomainOrder(order)).Error
	return errors.Wrapf(err, "create order %s", order.ID)
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, errors.Wrapf(err, "find order %s", id)
	}
	return ToDomainOrder(&model), nil
}

func (r *GormOrderRepository) FindByUser(ctx context.Context, userID string) ([]*domain.Order, error) {
	var models []OrderModel
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order(recencyOrder).Find(&models).Error
	if err != nil {
		return nil, errors.Wrapf(err, "find orders of user %s", userID)
	}
	return toDomainOrders(models), nil
}

func (r *GormOrderRepository) FindAll(ctx context.Context) ([]*domain.Order, error) {
	var models []OrderModel
	if err := r.db.WithContext(ctx).Order(recencyOrder).Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "find all orders")
	}
	return toDomainOrders(models), nil
}

func (r *GormOrderRepository) DeleteByID(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&OrderModel{})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "delete order %s", id)
	}
	if res.RowsAffected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func toDomainOrders(models []OrderModel) []*domain.Order {
	out := make([]*domain.Order, 0, len(models))
	for i := range models {
		out = append(out, ToDomainOrder(&models[i]))
	}
	return out
}
