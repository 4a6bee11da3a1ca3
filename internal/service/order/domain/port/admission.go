// internal/service/order/domain/port/admission.go
package port

import (
	"context"

	"fulfillment/internal/service/order/domain"
)

// AdmissionPolicy 在任何库存预留之前决定订单是否被受理。
type AdmissionPolicy interface {
	Admit(ctx context.Context, order *domain.Order) (bool, error)
}
