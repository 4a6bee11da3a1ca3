// internal/service/order/domain/state.go
package domain

// State 定义了订单的生命周期状态
// PENDING_RESERVATION → COMMITTED → CANCELLED，不存在回退。
type State string

const (
	StatePendingReservation State = "PENDING_RESERVATION" // 正在预留库存，从不落库
	StateCommitted          State = "COMMITTED"           // 全部预留成功，订单已持久化
	StateCancelled          State = "CANCELLED"           // 库存已释放，订单记录已删除
)
