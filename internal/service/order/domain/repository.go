// internal/service/order/domain/repository.go
package domain

import "context"

// OrderRepository 是订单聚合的持久化端口，由基础设施层实现。
type OrderRepository interface {
	// Create 持久化新订单并为其分配单调递增的订单号（CB-<seq>）。
	Create(ctx context.Context, order *Order) error

	Get(ctx context.Context, id string) (*Order, error)

	// Update 带乐观锁写回：版本过期返回 ErrConcurrentModification，绝不静默覆盖。
	Update(ctx context.Context, order *Order) error
}
