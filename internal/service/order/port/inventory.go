package port

import (
	"context"
)

// InventoryService 是库存台账的出站端口。
type InventoryService interface {
	// Reserve 为订单原子地预占库存，失败时不产生任何部分预占。
	Reserve(ctx context.Context, componentID, orderID string, quantity int) (reservationID string, err error)

	// Commit 把预占转为已占用，幂等。
	Commit(ctx context.Context, reservationID string) error

	// Release 是 Reserve 的补偿操作，恢复可用量，幂等。
	Release(ctx context.Context, reservationID string) error
}
