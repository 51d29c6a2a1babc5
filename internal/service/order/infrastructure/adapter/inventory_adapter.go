package adapter

import (
	"context"

	invapp "circuitbay/internal/service/inventory/application"
)

// InventoryAdapter 把进程内的库存台账挂到订单侧的出站端口上。
type InventoryAdapter struct {
	ledger *invapp.Ledger
}

func NewInventoryAdapter(ledger *invapp.Ledger) *InventoryAdapter {
	return &InventoryAdapter{ledger: ledger}
}

func (a *InventoryAdapter) Reserve(ctx context.Context, componentID, orderID string, quantity int) (string, error) {
	return a.ledger.Reserve(ctx, componentID, orderID, quantity)
}

func (a *InventoryAdapter) Commit(ctx context.Context, reservationID string) error {
	return a.ledger.Commit(ctx, reservationID)
}

func (a *InventoryAdapter) Release(ctx context.Context, reservationID string) error {
	return a.ledger.Release(ctx, reservationID)
}
