package saga

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// StepReserveInventory 等步骤名是补偿日志的键，编排器按名回放补偿。
const (
	StepReserveInventory = "reserve_inventory"
	StepInitiatePayment  = "initiate_payment"
	StepPaymentCompleted = "payment_completed"
	StepHoldInEscrow     = "hold_in_escrow"
	StepConfirmOrder     = "confirm_order"
)

// ReserveInventoryHandler 是步骤 1：原子预占库存。
type ReserveInventoryHandler struct {
	NextHandler
}

func (h *ReserveInventoryHandler) Handle(sagaCtx *SagaContext) error {
	ctx, span := sagaCtx.Tracer.Start(sagaCtx.Ctx, "saga.ReserveInventory")
	defer span.End()

	span.SetAttributes(
		attribute.String("component.id", sagaCtx.Order.ComponentID),
		attribute.Int64("order.quantity", sagaCtx.Order.Quantity),
	)

	reservationID, err := sagaCtx.Inventory.Reserve(ctx, sagaCtx.Order.ComponentID, sagaCtx.Order.ID, int(sagaCtx.Order.Quantity))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "inventory reservation failed")
		return err
	}

	sagaCtx.Record.RecordStep(StepReserveInventory, map[string]string{
		"reservation_id": reservationID,
	}, sagaCtx.Now())
	span.AddEvent("inventory reserved")

	return h.executeNext(sagaCtx)
}
