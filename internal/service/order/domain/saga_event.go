// internal/service/order/domain/saga_event.go
package domain

// SagaEventType 是驱动 Saga 异步段的外部事件类型。
type SagaEventType string

const (
	SagaEventPaymentCallback   SagaEventType = "payment_callback"
	SagaEventEscrowDue         SagaEventType = "escrow_due"
	SagaEventDeliveryConfirmed SagaEventType = "delivery_confirmed"
)

// SagaEvent 是投递到 Saga 主题的消息体。
// Fence 必须等于 SagaRecord 当前的 fencing token，否则事件被拒收。
type SagaEvent struct {
	SagaID  string            `json:"sagaId"`
	OrderID string            `json:"orderId"`
	Type    SagaEventType     `json:"type"`
	Fence   int64             `json:"fence"`
	Payload map[string]string `json:"payload,omitempty"`
}
