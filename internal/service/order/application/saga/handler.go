package saga

import (
	"context"
	"time"

	"circuitbay/internal/service/order/domain"
	"circuitbay/internal/service/order/port"

	"go.opentelemetry.io/otel/trace"
)

// SagaContext 在采购 Saga 的同步段（步骤 1–2）中传递上下文数据。
// 所有外部依赖都是抽象端口；完成的步骤落进 Record 的补偿日志，
// 补偿动作由编排器按步骤名回放，进程重启后依然可用。
type SagaContext struct {
	Ctx    context.Context
	Order  *domain.Order
	Record *domain.SagaRecord
	Tracer trace.Tracer
	Now    func() time.Time

	Inventory port.InventoryService
	Payment   port.PaymentService

	// Session 由发起支付步骤填充，返回给买家跳转网关。
	Session *port.PaymentSession
}

// Handler 是链上的一个前向步骤。
type Handler interface {
	SetNext(handler Handler) Handler
	Handle(sagaCtx *SagaContext) error
}

type NextHandler struct {
	next Handler
}

func (h *NextHandler) SetNext(handler Handler) Handler {
	h.next = handler
	return handler
}

func (h *NextHandler) executeNext(sagaCtx *SagaContext) error {
	if h.next != nil {
		return h.next.Handle(sagaCtx)
	}
	return nil
}
