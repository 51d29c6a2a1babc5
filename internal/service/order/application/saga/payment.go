package saga

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// InitiatePaymentHandler 是步骤 2：创建 pending 支付和网关收款会话。
// 网关调用不持有任何库存锁，失败后由已入账的步骤 1 补偿兜底。
type InitiatePaymentHandler struct {
	NextHandler

	Currency string
	Method   string
}

func (h *InitiatePaymentHandler) Handle(sagaCtx *SagaContext) error {
	ctx, span := sagaCtx.Tracer.Start(sagaCtx.Ctx, "saga.InitiatePayment")
	defer span.End()

	span.SetAttributes(
		attribute.String("order.id", sagaCtx.Order.ID),
		attribute.Int64("payment.amount_minor", sagaCtx.Order.TotalMinor),
	)

	session, err := sagaCtx.Payment.Initiate(ctx, sagaCtx.Order.ID, sagaCtx.Order.SellerID, sagaCtx.Order.TotalMinor, h.Currency, h.Method)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment initiation failed")
		return err
	}

	sagaCtx.Session = session
	sagaCtx.Record.RecordStep(StepInitiatePayment, map[string]string{
		"payment_id": session.PaymentID,
	}, sagaCtx.Now())
	span.AddEvent("payment session created")

	return h.executeNext(sagaCtx)
}
