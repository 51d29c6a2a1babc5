package adapter

import (
	"context"
	"errors"

	orderdomain "circuitbay/internal/service/order/domain"
	"circuitbay/internal/service/order/port"
	payapp "circuitbay/internal/service/payment/application"
	paydomain "circuitbay/internal/service/payment/domain"
)

// PaymentAdapter 把支付托管协调器挂到订单侧的出站端口上。
type PaymentAdapter struct {
	coordinator *payapp.Coordinator
}

func NewPaymentAdapter(coordinator *payapp.Coordinator) *PaymentAdapter {
	return &PaymentAdapter{coordinator: coordinator}
}

func (a *PaymentAdapter) Initiate(ctx context.Context, orderID, sellerID string, amountMinor int64, currency, method string) (*port.PaymentSession, error) {
	payment, session, err := a.coordinator.Initiate(ctx, orderID, sellerID, amountMinor, currency, method)
	if err != nil {
		return nil, err
	}
	return &port.PaymentSession{
		PaymentID: payment.ID,
		PayURL:    session.PayURL,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

func (a *PaymentAdapter) Abandon(ctx context.Context, paymentID string) error {
	return a.coordinator.Abandon(ctx, paymentID)
}

func (a *PaymentAdapter) HoldInEscrow(ctx context.Context, paymentID string) error {
	return a.coordinator.HoldInEscrow(ctx, paymentID)
}

func (a *PaymentAdapter) ConfirmDelivery(ctx context.Context, paymentID string) error {
	return translateDisputed(a.coordinator.ConfirmDelivery(ctx, paymentID))
}

func (a *PaymentAdapter) ReleaseByTimer(ctx context.Context, paymentID string) error {
	return translateDisputed(a.coordinator.Release(ctx, paymentID, paydomain.TriggerTimer))
}

// translateDisputed 把支付侧的纠纷挂起翻译成订单侧的哨兵错误。
func translateDisputed(err error) error {
	if errors.Is(err, paydomain.ErrEscrowDisputed) {
		return orderdomain.ErrSettlementDisputed
	}
	return err
}

func (a *PaymentAdapter) Refund(ctx context.Context, paymentID string, amountMinor int64, reason string) error {
	return a.coordinator.Refund(ctx, paymentID, amountMinor, reason)
}
