package port

import (
	"context"
	"time"
)

// PaymentSession 是发起支付后返回给买家的网关会话。
type PaymentSession struct {
	PaymentID string
	PayURL    string
	ExpiresAt time.Time
}

// PaymentService 是支付托管协调器的出站端口。
type PaymentService interface {
	// Initiate 创建 pending 支付和网关会话。
	Initiate(ctx context.Context, orderID, sellerID string, amountMinor int64, currency, method string) (*PaymentSession, error)

	// Abandon 是 Initiate 的补偿操作：放弃未完成的收款会话。
	Abandon(ctx context.Context, paymentID string) error

	// HoldInEscrow 把已完成的支付转入托管。
	HoldInEscrow(ctx context.Context, paymentID string) error

	// ConfirmDelivery 买家确认收货，提前触发放款。
	ConfirmDelivery(ctx context.Context, paymentID string) error

	// ReleaseByTimer 托管窗口到期后的放款。
	ReleaseByTimer(ctx context.Context, paymentID string) error

	// Refund 原路退款，托管中或已完成的支付可退。
	Refund(ctx context.Context, paymentID string, amountMinor int64, reason string) error
}
