// internal/service/payment/domain/repository.go
package domain

import (
	"context"
	"time"
)

// PaymentRepository 是支付聚合的持久化接口。
type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)

	// GetByGatewayTx 按网关交易号查找，回调处理用。
	GetByGatewayTx(ctx context.Context, gatewayTxID string) (*Payment, error)

	Update(ctx context.Context, p *Payment) error

	// FindDueEscrows 返回托管到期（held_until <= now）的支付，托管定时器扫描用。
	FindDueEscrows(ctx context.Context, now time.Time, limit int) ([]*Payment, error)
}
