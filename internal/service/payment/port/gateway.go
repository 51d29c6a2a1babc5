// internal/service/payment/port/gateway.go
package port

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrGatewayUnavailable 表示重试耗尽后仍联系不上支付网关，可延迟后再试。
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrGatewayRejected 表示网关明确拒绝了请求，重试没有意义。
	ErrGatewayRejected = errors.New("payment gateway rejected the request")
)

// Session 是网关侧的一次收款会话。
type Session struct {
	SessionID string
	PayURL    string
	ExpiresAt time.Time
}

// Gateway 是外部支付网关的出站端口。
type Gateway interface {
	// CreateSession 创建收款会话，SessionID 即后续回调携带的网关交易号。
	CreateSession(ctx context.Context, amountMinor int64, currency, method string) (*Session, error)

	// RefundTransaction 请求网关原路退回。
	RefundTransaction(ctx context.Context, gatewayTxID string, amountMinor int64, reason string) error

	// AbandonSession 放弃一个未完成的收款会话（补偿用）。
	AbandonSession(ctx context.Context, sessionID string) error
}

// DisputeChecker 放款前检查订单是否挂着未决纠纷。
type DisputeChecker interface {
	HasOpenDispute(ctx context.Context, orderID string) (bool, error)
}

// PayoutNotifier 放款成功后发出卖家打款事件，fire-and-forget。
type PayoutNotifier interface {
	EmitSellerPayout(ctx context.Context, paymentID, orderID, sellerID string, amountMinor int64) error
}

// CallbackDeduper 用网关交易号识别重复投递的回调。
// 去重键只在回调成功落账之后登记：中途失败的投递必须留给网关重试。
type CallbackDeduper interface {
	// AlreadyApplied 该交易号的回调是否已经成功落账过。
	AlreadyApplied(ctx context.Context, gatewayTxID string) (bool, error)
	// MarkApplied 回调落账后登记去重键。
	MarkApplied(ctx context.Context, gatewayTxID string) error
}
