// internal/service/payment/domain/payment.go
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Status 是支付记录的生命周期状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// ReleaseTrigger 标记托管放款是由什么触发的。
type ReleaseTrigger string

const (
	TriggerDelivery ReleaseTrigger = "delivery" // 买家确认收货
	TriggerTimer    ReleaseTrigger = "timer"    // 托管窗口到期
)

var (
	// ErrPaymentNotFound 表示支付记录不存在。
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrEscrowDisputed 表示订单挂着未决纠纷，放款被推迟。
	ErrEscrowDisputed = errors.New("escrow release deferred: open dispute")
)

// InvalidTransitionError 携带当前与目标状态的非法流转错误。
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid payment transition from %q to %q", e.From, e.To)
}

// EscrowState 用和类型表达托管子记录，杜绝"已放款却没有持有时间"这类非法组合。
type EscrowState interface {
	escrowState()
	Label() string
}

// EscrowNone 表示资金尚未进入托管。
type EscrowNone struct{}

// EscrowHeld 表示资金托管中，HeldUntil 到期自动放款。
type EscrowHeld struct {
	HeldUntil time.Time
}

// EscrowReleased 表示已放款给卖家。
type EscrowReleased struct {
	At      time.Time
	Trigger ReleaseTrigger
}

// EscrowRefunded 表示已退款给买家。
type EscrowRefunded struct {
	At          time.Time
	AmountMinor int64
	Reason      string
}

func (EscrowNone) escrowState()     {}
func (EscrowHeld) escrowState()     {}
func (EscrowReleased) escrowState() {}
func (EscrowRefunded) escrowState() {}

func (EscrowNone) Label() string     { return "none" }
func (EscrowHeld) Label() string     { return "held" }
func (EscrowReleased) Label() string { return "released" }
func (EscrowRefunded) Label() string { return "refunded" }

// Payment 是支付聚合根。金额一律为最小货币单位，创建后不可变。
type Payment struct {
	ID          string
	OrderID     string
	SellerID    string
	AmountMinor int64
	Currency    string
	Method      string
	GatewayTxID string
	Status      Status
	Escrow      EscrowState
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewPayment 创建一条 pending 支付记录。
func NewPayment(id, orderID, sellerID string, amountMinor int64, currency, method, gatewayTxID string) (*Payment, error) {
	if amountMinor <= 0 {
		return nil, fmt.Errorf("payment amount must be positive, got %d", amountMinor)
	}
	now := time.Now()
	return &Payment{
		ID:          id,
		OrderID:     orderID,
		SellerID:    sellerID,
		AmountMinor: amountMinor,
		Currency:    currency,
		Method:      method,
		GatewayTxID: gatewayTxID,
		Status:      StatusPending,
		Escrow:      EscrowNone{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Complete 网关回调验证通过后才允许 pending → completed。
func (p *Payment) Complete() error {
	if p.Status != StatusPending {
		return &InvalidTransitionError{From: string(p.Status), To: string(StatusCompleted)}
	}
	p.Status = StatusCompleted
	p.UpdatedAt = time.Now()
	return nil
}

// Fail 标记支付失败（pending → failed）。
func (p *Payment) Fail() error {
	if p.Status != StatusPending {
		return &InvalidTransitionError{From: string(p.Status), To: string(StatusFailed)}
	}
	p.Status = StatusFailed
	p.UpdatedAt = time.Now()
	return nil
}

// HoldInEscrow 将已完成的支付转入托管，只允许从 completed 且未托管的状态进入。
func (p *Payment) HoldInEscrow(heldUntil time.Time) error {
	if p.Status != StatusCompleted {
		return &InvalidTransitionError{From: string(p.Status), To: "escrow:held"}
	}
	if _, ok := p.Escrow.(EscrowNone); !ok {
		// 已经托管过：重复 hold 是幂等空操作
		if _, held := p.Escrow.(EscrowHeld); held {
			return nil
		}
		return &InvalidTransitionError{From: "escrow:" + p.Escrow.Label(), To: "escrow:held"}
	}
	p.Escrow = EscrowHeld{HeldUntil: heldUntil}
	p.UpdatedAt = time.Now()
	return nil
}

// ConfirmDelivery 收货确认把 heldUntil 提前到确认时刻（取两者较早）。
func (p *Payment) ConfirmDelivery(at time.Time) error {
	held, ok := p.Escrow.(EscrowHeld)
	if !ok {
		return &InvalidTransitionError{From: "escrow:" + p.Escrow.Label(), To: "escrow:held"}
	}
	if at.Before(held.HeldUntil) {
		p.Escrow = EscrowHeld{HeldUntil: at}
		p.UpdatedAt = time.Now()
	}
	return nil
}

// Release 放款给卖家，只允许从 held 进入。
func (p *Payment) Release(at time.Time, trigger ReleaseTrigger) error {
	if _, ok := p.Escrow.(EscrowReleased); ok {
		return nil // 幂等
	}
	if _, ok := p.Escrow.(EscrowHeld); !ok {
		return &InvalidTransitionError{From: "escrow:" + p.Escrow.Label(), To: "escrow:released"}
	}
	p.Escrow = EscrowReleased{At: at, Trigger: trigger}
	p.UpdatedAt = time.Now()
	return nil
}

// Refund 全额或部分退款，允许从 held 或 completed（未托管）进入。
func (p *Payment) Refund(amountMinor int64, reason string, at time.Time) error {
	if amountMinor <= 0 || amountMinor > p.AmountMinor {
		return fmt.Errorf("refund amount %d out of range (payment amount %d)", amountMinor, p.AmountMinor)
	}
	if p.Status == StatusRefunded {
		return nil // 幂等
	}

	switch p.Escrow.(type) {
	case EscrowHeld, EscrowNone:
		if p.Status != StatusCompleted {
			return &InvalidTransitionError{From: string(p.Status), To: string(StatusRefunded)}
		}
	default:
		return &InvalidTransitionError{From: "escrow:" + p.Escrow.Label(), To: "escrow:refunded"}
	}

	p.Status = StatusRefunded
	p.Escrow = EscrowRefunded{At: at, AmountMinor: amountMinor, Reason: reason}
	p.UpdatedAt = time.Now()
	return nil
}

// HeldUntil 返回托管到期时间；未处于托管状态时 ok 为 false。
func (p *Payment) HeldUntil() (time.Time, bool) {
	held, ok := p.Escrow.(EscrowHeld)
	if !ok {
		return time.Time{}, false
	}
	return held.HeldUntil, true
}
