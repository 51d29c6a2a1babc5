// internal/service/quote/domain/quote.go
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Status 是大宗询价的协商状态。
// requested → quoted → countered → quoted → … → accepted | rejected，
// expired 可从任何非终态进入。
type Status string

const (
	StatusRequested Status = "requested"
	StatusQuoted    Status = "quoted"
	StatusCountered Status = "countered"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
)

// Actor 标识协商的哪一方在出招。
type Actor string

const (
	ActorBuyer  Actor = "buyer"
	ActorSeller Actor = "seller"
)

var (
	ErrQuoteNotFound = errors.New("quote not found")
	// ErrQuoteConsumed 表示该报价已经兑换过订单，accepted 只能消费一次。
	ErrQuoteConsumed = errors.New("quote already consumed by an order")
	// ErrNotEligible 表示数量未达到协商门槛。
	ErrNotEligible = errors.New("quantity below negotiation threshold")
	// ErrQuoteConflict 表示乐观锁冲突，调用方需要用新版本重试。
	ErrQuoteConflict = errors.New("concurrent modification of quote")
)

// InvalidTransitionError 表示违反协商状态机的动作，包括抢拍（非对方回合出招）。
type InvalidTransitionError struct {
	From   Status
	Action string
	Actor  Actor
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid quote action %q by %s in status %q", e.Action, e.Actor, e.From)
}

// BulkQuote 是一次大宗采购的询价聚合。
// LastActor 保证严格轮替：只有上一步没出招的一方才能继续协商。
type BulkQuote struct {
	ID          string
	BuyerID     string
	SellerID    string
	ComponentID string

	Quantity       int64
	UnitPriceMinor int64 // 当前台面上的单价（最小货币单位），seller 首次报价前为系统建议价
	Status         Status
	LastActor      Actor

	Rounds     int
	ConsumedBy string // 兑换出的订单 id，空表示未消费
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewQuoteRequest 由买家发起询价。数量门槛在应用层校验。
func NewQuoteRequest(id, buyerID, sellerID, componentID string, quantity, suggestedUnitMinor int64, now time.Time) *BulkQuote {
	return &BulkQuote{
		ID:             id,
		BuyerID:        buyerID,
		SellerID:       sellerID,
		ComponentID:    componentID,
		Quantity:       quantity,
		UnitPriceMinor: suggestedUnitMinor,
		Status:         StatusRequested,
		LastActor:      ActorBuyer,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Terminal 判断协商是否已结束。
func (q *BulkQuote) Terminal() bool {
	switch q.Status {
	case StatusAccepted, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Quote 是卖家的出价动作，可选修改数量。
// 只能在 requested 或买家 countered 之后出现。
func (q *BulkQuote) Quote(unitPriceMinor, quantity int64, now time.Time) error {
	if q.Status != StatusRequested && q.Status != StatusCountered {
		return &InvalidTransitionError{From: q.Status, Action: "quote", Actor: ActorSeller}
	}
	if q.LastActor == ActorSeller {
		return &InvalidTransitionError{From: q.Status, Action: "quote", Actor: ActorSeller}
	}
	q.Status = StatusQuoted
	q.LastActor = ActorSeller
	q.UnitPriceMinor = unitPriceMinor
	if quantity > 0 {
		q.Quantity = quantity
	}
	q.Rounds++
	q.UpdatedAt = now
	return nil
}

// Counter 是买家的还价动作，只能接在卖家的 quoted 之后。
func (q *BulkQuote) Counter(unitPriceMinor, quantity int64, now time.Time) error {
	if q.Status != StatusQuoted {
		return &InvalidTransitionError{From: q.Status, Action: "counter", Actor: ActorBuyer}
	}
	if q.LastActor == ActorBuyer {
		return &InvalidTransitionError{From: q.Status, Action: "counter", Actor: ActorBuyer}
	}
	q.Status = StatusCountered
	q.LastActor = ActorBuyer
	q.UnitPriceMinor = unitPriceMinor
	if quantity > 0 {
		q.Quantity = quantity
	}
	q.Rounds++
	q.UpdatedAt = now
	return nil
}

// Accept 接受对方台面上的最后一次出价。出招方必须不是上一步的出招方。
func (q *BulkQuote) Accept(actor Actor, now time.Time) error {
	if q.Status != StatusQuoted && q.Status != StatusCountered {
		return &InvalidTransitionError{From: q.Status, Action: "accept", Actor: actor}
	}
	if actor == q.LastActor {
		return &InvalidTransitionError{From: q.Status, Action: "accept", Actor: actor}
	}
	q.Status = StatusAccepted
	q.LastActor = actor
	q.UpdatedAt = now
	return nil
}

// Reject 拒绝协商，终态，不产生订单。
func (q *BulkQuote) Reject(actor Actor, now time.Time) error {
	if q.Terminal() {
		return &InvalidTransitionError{From: q.Status, Action: "reject", Actor: actor}
	}
	if actor == q.LastActor {
		return &InvalidTransitionError{From: q.Status, Action: "reject", Actor: actor}
	}
	q.Status = StatusRejected
	q.LastActor = actor
	q.UpdatedAt = now
	return nil
}

// Expire 在不活跃窗口耗尽后由定时扫描触发，任何非终态都可进入。
func (q *BulkQuote) Expire(now time.Time) error {
	if q.Terminal() {
		return &InvalidTransitionError{From: q.Status, Action: "expire"}
	}
	q.Status = StatusExpired
	q.UpdatedAt = now
	return nil
}

// ConsumeForOrder 把 accepted 的报价兑换成订单，整个生命周期只允许一次。
func (q *BulkQuote) ConsumeForOrder(orderID string) error {
	if q.Status != StatusAccepted {
		return &InvalidTransitionError{From: q.Status, Action: "consume"}
	}
	if q.ConsumedBy != "" {
		return ErrQuoteConsumed
	}
	q.ConsumedBy = orderID
	return nil
}

// AgreedTotalMinor 返回成交总价（最小货币单位）。
func (q *BulkQuote) AgreedTotalMinor() int64 {
	return q.UnitPriceMinor * q.Quantity
}
