// internal/service/order/domain/order.go
package domain

import (
	"errors"
	"fmt"
	"time"
)

// BulkOrderThreshold 之上的数量被标记为大宗订单。
const BulkOrderThreshold = 100

var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrConcurrentModification 表示乐观锁版本过期，调用方必须重读后重试。
	ErrConcurrentModification = errors.New("order was concurrently modified, retry with a fresh version")
)

// ValidationError 表示入参校验失败，状态未发生任何变化。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order field %q: %s", e.Field, e.Reason)
}

// PreconditionError 表示操作的状态前置条件不满足（例如未发货就挂运单）。
type PreconditionError struct {
	Operation string
	Status    Status
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("operation %q requires a different order status, current is %q", e.Operation, e.Status)
}

// Address 是订单的收货地址值对象。
type Address struct {
	Line1      string `json:"line1"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

func (a Address) validate() error {
	switch {
	case a.Line1 == "":
		return &ValidationError{Field: "address.line1", Reason: "must not be empty"}
	case a.City == "":
		return &ValidationError{Field: "address.city", Reason: "must not be empty"}
	case a.PostalCode == "":
		return &ValidationError{Field: "address.postalCode", Reason: "must not be empty"}
	case a.Country == "":
		return &ValidationError{Field: "address.country", Reason: "must not be empty"}
	}
	return nil
}

// Shipment 是物流信息的和类型：未发货或已发货带运单。
// 没有可空的运单字段，挂了运单就一定处于 Shipped。
type Shipment interface{ isShipment() }

// NotShipped 表示订单尚未发货。
type NotShipped struct{}

func (NotShipped) isShipment() {}

// Shipped 携带承运商与运单号。
type Shipped struct {
	Carrier        string
	TrackingNumber string
	ShippedAt      time.Time
}

func (Shipped) isShipment() {}

// StatusChange 记录一次状态流转的时间点。
type StatusChange struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

// Order 是订单聚合的根实体。
// OrderNumber 由仓储在创建时分配（CB-<seq> 单调递增）；
// Version 是乐观锁列，持久化层据此拒绝并发写。
type Order struct {
	ID          string
	OrderNumber string
	BuyerID     string
	SellerID    string
	ComponentID string

	Quantity       int64
	UnitPriceMinor int64
	TaxMinor       int64
	TotalMinor     int64
	IsBulkOrder    bool
	QuoteID        string // 由大宗协商兑换而来时携带

	Address      Address
	Status       Status
	CancelReason string
	Shipment     Shipment
	History      []StatusChange

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateOrderInput 是工厂函数的入参。
type CreateOrderInput struct {
	ID             string
	BuyerID        string
	SellerID       string
	ComponentID    string
	Quantity       int64
	UnitPriceMinor int64
	TaxMinor       int64
	Address        Address
	QuoteID        string
}

// NewOrder 创建一个 pending 订单。入参非法时返回 *ValidationError，不产生任何状态。
// isBulkOrder 完全由数量决定：quantity > 100。
func NewOrder(in CreateOrderInput, now time.Time) (*Order, error) {
	if in.ID == "" {
		return nil, &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if in.BuyerID == "" {
		return nil, &ValidationError{Field: "buyerId", Reason: "must not be empty"}
	}
	if in.ComponentID == "" {
		return nil, &ValidationError{Field: "componentId", Reason: "must not be empty"}
	}
	if in.Quantity <= 0 {
		return nil, &ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if in.UnitPriceMinor < 0 || in.TaxMinor < 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must not be negative"}
	}
	if err := in.Address.validate(); err != nil {
		return nil, err
	}

	return &Order{
		ID:             in.ID,
		BuyerID:        in.BuyerID,
		SellerID:       in.SellerID,
		ComponentID:    in.ComponentID,
		Quantity:       in.Quantity,
		UnitPriceMinor: in.UnitPriceMinor,
		TaxMinor:       in.TaxMinor,
		TotalMinor:     in.UnitPriceMinor*in.Quantity + in.TaxMinor,
		IsBulkOrder:    in.Quantity > BulkOrderThreshold,
		QuoteID:        in.QuoteID,
		Address:        in.Address,
		Status:         StatusPending,
		Shipment:       NotShipped{},
		History:        []StatusChange{{Status: StatusPending, At: now}},
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Transition 沿前向边推进状态，非法边返回 *InvalidTransitionError。
func (o *Order) Transition(to Status, now time.Time) error {
	if !CanTransition(o.Status, to) {
		return &InvalidTransitionError{From: o.Status, To: to}
	}
	o.Status = to
	o.History = append(o.History, StatusChange{Status: to, At: now})
	o.UpdatedAt = now
	return nil
}

// Cancel 只能从 pending 进入 cancelled，并记录原因。
func (o *Order) Cancel(reason string, now time.Time) error {
	if err := o.Transition(StatusCancelled, now); err != nil {
		return err
	}
	o.CancelReason = reason
	return nil
}

// AttachTracking 挂运单，只允许在 shipped 状态。
func (o *Order) AttachTracking(carrier, trackingNumber string, now time.Time) error {
	if o.Status != StatusShipped {
		return &PreconditionError{Operation: "attachTracking", Status: o.Status}
	}
	if trackingNumber == "" {
		return &ValidationError{Field: "trackingNumber", Reason: "must not be empty"}
	}
	o.Shipment = Shipped{Carrier: carrier, TrackingNumber: trackingNumber, ShippedAt: now}
	o.UpdatedAt = now
	return nil
}
