// internal/service/inventory/domain/reservation.go
package domain

import (
	"errors"
	"time"
)

// Status 是库存预占记录的生命周期状态。
type Status string

const (
	StatusHeld      Status = "held"      // 已预占，等待支付结果
	StatusCommitted Status = "committed" // 支付确认后坐实
	StatusReleased  Status = "released"  // 已释放，额度归还
)

var (
	// ErrInsufficientInventory 表示可用库存不足，预占被整体拒绝（不做部分预占）。
	ErrInsufficientInventory = errors.New("insufficient inventory")
	// ErrReservationNotFound 表示预占记录不存在。
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrReservationReleased 表示试图坐实一个已经释放的预占。
	ErrReservationReleased = errors.New("reservation already released")
	// ErrUnknownComponent 表示台账里没有该元器件的库存记录。
	ErrUnknownComponent = errors.New("unknown component")
)

// Reservation 把一个订单和它在某个元器件上预占的数量绑定在一起。
// 所有库存变动都通过 Reserve/Commit/Release 走预占记录，不直接改计数器。
type Reservation struct {
	ID          string
	ComponentID string
	OrderID     string
	Quantity    int
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Commit 将预占坐实。对已坐实的记录是幂等空操作。
func (r *Reservation) Commit() error {
	switch r.Status {
	case StatusCommitted:
		return nil
	case StatusReleased:
		return ErrReservationReleased
	}
	r.Status = StatusCommitted
	r.UpdatedAt = time.Now()
	return nil
}

// Release 释放预占，归还可用额度。幂等。
// 返回值表示这次调用是否真的发生了状态变化。
func (r *Reservation) Release() bool {
	if r.Status == StatusReleased {
		return false
	}
	r.Status = StatusReleased
	r.UpdatedAt = time.Now()
	return true
}

// Active 表示该预占仍占用可用额度（held 或 committed）。
func (r *Reservation) Active() bool {
	return r.Status == StatusHeld || r.Status == StatusCommitted
}

// ComponentStock 是台账为每个元器件维护的挂牌库存量。
// 目录服务同步进来之后，这里就是预占判断的唯一依据。
type ComponentStock struct {
	ComponentID string
	Listed      int
	UpdatedAt   time.Time
}
