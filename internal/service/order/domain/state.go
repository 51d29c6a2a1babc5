// internal/service/order/domain/state.go
package domain

import "fmt"

// Status 定义了订单的生命周期状态。
// 前向边：pending → confirmed → processing → shipped → delivered；
// cancelled 只能从 pending 进入。delivered 和 cancelled 是终态。
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// legalTransitions 是订单状态机的全部合法边。
var legalTransitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing},
	StatusProcessing: {StatusShipped},
	StatusShipped:    {StatusDelivered},
}

// CanTransition 判断 from → to 是否是合法边。
func CanTransition(from, to Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal 判断状态是否是终态。
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// InvalidTransitionError 携带当前状态与请求状态，返回给调用方定位。
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order transition from %q to %q", e.From, e.To)
}
