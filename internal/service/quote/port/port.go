// internal/service/quote/port/port.go
package port

import "context"

// Notification 是协商进展通知，Type 只有 quote_responded 和
// quote_expired 两种，出站适配器负责封包成统一的事件信封。
type Notification struct {
	Type           string
	RecipientID    string
	QuoteID        string
	Status         string
	UnitPriceMinor int64
	Quantity       int64
}

// Notifier 投递通知，fire-and-forget：失败只记日志不回传。
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// OpeningPricer 为询价单计算系统建议的开盘单价（最小货币单位）。
type OpeningPricer interface {
	OpeningUnitPrice(ctx context.Context, componentID string, quantity int64) (int64, error)
}
