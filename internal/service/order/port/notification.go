package port

import (
	"context"

	"circuitbay/internal/service/order/domain"
)

// Notification 是发往通知服务的领域事件及其路由信息，
// 事件集合封闭于 domain 包，上线时由适配器封包成 domain.Envelope。
type Notification struct {
	Priority    string
	RecipientID string
	Event       domain.Event
}

// Notifier 投递领域事件通知，fire-and-forget：
// 编排器不会因为通知失败而阻塞或回滚。
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
