package port

import (
	"context"

	"circuitbay/internal/service/order/domain"
)

// SagaEventPublisher 把异步事件投递到 Saga 主题。
// 网关回调、托管到期、收货确认都经由这里回流到编排器。
type SagaEventPublisher interface {
	Publish(ctx context.Context, event domain.SagaEvent) error
}
