package adapter

import (
	"context"
	"fmt"

	"circuitbay/internal/pkg/mq"
	"circuitbay/internal/service/order/domain"
	"circuitbay/internal/service/order/port"

	"github.com/segmentio/kafka-go"
)

// NotificationKafkaAdapter 实现 port.Notifier，把领域事件封包成
// domain.Envelope 投到 notifications 主题，网关侧按类型标签还原。
// 通知是 fire-and-forget：投递失败由调用方记日志，不回传业务层。
type NotificationKafkaAdapter struct {
	writer *kafka.Writer
}

func NewNotificationKafkaAdapter(writer *kafka.Writer) *NotificationKafkaAdapter {
	return &NotificationKafkaAdapter{writer: writer}
}

func (a *NotificationKafkaAdapter) Notify(ctx context.Context, n port.Notification) error {
	envelope, err := domain.WrapEvent(n.Event, n.RecipientID, n.Priority)
	if err != nil {
		return fmt.Errorf("failed to wrap notification event: %w", err)
	}
	// mq.ProduceMessage 自动注入追踪上下文；按收件人分区保序
	return mq.ProduceMessage(ctx, a.writer, []byte(n.RecipientID), envelope)
}

// Close 关闭底层的 Kafka writer。
func (a *NotificationKafkaAdapter) Close() error {
	return a.writer.Close()
}
