package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"

	"circuitbay/internal/pkg/mq"
	"circuitbay/internal/service/order/domain"

	"github.com/segmentio/kafka-go"
)

// SagaEventProducer 实现 port.SagaEventPublisher。
// 消息按 saga id 分区，同一个 Saga 的事件保序。
type SagaEventProducer struct {
	writer *kafka.Writer
}

func NewSagaEventProducer(writer *kafka.Writer) *SagaEventProducer {
	return &SagaEventProducer{writer: writer}
}

func (p *SagaEventProducer) Publish(ctx context.Context, event domain.SagaEvent) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal saga event: %w", err)
	}
	return mq.ProduceMessage(ctx, p.writer, []byte(event.SagaID), eventBytes)
}

// Close 关闭底层的 Kafka writer。
func (p *SagaEventProducer) Close() error {
	return p.writer.Close()
}
