// internal/service/order/infrastructure/kafka_consumer.go
package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"circuitbay/internal/pkg/logger"
	"circuitbay/internal/pkg/mq"
	"circuitbay/internal/service/order/application/saga"
	"circuitbay/internal/service/order/domain"

	"github.com/segmentio/kafka-go"
)

// SagaEventConsumer 监听 Saga 主题并把事件路由到编排器。
// 主题是 at-least-once 的：重复投递由终态忽略和 fencing token 挡掉，
// 所以消费失败时不提交 offset，等重投即可。
type SagaEventConsumer struct {
	reader       *kafka.Reader
	orchestrator *saga.Orchestrator
	wg           sync.WaitGroup
	stopped      bool
}

func NewSagaEventConsumer(reader *kafka.Reader, orchestrator *saga.Orchestrator) *SagaEventConsumer {
	return &SagaEventConsumer{
		reader:       reader,
		orchestrator: orchestrator,
	}
}

// Start 开始消费，长期运行直到 ctx 取消或 Stop 被调用。
func (c *SagaEventConsumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		logger.Logger.Info().Str("topic", c.reader.Config().Topic).Msg("saga event consumer started")
		for {
			if c.stopped {
				return
			}
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Logger.Info().Msg("saga event consumer shutting down")
					return
				}
				logger.Logger.Error().Err(err).Msg("could not fetch saga event, retrying")
				time.Sleep(time.Second)
				continue
			}

			if c.processMessage(ctx, msg) {
				if err := c.reader.CommitMessages(ctx, msg); err != nil {
					logger.Logger.Error().Err(err).Msg("failed to commit saga event offset")
				}
			}
		}
	}()
}

// Stop 优雅地停止消费者。
func (c *SagaEventConsumer) Stop() {
	c.stopped = true
	c.reader.Close()
	c.wg.Wait()
	logger.Logger.Info().Msg("saga event consumer stopped")
}

// processMessage 返回是否提交 offset。
// 解析失败和 fencing 拒收是确定性错误，提交跳过；其余错误等待重投。
func (c *SagaEventConsumer) processMessage(parentCtx context.Context, msg kafka.Message) bool {
	var event domain.SagaEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		logger.Logger.Error().Err(err).Msg("malformed saga event skipped")
		return true
	}

	ctx := mq.ExtractTraceContext(parentCtx, msg.Headers)

	if err := c.orchestrator.OnEvent(ctx, event); err != nil {
		if errors.Is(err, domain.ErrStaleFence) || errors.Is(err, domain.ErrSagaNotFound) {
			return true
		}
		logger.Ctx(ctx).Error().Err(err).
			Str("saga_id", event.SagaID).
			Str("event", string(event.Type)).
			Msg("saga event handling failed, will be redelivered")
		return false
	}
	return true
}
