package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"circuitbay/internal/pkg/logger"
	"circuitbay/internal/pkg/metrics"
	"circuitbay/internal/pkg/resilience"
	"circuitbay/internal/service/order/domain"
	"circuitbay/internal/service/order/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Orchestrator 驱动采购 Saga 到完成或完整补偿。
// 步骤 1–2 在责任链上同步执行；3–5 由 Saga 主题上的异步事件推进。
// 每个完成的步骤连同补偿载荷落进 SagaRecord，按名回放，
// 所以补偿在进程重启后依然能继续。
type Orchestrator struct {
	orders   domain.OrderRepository
	sagas    domain.SagaStore
	invSvc   port.InventoryService
	paySvc   port.PaymentService
	notifier port.Notifier
	tracer   trace.Tracer

	retry    resilience.RetryPolicy
	currency string
	method   string
	now      func() time.Time
}

func NewOrchestrator(
	orders domain.OrderRepository,
	sagas domain.SagaStore,
	invSvc port.InventoryService,
	paySvc port.PaymentService,
	notifier port.Notifier,
	tracer trace.Tracer,
	currency string,
) *Orchestrator {
	return &Orchestrator{
		orders:   orders,
		sagas:    sagas,
		invSvc:   invSvc,
		paySvc:   paySvc,
		notifier: notifier,
		tracer:   tracer,
		retry:    resilience.DefaultRetryPolicy(),
		currency: currency,
		method:   "gateway",
		now:      time.Now,
	}
}

// Start 为一个 pending 订单开启采购 Saga，同步执行步骤 1–2。
// 任一步失败立即回放已完成步骤的补偿，订单保持可取消的 pending。
func (o *Orchestrator) Start(ctx context.Context, order *domain.Order) (*domain.SagaRecord, *port.PaymentSession, error) {
	ctx, span := o.tracer.Start(ctx, "saga.Start")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", order.ID))

	record := domain.NewSagaRecord(uuid.New().String(), order.ID, o.now())
	if err := o.sagas.Create(ctx, record); err != nil {
		return nil, nil, fmt.Errorf("failed to persist saga record: %w", err)
	}
	span.SetAttributes(attribute.String("saga.id", record.ID))

	sagaCtx := &SagaContext{
		Ctx:       ctx,
		Order:     order,
		Record:    record,
		Tracer:    o.tracer,
		Now:       o.now,
		Inventory: o.invSvc,
		Payment:   o.paySvc,
	}

	if err := o.buildChain().Handle(sagaCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "saga forward chain failed")
		logger.Ctx(ctx).Error().Err(err).
			Str("saga_id", record.ID).
			Str("order_id", order.ID).
			Msg("purchase saga failed in synchronous section, compensating")

		if compErr := o.Compensate(ctx, record, err.Error()); compErr != nil {
			return record, nil, compErr
		}
		return record, nil, err
	}

	record.AdvancePhase(domain.PhaseAwaitingPayment, o.now())
	if err := o.sagas.Update(ctx, record); err != nil {
		return record, nil, fmt.Errorf("failed to advance saga phase: %w", err)
	}

	logger.Ctx(ctx).Info().
		Str("saga_id", record.ID).
		Str("order_id", order.ID).
		Int64("fence", record.Fence).
		Msg("saga awaiting gateway callback")
	return record, sagaCtx.Session, nil
}

func (o *Orchestrator) buildChain() Handler {
	chain := new(ReserveInventoryHandler)
	chain.SetNext(&InitiatePaymentHandler{Currency: o.currency, Method: o.method})
	return chain
}

// OnEvent 是异步段（步骤 3–5）的入口，由 Kafka 消费者按 saga id 路由。
// 终态 Saga 收到的重复事件直接忽略；fencing token 过期的事件被拒收。
func (o *Orchestrator) OnEvent(ctx context.Context, event domain.SagaEvent) error {
	ctx, span := o.tracer.Start(ctx, "saga.OnEvent", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("saga.id", event.SagaID),
		attribute.String("saga.event", string(event.Type)),
	)

	record, err := o.sagas.Get(ctx, event.SagaID)
	if err != nil {
		return err
	}
	if record.Phase.Terminal() {
		span.AddEvent("event for terminal saga ignored")
		logger.Ctx(ctx).Info().
			Str("saga_id", record.ID).
			Str("phase", string(record.Phase)).
			Msg("duplicate event for terminal saga ignored")
		return nil
	}
	if err := record.CheckFence(event.Fence); err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Warn().Err(err).
			Str("saga_id", record.ID).
			Str("event", string(event.Type)).
			Msg("event with stale fencing token rejected")
		return err
	}

	switch event.Type {
	case domain.SagaEventPaymentCallback:
		return o.onPaymentCallback(ctx, record, event)
	case domain.SagaEventEscrowDue:
		return o.onEscrowDue(ctx, record)
	case domain.SagaEventDeliveryConfirmed:
		return o.onDeliveryConfirmed(ctx, record)
	default:
		return fmt.Errorf("unknown saga event type %q", event.Type)
	}
}

// onPaymentCallback 是步骤 3–5：支付完成后托管资金并确认订单；
// 支付失败则整个 Saga 回滚。
func (o *Orchestrator) onPaymentCallback(ctx context.Context, record *domain.SagaRecord, event domain.SagaEvent) error {
	if record.Phase != domain.PhaseAwaitingPayment {
		return fmt.Errorf("payment callback in unexpected phase %q", record.Phase)
	}
	paymentID := event.Payload["payment_id"]

	if event.Payload["status"] != "completed" {
		logger.Ctx(ctx).Warn().
			Str("saga_id", record.ID).
			Str("payment_id", paymentID).
			Msg("payment failed, compensating saga")
		if err := o.Compensate(ctx, record, "payment failed"); err != nil {
			return err
		}
		return o.cancelPendingOrder(ctx, record.OrderID, "payment failed")
	}

	// 步骤 3：支付完成入账
	record.RecordStep(StepPaymentCompleted, map[string]string{"payment_id": paymentID}, o.now())

	// 步骤 4：托管资金
	if err := o.paySvc.HoldInEscrow(ctx, paymentID); err != nil {
		if compErr := o.Compensate(ctx, record, fmt.Sprintf("escrow hold failed: %v", err)); compErr != nil {
			return compErr
		}
		return err
	}
	record.RecordStep(StepHoldInEscrow, map[string]string{"payment_id": paymentID}, o.now())

	// 步骤 5：确认订单并落定库存
	order, err := o.confirmOrder(ctx, record)
	if err != nil {
		if compErr := o.Compensate(ctx, record, fmt.Sprintf("order confirmation failed: %v", err)); compErr != nil {
			return compErr
		}
		return err
	}

	record.AdvancePhase(domain.PhaseAwaitingSettlement, o.now())
	if err := o.sagas.Update(ctx, record); err != nil {
		return fmt.Errorf("failed to advance saga after payment: %w", err)
	}

	o.publish(ctx, order.BuyerID, "high", domain.PaymentConfirmed{
		OrderID:     order.ID,
		PaymentID:   paymentID,
		AmountMinor: order.TotalMinor,
	})
	logger.Ctx(ctx).Info().
		Str("saga_id", record.ID).
		Str("order_id", order.ID).
		Msg("payment held in escrow, order confirmed")
	return nil
}

// confirmOrder 推进订单 pending → confirmed，提交库存预占。
// 乐观锁冲突时重读重试，确认流转本身对重复应用是拒绝的。
func (o *Orchestrator) confirmOrder(ctx context.Context, record *domain.SagaRecord) (*domain.Order, error) {
	var order *domain.Order
	err := o.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		order, err = o.orders.Get(ctx, record.OrderID)
		if err != nil {
			return resilience.PermanentError(err)
		}
		if err := order.Transition(domain.StatusConfirmed, o.now()); err != nil {
			return resilience.PermanentError(err)
		}
		if err := o.orders.Update(ctx, order); err != nil {
			if errors.Is(err, domain.ErrConcurrentModification) {
				return err // 重读后重试
			}
			return resilience.PermanentError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if reservationID := record.StepPayload(StepReserveInventory, "reservation_id"); reservationID != "" {
		if err := o.invSvc.Commit(ctx, reservationID); err != nil {
			return nil, fmt.Errorf("failed to commit reservation: %w", err)
		}
	}

	record.RecordStep(StepConfirmOrder, map[string]string{"order_id": order.ID}, o.now())
	return order, nil
}

// onEscrowDue 是定时器触发的托管放款：T+7 天无收货确认自动打款。
func (o *Orchestrator) onEscrowDue(ctx context.Context, record *domain.SagaRecord) error {
	return o.settle(ctx, record, func(paymentID string) error {
		return o.paySvc.ReleaseByTimer(ctx, paymentID)
	}, "timer")
}

// onDeliveryConfirmed 是买家确认收货触发的提前放款。
func (o *Orchestrator) onDeliveryConfirmed(ctx context.Context, record *domain.SagaRecord) error {
	return o.settle(ctx, record, func(paymentID string) error {
		return o.paySvc.ConfirmDelivery(ctx, paymentID)
	}, "delivery")
}

func (o *Orchestrator) settle(ctx context.Context, record *domain.SagaRecord, release func(paymentID string) error, trigger string) error {
	if record.Phase != domain.PhaseAwaitingSettlement {
		return fmt.Errorf("settlement event in unexpected phase %q", record.Phase)
	}
	paymentID := record.StepPayload(StepInitiatePayment, "payment_id")

	if err := release(paymentID); err != nil {
		if errors.Is(err, domain.ErrSettlementDisputed) {
			o.publish(ctx, "operations", "high", domain.DisputeOpened{
				OrderID: record.OrderID,
				Reason:  fmt.Sprintf("settlement via %s blocked by open dispute", trigger),
			})
		}
		logger.Ctx(ctx).Error().Err(err).
			Str("saga_id", record.ID).
			Str("payment_id", paymentID).
			Msg("escrow release failed, will be retried on the next due scan")
		return err
	}

	record.AdvancePhase(domain.PhaseCompleted, o.now())
	if err := o.sagas.Update(ctx, record); err != nil {
		return fmt.Errorf("failed to complete saga: %w", err)
	}
	metrics.SagaOutcomes.WithLabelValues("completed").Inc()

	order, err := o.orders.Get(ctx, record.OrderID)
	if err != nil {
		return err
	}
	o.publish(ctx, order.SellerID, "high", domain.EscrowReleased{
		OrderID:   order.ID,
		PaymentID: paymentID,
		Trigger:   trigger,
	})
	o.publish(ctx, order.SellerID, "normal", domain.InvoiceReady{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		TotalMinor:  order.TotalMinor,
		TaxMinor:    order.TaxMinor,
	})

	logger.Ctx(ctx).Info().
		Str("saga_id", record.ID).
		Str("order_id", order.ID).
		Str("trigger", trigger).
		Msg("escrow released, saga completed")
	return nil
}

// Cancel 处理买家主动取消。只在支付 completed 之前接受；
// 之后的退款诉求走争议/退款通道，不再是取消流转。
func (o *Orchestrator) Cancel(ctx context.Context, orderID, reason string) error {
	ctx, span := o.tracer.Start(ctx, "saga.Cancel")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	record, err := o.sagas.GetByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	switch record.Phase {
	case domain.PhaseReserving, domain.PhaseAwaitingPayment:
		// 支付尚未完成，允许取消
	default:
		return fmt.Errorf("order %s can no longer be cancelled in saga phase %q, use the refund path", orderID, record.Phase)
	}

	if err := o.Compensate(ctx, record, "buyer cancelled"); err != nil {
		return err
	}
	return o.cancelPendingOrder(ctx, orderID, reason)
}

func (o *Orchestrator) cancelPendingOrder(ctx context.Context, orderID, reason string) error {
	return o.retry.Do(ctx, func(ctx context.Context) error {
		order, err := o.orders.Get(ctx, orderID)
		if err != nil {
			return resilience.PermanentError(err)
		}
		if order.Status == domain.StatusCancelled {
			return nil
		}
		if err := order.Cancel(reason, o.now()); err != nil {
			return resilience.PermanentError(err)
		}
		if err := o.orders.Update(ctx, order); err != nil {
			if errors.Is(err, domain.ErrConcurrentModification) {
				return err
			}
			return resilience.PermanentError(err)
		}
		o.publish(ctx, order.BuyerID, "normal", domain.OrderStatusChanged{
			OrderID: order.ID,
			From:    domain.StatusPending,
			To:      domain.StatusCancelled,
			Reason:  reason,
			At:      o.now(),
		})
		return nil
	})
}

// Compensate 按补偿日志逆序回放补偿动作，每个动作恰好应用一次。
// 单个补偿重试耗尽后 Saga 停靠到 needs-manual-intervention 并发运营告警，
// 绝不静默丢弃。
func (o *Orchestrator) Compensate(ctx context.Context, record *domain.SagaRecord, reason string) error {
	ctx, span := o.tracer.Start(ctx, "saga.Compensate")
	defer span.End()
	span.SetAttributes(
		attribute.String("saga.id", record.ID),
		attribute.String("saga.fail_reason", reason),
	)

	for _, step := range record.StepsToCompensate() {
		err := o.retry.Do(ctx, func(ctx context.Context) error {
			return o.compensateStep(ctx, record, step)
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "compensation failed")
			record.Park(fmt.Sprintf("compensation of %s failed: %v (saga failure: %s)", step.Name, err, reason), o.now())
			if updErr := o.sagas.Update(ctx, record); updErr != nil {
				logger.Ctx(ctx).Error().Err(updErr).Str("saga_id", record.ID).Msg("failed to persist parked saga")
			}
			metrics.SagaOutcomes.WithLabelValues("parked").Inc()

			o.publish(ctx, "operations", "critical", domain.SagaParked{
				SagaID:  record.ID,
				OrderID: record.OrderID,
				Step:    step.Name,
				Reason:  record.FailReason,
			})
			logger.Ctx(ctx).Error().
				Str("saga_id", record.ID).
				Str("step", step.Name).
				Msg("saga parked for manual intervention")
			return fmt.Errorf("%w: step %s", domain.ErrCompensationFailed, step.Name)
		}

		if record.MarkCompensated(step.Name, o.now()) {
			metrics.CompensationSteps.WithLabelValues(step.Name).Inc()
		}
		if err := o.sagas.Update(ctx, record); err != nil {
			return fmt.Errorf("failed to persist compensation progress: %w", err)
		}
	}

	record.AdvancePhase(domain.PhaseCompensated, o.now())
	if err := o.sagas.Update(ctx, record); err != nil {
		return fmt.Errorf("failed to finalize compensated saga: %w", err)
	}
	metrics.SagaOutcomes.WithLabelValues("compensated").Inc()

	logger.Ctx(ctx).Info().
		Str("saga_id", record.ID).
		Str("reason", reason).
		Msg("saga fully compensated")
	return nil
}

// compensateStep 是单个步骤的逆操作。去重由补偿日志保证，
// 这里的每个动作本身也都幂等。
func (o *Orchestrator) compensateStep(ctx context.Context, record *domain.SagaRecord, step domain.StepRecord) error {
	switch step.Name {
	case StepReserveInventory:
		return o.invSvc.Release(ctx, step.Payload["reservation_id"])
	case StepInitiatePayment:
		return o.paySvc.Abandon(ctx, step.Payload["payment_id"])
	case StepPaymentCompleted, StepHoldInEscrow:
		order, err := o.orders.Get(ctx, record.OrderID)
		if err != nil {
			return err
		}
		return o.paySvc.Refund(ctx, step.Payload["payment_id"], order.TotalMinor, "saga compensation")
	case StepConfirmOrder:
		// 已确认的订单不能再走取消边，只有仍 pending 时才回退
		order, err := o.orders.Get(ctx, record.OrderID)
		if err != nil {
			return err
		}
		if order.Status != domain.StatusPending {
			return nil
		}
		if err := order.Cancel("saga compensation", o.now()); err != nil {
			return nil
		}
		return o.orders.Update(ctx, order)
	default:
		return fmt.Errorf("no compensator registered for step %q", step.Name)
	}
}

// Resume 在进程启动时恢复非终态 Saga。
// 同步段崩溃的 Saga 直接补偿；等异步事件的 Saga 只需日志可见，
// 事件由主题 at-least-once 重投。
func (o *Orchestrator) Resume(ctx context.Context) error {
	records, err := o.sagas.FindInFlight(ctx)
	if err != nil {
		return fmt.Errorf("failed to load in-flight sagas: %w", err)
	}

	for _, record := range records {
		switch record.Phase {
		case domain.PhaseReserving:
			logger.Ctx(ctx).Warn().
				Str("saga_id", record.ID).
				Msg("saga interrupted in synchronous section, compensating on resume")
			if err := o.Compensate(ctx, record, "crash during synchronous section"); err != nil {
				logger.Ctx(ctx).Error().Err(err).Str("saga_id", record.ID).Msg("resume compensation failed")
			}
		default:
			logger.Ctx(ctx).Info().
				Str("saga_id", record.ID).
				Str("phase", string(record.Phase)).
				Int64("fence", record.Fence).
				Msg("in-flight saga resumed, awaiting events")
		}
	}
	return nil
}

// publish 投递通知，fire-and-forget。
func (o *Orchestrator) publish(ctx context.Context, recipient, priority string, event domain.Event) {
	err := o.notifier.Notify(ctx, port.Notification{
		Priority:    priority,
		RecipientID: recipient,
		Event:       event,
	})
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("event", event.EventType()).Msg("notification delivery failed")
	}
}

// SetClock 注入测试时钟。
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// SetRetryPolicy 注入测试用的重试策略。
func (o *Orchestrator) SetRetryPolicy(p resilience.RetryPolicy) { o.retry = p }

// FenceFor 暴露当前 fencing token，供发布异步事件的一方携带。
func (o *Orchestrator) FenceFor(ctx context.Context, orderID string) (string, int64, error) {
	record, err := o.sagas.GetByOrder(ctx, orderID)
	if err != nil {
		return "", 0, err
	}
	return record.ID, record.Fence, nil
}
