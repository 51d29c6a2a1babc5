// internal/service/payment/application/coordinator.go
package application

import (
	"context"
	"fmt"
	"time"

	"circuitbay/internal/pkg/logger"
	"circuitbay/internal/pkg/metrics"
	"circuitbay/internal/service/payment/domain"
	"circuitbay/internal/service/payment/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Callback 是网关异步回调的载荷（签名已在接入层验证）。
type Callback struct {
	GatewayTxID string `json:"gatewayTxId"`
	Status      string `json:"status"` // "success" | "failed"
	AmountMinor int64  `json:"amount"`
	Signature   string `json:"signature"`
}

// Coordinator 是支付托管协调器：对接网关、管理资金的 hold/release/refund。
// 税和梯度价在调用 Initiate 之前算好，Payment 创建后金额不可变。
type Coordinator struct {
	repo     domain.PaymentRepository
	gateway  port.Gateway
	dedup    port.CallbackDeduper
	disputes port.DisputeChecker
	payouts  port.PayoutNotifier
	tracer   trace.Tracer

	holdWindow time.Duration    // 托管窗口，默认 7 天
	now        func() time.Time // 可注入时钟
}

func NewCoordinator(
	repo domain.PaymentRepository,
	gateway port.Gateway,
	dedup port.CallbackDeduper,
	disputes port.DisputeChecker,
	payouts port.PayoutNotifier,
	tracer trace.Tracer,
	holdWindow time.Duration,
) *Coordinator {
	return &Coordinator{
		repo:       repo,
		gateway:    gateway,
		dedup:      dedup,
		disputes:   disputes,
		payouts:    payouts,
		tracer:     tracer,
		holdWindow: holdWindow,
		now:        time.Now,
	}
}

// Initiate 创建 pending 支付和一个网关收款会话。
// 网关重试耗尽后返回 port.ErrGatewayUnavailable，由编排器决定延迟或补偿。
func (c *Coordinator) Initiate(ctx context.Context, orderID, sellerID string, amountMinor int64, currency, method string) (*domain.Payment, *port.Session, error) {
	ctx, span := c.tracer.Start(ctx, "payment.Initiate")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.Int64("payment.amount_minor", amountMinor),
	)

	session, err := c.gateway.CreateSession(ctx, amountMinor, currency, method)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway session creation failed")
		return nil, nil, err
	}

	payment, err := domain.NewPayment(uuid.New().String(), orderID, sellerID, amountMinor, currency, method, session.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if err := c.repo.Create(ctx, payment); err != nil {
		return nil, nil, fmt.Errorf("failed to persist payment: %w", err)
	}

	logger.Ctx(ctx).Info().
		Str("payment_id", payment.ID).
		Str("order_id", orderID).
		Str("gateway_tx", session.SessionID).
		Msg("payment session initiated")
	return payment, session, nil
}

// HandleCallback 处理网关回调并推进 pending → completed|failed。
// 幂等：重复投递的回调（同一网关交易号）不会二次应用，applied 返回 false。
func (c *Coordinator) HandleCallback(ctx context.Context, cb Callback) (payment *domain.Payment, applied bool, err error) {
	ctx, span := c.tracer.Start(ctx, "payment.HandleCallback")
	defer span.End()
	span.SetAttributes(attribute.String("gateway.tx_id", cb.GatewayTxID))

	seen, err := c.dedup.AlreadyApplied(ctx, cb.GatewayTxID)
	if err != nil {
		// 去重键不可用时退化为仅靠状态机防御，不拒收回调
		logger.Ctx(ctx).Warn().Err(err).Msg("callback dedup check failed, relying on status guard")
	} else if seen {
		metrics.CallbackReplays.Inc()
		span.AddEvent("duplicate callback dropped")
		p, gerr := c.repo.GetByGatewayTx(ctx, cb.GatewayTxID)
		return p, false, gerr
	}

	payment, err = c.repo.GetByGatewayTx(ctx, cb.GatewayTxID)
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}

	// 去重键失效时的第二道防线：状态机只接受一次流转
	if payment.Status != domain.StatusPending {
		metrics.CallbackReplays.Inc()
		return payment, false, nil
	}

	if cb.AmountMinor != payment.AmountMinor {
		return nil, false, fmt.Errorf("callback amount %d does not match payment amount %d", cb.AmountMinor, payment.AmountMinor)
	}

	if cb.Status == "success" {
		err = payment.Complete()
	} else {
		err = payment.Fail()
	}
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	if err := c.repo.Update(ctx, payment); err != nil {
		return nil, false, err
	}

	// 落账成功后才登记去重键：中途失败的投递必须留给网关重试。
	// 登记失败不致命，重放会被状态机挡掉。
	if err := c.dedup.MarkApplied(ctx, cb.GatewayTxID); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("failed to mark callback dedup key")
	}

	logger.Ctx(ctx).Info().
		Str("payment_id", payment.ID).
		Str("status", string(payment.Status)).
		Msg("gateway callback applied")
	return payment, true, nil
}

// HoldInEscrow 将已完成的支付转入托管，heldUntil = now + 托管窗口。
func (c *Coordinator) HoldInEscrow(ctx context.Context, paymentID string) error {
	ctx, span := c.tracer.Start(ctx, "payment.HoldInEscrow")
	defer span.End()

	payment, err := c.repo.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	if err := payment.HoldInEscrow(c.now().Add(c.holdWindow)); err != nil {
		span.RecordError(err)
		return err
	}
	return c.repo.Update(ctx, payment)
}

// ConfirmDelivery 买家确认收货：heldUntil 提前到当下，随即触发放款。
func (c *Coordinator) ConfirmDelivery(ctx context.Context, paymentID string) error {
	ctx, span := c.tracer.Start(ctx, "payment.ConfirmDelivery")
	defer span.End()

	payment, err := c.repo.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	if err := payment.ConfirmDelivery(c.now()); err != nil {
		span.RecordError(err)
		return err
	}
	if err := c.repo.Update(ctx, payment); err != nil {
		return err
	}
	return c.Release(ctx, paymentID, domain.TriggerDelivery)
}

// Release 放款给卖家。订单挂着未决纠纷时推迟，返回 domain.ErrEscrowDisputed。
func (c *Coordinator) Release(ctx context.Context, paymentID string, trigger domain.ReleaseTrigger) error {
	ctx, span := c.tracer.Start(ctx, "payment.Release")
	defer span.End()
	span.SetAttributes(attribute.String("escrow.trigger", string(trigger)))

	payment, err := c.repo.Get(ctx, paymentID)
	if err != nil {
		return err
	}

	disputed, err := c.disputes.HasOpenDispute(ctx, payment.OrderID)
	if err != nil {
		// 纠纷服务不可用时宁可推迟放款
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", payment.OrderID).Msg("dispute check failed, deferring release")
		return domain.ErrEscrowDisputed
	}
	if disputed {
		span.AddEvent("release deferred: open dispute")
		return domain.ErrEscrowDisputed
	}

	if err := payment.Release(c.now(), trigger); err != nil {
		span.RecordError(err)
		return err
	}
	if err := c.repo.Update(ctx, payment); err != nil {
		return err
	}

	metrics.EscrowReleases.WithLabelValues(string(trigger)).Inc()

	// 卖家打款事件 fire-and-forget，失败只记日志
	if err := c.payouts.EmitSellerPayout(ctx, payment.ID, payment.OrderID, payment.SellerID, payment.AmountMinor); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("payment_id", payment.ID).Msg("failed to emit seller payout event")
	}
	return nil
}

// Refund 全额或部分退款，先请求网关原路退回，成功后落库。
func (c *Coordinator) Refund(ctx context.Context, paymentID string, amountMinor int64, reason string) error {
	ctx, span := c.tracer.Start(ctx, "payment.Refund")
	defer span.End()

	payment, err := c.repo.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	if payment.Status == domain.StatusRefunded {
		return nil // 幂等
	}

	if err := c.gateway.RefundTransaction(ctx, payment.GatewayTxID, amountMinor, reason); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway refund failed")
		return err
	}

	if err := payment.Refund(amountMinor, reason, c.now()); err != nil {
		span.RecordError(err)
		return err
	}
	return c.repo.Update(ctx, payment)
}

// Abandon 放弃一个还未完成的支付会话（Saga 补偿第 2 步）。
// 支付已经完成的场合不做任何事，由退款补偿接手。
func (c *Coordinator) Abandon(ctx context.Context, paymentID string) error {
	ctx, span := c.tracer.Start(ctx, "payment.Abandon")
	defer span.End()

	payment, err := c.repo.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	if payment.Status != domain.StatusPending {
		return nil
	}

	if err := c.gateway.AbandonSession(ctx, payment.GatewayTxID); err != nil {
		// 会话在网关侧会自然过期，放弃失败不算致命
		logger.Ctx(ctx).Warn().Err(err).Str("payment_id", paymentID).Msg("failed to abandon gateway session")
	}

	if err := payment.Fail(); err != nil {
		return err
	}
	return c.repo.Update(ctx, payment)
}

// FindDueEscrows 供托管定时器扫描到期的托管。
func (c *Coordinator) FindDueEscrows(ctx context.Context, limit int) ([]*domain.Payment, error) {
	return c.repo.FindDueEscrows(ctx, c.now(), limit)
}

// SetClock 仅测试使用。
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }
