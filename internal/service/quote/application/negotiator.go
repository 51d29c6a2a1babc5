// internal/service/quote/application/negotiator.go
package application

import (
	"context"
	"fmt"
	"time"

	"circuitbay/internal/pkg/logger"
	"circuitbay/internal/service/quote/domain"
	"circuitbay/internal/service/quote/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Negotiator 驱动大宗采购的询价协商状态机。
// 数量 > negotiationThreshold 才进入协商；(bulkThreshold, negotiationThreshold]
// 只标记为大宗订单，直接走普通下单。
type Negotiator struct {
	repo     domain.QuoteRepository
	pricer   port.OpeningPricer
	notifier port.Notifier
	tracer   trace.Tracer

	negotiationThreshold int64
	inactivityWindow     time.Duration
	now                  func() time.Time
}

func NewNegotiator(
	repo domain.QuoteRepository,
	pricer port.OpeningPricer,
	notifier port.Notifier,
	tracer trace.Tracer,
	negotiationThreshold int64,
	inactivityWindow time.Duration,
) *Negotiator {
	return &Negotiator{
		repo:                 repo,
		pricer:               pricer,
		notifier:             notifier,
		tracer:               tracer,
		negotiationThreshold: negotiationThreshold,
		inactivityWindow:     inactivityWindow,
		now:                  time.Now,
	}
}

// Request 由买家发起询价。数量不足门槛返回 ErrNotEligible。
func (n *Negotiator) Request(ctx context.Context, buyerID, sellerID, componentID string, quantity int64) (*domain.BulkQuote, error) {
	ctx, span := n.tracer.Start(ctx, "quote.Request")
	defer span.End()
	span.SetAttributes(
		attribute.String("component.id", componentID),
		attribute.Int64("quote.quantity", quantity),
	)

	if quantity <= n.negotiationThreshold {
		return nil, fmt.Errorf("%w: quantity %d requires > %d", domain.ErrNotEligible, quantity, n.negotiationThreshold)
	}

	suggested, err := n.pricer.OpeningUnitPrice(ctx, componentID, quantity)
	if err != nil {
		// 建议价拿不到不阻塞询价，由卖家首次报价兜底
		logger.Ctx(ctx).Warn().Err(err).Str("component_id", componentID).Msg("opening price unavailable, quote starts without a suggestion")
		suggested = 0
	}

	quote := domain.NewQuoteRequest(uuid.New().String(), buyerID, sellerID, componentID, quantity, suggested, n.now())
	if err := n.repo.Create(ctx, quote); err != nil {
		return nil, fmt.Errorf("failed to persist quote request: %w", err)
	}

	logger.Ctx(ctx).Info().
		Str("quote_id", quote.ID).
		Int64("quantity", quantity).
		Int64("suggested_unit_minor", suggested).
		Msg("bulk quote requested")
	return quote, nil
}

// Quote 卖家出价。
func (n *Negotiator) Quote(ctx context.Context, quoteID string, unitPriceMinor, quantity int64) (*domain.BulkQuote, error) {
	return n.move(ctx, "quote.Quote", quoteID, func(q *domain.BulkQuote) error {
		return q.Quote(unitPriceMinor, quantity, n.now())
	})
}

// Counter 买家还价。
func (n *Negotiator) Counter(ctx context.Context, quoteID string, unitPriceMinor, quantity int64) (*domain.BulkQuote, error) {
	return n.move(ctx, "quote.Counter", quoteID, func(q *domain.BulkQuote) error {
		return q.Counter(unitPriceMinor, quantity, n.now())
	})
}

// Accept 一方接受对方的最后出价，协商结束。
func (n *Negotiator) Accept(ctx context.Context, quoteID string, actor domain.Actor) (*domain.BulkQuote, error) {
	return n.move(ctx, "quote.Accept", quoteID, func(q *domain.BulkQuote) error {
		return q.Accept(actor, n.now())
	})
}

// Reject 一方拒绝协商，终态，不产生订单。
func (n *Negotiator) Reject(ctx context.Context, quoteID string, actor domain.Actor) (*domain.BulkQuote, error) {
	return n.move(ctx, "quote.Reject", quoteID, func(q *domain.BulkQuote) error {
		return q.Reject(actor, n.now())
	})
}

// ConsumeAccepted 把 accepted 的报价兑换成订单，幂等保护：二次兑换失败。
func (n *Negotiator) ConsumeAccepted(ctx context.Context, quoteID, orderID string) (*domain.BulkQuote, error) {
	ctx, span := n.tracer.Start(ctx, "quote.ConsumeAccepted")
	defer span.End()
	span.SetAttributes(attribute.String("quote.id", quoteID), attribute.String("order.id", orderID))

	quote, err := n.repo.Get(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if err := quote.ConsumeForOrder(orderID); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := n.repo.Update(ctx, quote); err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("quote_id", quoteID).
		Str("order_id", orderID).
		Int64("agreed_total_minor", quote.AgreedTotalMinor()).
		Msg("accepted quote consumed by order")
	return quote, nil
}

// ExpireInactive 过期扫描：把不活跃窗口耗尽的非终态报价置为 expired。
// 由 escrow-timer 周期调用，at-least-once，Expire 对终态是拒绝的所以重复安全。
func (n *Negotiator) ExpireInactive(ctx context.Context, limit int) (int, error) {
	ctx, span := n.tracer.Start(ctx, "quote.ExpireInactive")
	defer span.End()

	cutoff := n.now().Add(-n.inactivityWindow)
	quotes, err := n.repo.FindInactiveBefore(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to scan inactive quotes: %w", err)
	}

	expired := 0
	for _, quote := range quotes {
		if err := quote.Expire(n.now()); err != nil {
			continue
		}
		if err := n.repo.Update(ctx, quote); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("quote_id", quote.ID).Msg("failed to expire quote")
			continue
		}
		expired++
		n.publish(ctx, quote, "quote_expired")
	}

	span.SetAttributes(attribute.Int("quote.expired_count", expired))
	return expired, nil
}

// move 是一次协商动作的通用骨架：读、流转、带乐观锁写回、发通知。
func (n *Negotiator) move(ctx context.Context, spanName, quoteID string, action func(*domain.BulkQuote) error) (*domain.BulkQuote, error) {
	ctx, span := n.tracer.Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(attribute.String("quote.id", quoteID))

	quote, err := n.repo.Get(ctx, quoteID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := action(quote); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "quote transition rejected")
		return nil, err
	}

	if err := n.repo.Update(ctx, quote); err != nil {
		span.RecordError(err)
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("quote_id", quote.ID).
		Str("status", string(quote.Status)).
		Str("last_actor", string(quote.LastActor)).
		Int("rounds", quote.Rounds).
		Msg("quote negotiation advanced")
	n.publish(ctx, quote, "quote_responded")
	return quote, nil
}

// publish 投递通知，失败只记日志。
func (n *Negotiator) publish(ctx context.Context, quote *domain.BulkQuote, eventType string) {
	err := n.notifier.Notify(ctx, port.Notification{
		Type:           eventType,
		RecipientID:    quote.BuyerID,
		QuoteID:        quote.ID,
		Status:         string(quote.Status),
		UnitPriceMinor: quote.UnitPriceMinor,
		Quantity:       quote.Quantity,
	})
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("quote_id", quote.ID).Msg("quote notification delivery failed")
	}
}

// SetClock 注入测试时钟。
func (n *Negotiator) SetClock(now func() time.Time) { n.now = now }
