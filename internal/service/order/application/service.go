// internal/service/order/application/service.go
package application

import (
	"context"
	"fmt"
	"time"

	"circuitbay/internal/pkg/logger"
	"circuitbay/internal/service/order/application/saga"
	"circuitbay/internal/service/order/domain"
	"circuitbay/internal/service/order/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OrderApplicationService 编排订单用例：创建（含报价兑换）、状态推进、
// 挂运单、取消。分布式一致性交给 saga.Orchestrator。
type OrderApplicationService struct {
	orders       domain.OrderRepository
	orchestrator *saga.Orchestrator
	quoteSvc     port.QuoteService
	pricer       port.Pricer
	notifier     port.Notifier
	sagaEvents   port.SagaEventPublisher
	tracer       trace.Tracer

	negotiationThreshold int64
	now                  func() time.Time
}

func NewOrderApplicationService(
	orders domain.OrderRepository,
	orchestrator *saga.Orchestrator,
	quoteSvc port.QuoteService,
	pricer port.Pricer,
	notifier port.Notifier,
	sagaEvents port.SagaEventPublisher,
	tracer trace.Tracer,
	negotiationThreshold int64,
) *OrderApplicationService {
	return &OrderApplicationService{
		orders:               orders,
		orchestrator:         orchestrator,
		quoteSvc:             quoteSvc,
		pricer:               pricer,
		notifier:             notifier,
		sagaEvents:           sagaEvents,
		tracer:               tracer,
		negotiationThreshold: negotiationThreshold,
		now:                  time.Now,
	}
}

// CreateOrder 创建订单并开启采购 Saga。
// 超过协商门槛的数量必须携带 accepted 的报价；报价兑换是一次性的。
func (s *OrderApplicationService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.CreateOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("component.id", req.ComponentID),
		attribute.Int64("order.quantity", req.Quantity),
	)

	orderID := uuid.New().String()
	in := domain.CreateOrderInput{
		ID:          orderID,
		BuyerID:     req.BuyerID,
		SellerID:    req.SellerID,
		ComponentID: req.ComponentID,
		Quantity:    req.Quantity,
		Address:     req.Address,
		QuoteID:     req.QuoteID,
	}

	if req.QuoteID != "" {
		agreed, err := s.quoteSvc.ConsumeAccepted(ctx, req.QuoteID, orderID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "quote consumption failed")
			return nil, err
		}
		in.Quantity = agreed.Quantity
		in.UnitPriceMinor = agreed.UnitPriceMinor
		in.ComponentID = agreed.ComponentID
		in.SellerID = agreed.SellerID
		tax, err := s.pricer.TaxOn(ctx, agreed.UnitPriceMinor*agreed.Quantity)
		if err != nil {
			return nil, fmt.Errorf("failed to compute tax: %w", err)
		}
		in.TaxMinor = tax
	} else {
		if req.Quantity > s.negotiationThreshold {
			return nil, &domain.ValidationError{
				Field:  "quantity",
				Reason: fmt.Sprintf("quantities above %d require an accepted bulk quote", s.negotiationThreshold),
			}
		}
		unit, tax, err := s.pricer.PriceOrder(ctx, req.ComponentID, req.Quantity)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to price order: %w", err)
		}
		in.UnitPriceMinor = unit
		in.TaxMinor = tax
	}

	order, err := domain.NewOrder(in, s.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "order validation failed")
		return nil, err
	}

	if err := s.orders.Create(ctx, order); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}
	span.AddEvent("pending order persisted")

	s.notify(ctx, order.BuyerID, "normal", domain.OrderCreated{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     order.BuyerID,
		IsBulkOrder: order.IsBulkOrder,
		TotalMinor:  order.TotalMinor,
	})

	_, session, err := s.orchestrator.Start(ctx, order)
	if err != nil {
		// Saga 已经自行补偿，订单保持 pending 供买家重试或取消
		logger.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).Msg("purchase saga failed at start")
		return nil, err
	}

	resp := &CreateOrderResponse{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		IsBulkOrder: order.IsBulkOrder,
		TotalMinor:  order.TotalMinor,
		Message:     "order accepted, awaiting payment",
	}
	if session != nil {
		resp.PayURL = session.PayURL
	}
	return resp, nil
}

// Transition 沿前向边推进订单状态；推进到 delivered 时向 Saga 主题
// 发布收货确认事件，触发托管提前放款。
func (s *OrderApplicationService) Transition(ctx context.Context, req *TransitionRequest) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.Transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("order.target", string(req.Target)),
	)

	if req.Target == domain.StatusCancelled {
		if err := s.orchestrator.Cancel(ctx, req.OrderID, "buyer requested cancellation"); err != nil {
			span.RecordError(err)
			return nil, err
		}
		return s.orders.Get(ctx, req.OrderID)
	}

	order, err := s.orders.Get(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	from := order.Status
	if err := order.Transition(req.Target, s.now()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "illegal transition")
		return nil, err
	}
	if err := s.orders.Update(ctx, order); err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.notify(ctx, order.BuyerID, "normal", domain.OrderStatusChanged{
		OrderID: order.ID,
		From:    from,
		To:      order.Status,
		At:      s.now(),
	})

	if order.Status == domain.StatusDelivered {
		s.publishDeliveryConfirmed(ctx, order)
	}
	return order, nil
}

// PaymentCallbackApplied 在网关回调落账后把结果回流到 Saga 主题。
// 支付接入层在状态变更生效时调用，重复投递的回调不会走到这里。
func (s *OrderApplicationService) PaymentCallbackApplied(ctx context.Context, orderID, paymentID string, completed bool) error {
	sagaID, fence, err := s.orchestrator.FenceFor(ctx, orderID)
	if err != nil {
		return fmt.Errorf("no saga found for order %s: %w", orderID, err)
	}
	status := "failed"
	if completed {
		status = "completed"
	}
	return s.sagaEvents.Publish(ctx, domain.SagaEvent{
		SagaID:  sagaID,
		OrderID: orderID,
		Type:    domain.SagaEventPaymentCallback,
		Fence:   fence,
		Payload: map[string]string{"payment_id": paymentID, "status": status},
	})
}

// publishDeliveryConfirmed 把收货确认投递到 Saga 主题。
// 投递失败不回滚订单，托管放款由 7 天定时器兜底。
func (s *OrderApplicationService) publishDeliveryConfirmed(ctx context.Context, order *domain.Order) {
	sagaID, fence, err := s.orchestrator.FenceFor(ctx, order.ID)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", order.ID).Msg("no saga found for delivered order")
		return
	}
	err = s.sagaEvents.Publish(ctx, domain.SagaEvent{
		SagaID:  sagaID,
		OrderID: order.ID,
		Type:    domain.SagaEventDeliveryConfirmed,
		Fence:   fence,
	})
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("order_id", order.ID).
			Msg("failed to publish delivery confirmation, escrow timer will settle")
	}
}

// AttachTracking 为已发货的订单挂运单。
func (s *OrderApplicationService) AttachTracking(ctx context.Context, req *AttachTrackingRequest) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.AttachTracking")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", req.OrderID))

	order, err := s.orders.Get(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if err := order.AttachTracking(req.Carrier, req.TrackingNumber, s.now()); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// Cancel 买家主动取消，只在支付完成前被接受。
func (s *OrderApplicationService) Cancel(ctx context.Context, req *CancelRequest) error {
	ctx, span := s.tracer.Start(ctx, "app.Cancel")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", req.OrderID))

	return s.orchestrator.Cancel(ctx, req.OrderID, req.Reason)
}

// Get 返回订单只读投影。
func (s *OrderApplicationService) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.orders.Get(ctx, orderID)
}

func (s *OrderApplicationService) notify(ctx context.Context, recipient, priority string, event domain.Event) {
	err := s.notifier.Notify(ctx, port.Notification{
		Priority:    priority,
		RecipientID: recipient,
		Event:       event,
	})
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("event", event.EventType()).Msg("notification delivery failed")
	}
}

// SetClock 注入测试时钟。
func (s *OrderApplicationService) SetClock(now func() time.Time) { s.now = now }
