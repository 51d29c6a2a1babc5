// internal/service/order/domain/event.go
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event 是订单域对外发布的领域事件，封闭集合：
// 新增事件必须在本文件登记类型标签，消费方按标签路由。
type Event interface {
	EventType() string
}

type OrderCreated struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	BuyerID     string `json:"buyerId"`
	IsBulkOrder bool   `json:"isBulkOrder"`
	TotalMinor  int64  `json:"totalMinor"`
}

func (OrderCreated) EventType() string { return "order_created" }

type OrderStatusChanged struct {
	OrderID string    `json:"orderId"`
	From    Status    `json:"from"`
	To      Status    `json:"to"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

func (OrderStatusChanged) EventType() string { return "order_status_changed" }

type PaymentConfirmed struct {
	OrderID     string `json:"orderId"`
	PaymentID   string `json:"paymentId"`
	AmountMinor int64  `json:"amountMinor"`
}

func (PaymentConfirmed) EventType() string { return "payment_confirmed" }

type EscrowReleased struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Trigger   string `json:"trigger"` // delivery | timer
}

func (EscrowReleased) EventType() string { return "escrow_released" }

type DisputeOpened struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

func (DisputeOpened) EventType() string { return "dispute_opened" }

// InvoiceReady 在托管放款、订单结清之后发布，供下游开票。
type InvoiceReady struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	TotalMinor  int64  `json:"totalMinor"`
	TaxMinor    int64  `json:"taxMinor"`
}

func (InvoiceReady) EventType() string { return "invoice_ready" }

// SagaParked 在补偿重试耗尽、Saga 转入人工介入时发布，运维侧消费。
type SagaParked struct {
	SagaID  string `json:"sagaId"`
	OrderID string `json:"orderId"`
	Step    string `json:"step"`
	Reason  string `json:"reason"`
}

func (SagaParked) EventType() string { return "saga_parked" }

// QuoteResponded 在协商有新动作（报价、还价、接受、拒绝）时发给买家。
type QuoteResponded struct {
	QuoteID        string `json:"quoteId"`
	Status         string `json:"status"`
	UnitPriceMinor int64  `json:"unitPriceMinor"`
	Quantity       int64  `json:"quantity"`
}

func (QuoteResponded) EventType() string { return "quote_responded" }

// QuoteExpired 在报价超过不活跃窗口被关闭时发给买家。
type QuoteExpired struct {
	QuoteID string `json:"quoteId"`
}

func (QuoteExpired) EventType() string { return "quote_expired" }

// Envelope 是事件上线的统一包装：type 为判别标签，
// recipientId/priority 供网关路由，payload 按标签还原成具体事件。
type Envelope struct {
	Type        string          `json:"type"`
	RecipientID string          `json:"recipientId"`
	Priority    string          `json:"priority"`
	Payload     json.RawMessage `json:"payload"`
}

// WrapEvent 把事件封包成带判别标签和路由信息的信封。
func WrapEvent(e Event, recipientID, priority string) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", e.EventType(), err)
	}
	return json.Marshal(Envelope{
		Type:        e.EventType(),
		RecipientID: recipientID,
		Priority:    priority,
		Payload:     payload,
	})
}

// UnwrapEvent 按判别标签还原具体事件，未登记的标签是错误。
func UnwrapEvent(data []byte) (Envelope, Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, nil, fmt.Errorf("failed to unmarshal event envelope: %w", err)
	}

	var event Event
	switch env.Type {
	case "order_created":
		event = &OrderCreated{}
	case "order_status_changed":
		event = &OrderStatusChanged{}
	case "payment_confirmed":
		event = &PaymentConfirmed{}
	case "escrow_released":
		event = &EscrowReleased{}
	case "dispute_opened":
		event = &DisputeOpened{}
	case "invoice_ready":
		event = &InvoiceReady{}
	case "saga_parked":
		event = &SagaParked{}
	case "quote_responded":
		event = &QuoteResponded{}
	case "quote_expired":
		event = &QuoteExpired{}
	default:
		return env, nil, fmt.Errorf("unknown event type %q", env.Type)
	}
	if err := json.Unmarshal(env.Payload, event); err != nil {
		return env, nil, fmt.Errorf("failed to unmarshal %s payload: %w", env.Type, err)
	}
	return env, event, nil
}
