package adapter

import (
	"context"
	"fmt"

	"circuitbay/internal/service/order/domain"
	"circuitbay/internal/service/order/port"
	quoteport "circuitbay/internal/service/quote/port"
)

// QuoteNotificationAdapter 把协商侧的通知翻译成订单域的封闭事件，
// 再经统一的通知出口上线。协商通知一律 normal 优先级。
type QuoteNotificationAdapter struct {
	notifier port.Notifier
}

func NewQuoteNotificationAdapter(notifier port.Notifier) *QuoteNotificationAdapter {
	return &QuoteNotificationAdapter{notifier: notifier}
}

func (a *QuoteNotificationAdapter) Notify(ctx context.Context, n quoteport.Notification) error {
	var event domain.Event
	switch n.Type {
	case "quote_expired":
		event = domain.QuoteExpired{QuoteID: n.QuoteID}
	case "quote_responded":
		event = domain.QuoteResponded{
			QuoteID:        n.QuoteID,
			Status:         n.Status,
			UnitPriceMinor: n.UnitPriceMinor,
			Quantity:       n.Quantity,
		}
	default:
		return fmt.Errorf("unknown quote notification type %q", n.Type)
	}
	return a.notifier.Notify(ctx, port.Notification{
		Priority:    "normal",
		RecipientID: n.RecipientID,
		Event:       event,
	})
}
