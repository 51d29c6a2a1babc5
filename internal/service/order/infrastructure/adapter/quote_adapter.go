package adapter

import (
	"context"

	"circuitbay/internal/service/order/port"
	quoteapp "circuitbay/internal/service/quote/application"
)

// QuoteAdapter 把询价机挂到订单侧的出站端口上。
type QuoteAdapter struct {
	negotiator *quoteapp.Negotiator
}

func NewQuoteAdapter(negotiator *quoteapp.Negotiator) *QuoteAdapter {
	return &QuoteAdapter{negotiator: negotiator}
}

func (a *QuoteAdapter) ConsumeAccepted(ctx context.Context, quoteID, orderID string) (*port.AgreedQuote, error) {
	quote, err := a.negotiator.ConsumeAccepted(ctx, quoteID, orderID)
	if err != nil {
		return nil, err
	}
	return &port.AgreedQuote{
		QuoteID:        quote.ID,
		BuyerID:        quote.BuyerID,
		SellerID:       quote.SellerID,
		ComponentID:    quote.ComponentID,
		Quantity:       quote.Quantity,
		UnitPriceMinor: quote.UnitPriceMinor,
	}, nil
}
