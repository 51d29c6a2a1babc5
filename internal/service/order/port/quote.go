package port

import (
	"context"
)

// AgreedQuote 是协商成交的结果，用于构造订单。
type AgreedQuote struct {
	QuoteID        string
	BuyerID        string
	SellerID       string
	ComponentID    string
	Quantity       int64
	UnitPriceMinor int64
}

// QuoteService 是大宗询价机的出站端口。
type QuoteService interface {
	// ConsumeAccepted 把 accepted 的报价兑换给订单，每个报价只能兑换一次。
	ConsumeAccepted(ctx context.Context, quoteID, orderID string) (*AgreedQuote, error)
}

// Pricer 为普通订单计算单价和税额（最小货币单位）。
type Pricer interface {
	PriceOrder(ctx context.Context, componentID string, quantity int64) (unitMinor, taxMinor int64, err error)

	// TaxOn 对给定的小计金额计算税额，报价兑换的订单用它补税。
	TaxOn(ctx context.Context, subtotalMinor int64) (int64, error)
}
