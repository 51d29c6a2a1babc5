// internal/service/order/application/dto.go
package application

import "circuitbay/internal/service/order/domain"

// CreateOrderRequest 是创建订单用例的输入数据。
// QuoteID 非空时表示由 accepted 的大宗报价兑换，价格与数量以报价为准。
type CreateOrderRequest struct {
	BuyerID     string         `json:"buyerId"`
	SellerID    string         `json:"sellerId"`
	ComponentID string         `json:"componentId"`
	Quantity    int64          `json:"quantity"`
	Address     domain.Address `json:"address"`
	QuoteID     string         `json:"quoteId,omitempty"`
	Method      string         `json:"method,omitempty"`
}

// CreateOrderResponse 是创建订单用例的输出数据。
type CreateOrderResponse struct {
	OrderID     string        `json:"orderId"`
	OrderNumber string        `json:"orderNumber"`
	Status      domain.Status `json:"status"`
	IsBulkOrder bool          `json:"isBulkOrder"`
	TotalMinor  int64         `json:"totalMinor"`
	PayURL      string        `json:"payUrl,omitempty"`
	Message     string        `json:"message"`
}

// TransitionRequest 请求推进订单状态。
type TransitionRequest struct {
	OrderID string        `json:"orderId"`
	Target  domain.Status `json:"target"`
}

// AttachTrackingRequest 为已发货订单挂运单。
type AttachTrackingRequest struct {
	OrderID        string `json:"orderId"`
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"trackingNumber"`
}

// CancelRequest 买家主动取消订单。
type CancelRequest struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}
